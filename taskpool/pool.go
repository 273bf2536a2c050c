package taskpool

// Pool is a per-connection, pre-sized free-list of *Task plus an
// ltid -> *Task index, implementing the task pool collaborator named
// in spec.md §6 (alloc/release/lookup_by_ltid). ltid assignment is
// simply the task's slot index in the backing array, so lookup is a
// direct slice index rather than a map probe.
type Pool struct {
	tasks []Task
	free  []uint16
}

// NewPool allocates a pool of the given fixed size. size must not
// exceed spec.md's transport identifier space (65536); it is fixed when
// the pool is created and does not change afterwards.
func NewPool(size int) *Pool {
	p := &Pool{
		tasks: make([]Task, size),
		free:  make([]uint16, size),
	}
	for i := 0; i < size; i++ {
		p.free[i] = uint16(size - 1 - i)
	}
	return p
}

// Len returns the pool's fixed capacity.
func (p *Pool) Len() int { return len(p.tasks) }

// Avail returns the number of tasks currently free.
func (p *Pool) Avail() int { return len(p.free) }

// Alloc removes a task from the free list, assigns it an ltid, and
// returns it ready for use. ok is false if the pool is exhausted; the
// caller must report NO_BUFS per spec.md §4.3/§7.
func (p *Pool) Alloc() (*Task, bool) {
	if len(p.free) == 0 {
		return nil, false
	}
	n := len(p.free) - 1
	ltid := p.free[n]
	p.free = p.free[:n]

	t := &p.tasks[ltid]
	t.reset()
	t.Ltid = ltid
	t.inUse = true
	return t, true
}

// Release returns a task to the free list. Releasing a task that is
// not currently in use (for example a double release) panics —
// this is a programming error in the datapath's list bookkeeping, not
// a recoverable runtime condition.
func (p *Pool) Release(t *Task) {
	if !t.inUse {
		panic("taskpool: release of task not in use")
	}
	if t.owner != nil {
		t.owner.remove(t)
	}
	t.inUse = false
	t.kind = ListNone
	p.free = append(p.free, t.Ltid)
}

// LookupByLtid resolves a local task id back to its *Task, used to
// recover the sender_task back-reference by rtid per spec.md §3/§9: the
// reference is never retained across a release, only looked up fresh
// each time it's needed.
func (p *Pool) LookupByLtid(ltid uint16) (*Task, bool) {
	if int(ltid) >= len(p.tasks) {
		return nil, false
	}
	t := &p.tasks[ltid]
	if !t.inUse {
		return nil, false
	}
	return t, true
}
