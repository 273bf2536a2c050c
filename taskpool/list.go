package taskpool

// List is an intrusive doubly-linked list of *Task: membership is
// carried on the Task itself (next/prev/owner), so moving a task
// between a connection's lists never allocates. A Task belongs to at
// most one List at a time — PushBack unlinks it from wherever it
// currently lives first, enforcing the "exactly one list" invariant
// of spec.md §3 at the data-structure level rather than by convention.
type List struct {
	kind       ListKind
	head, tail *Task
	length     int
}

// NewList constructs an empty list tagged with kind, the value Task.
// ListKind() reports for members of this list.
func NewList(kind ListKind) *List {
	return &List{kind: kind}
}

// Len returns the number of tasks currently in the list.
func (l *List) Len() int { return l.length }

// Front returns the head of the list without removing it.
func (l *List) Front() (*Task, bool) {
	if l.head == nil {
		return nil, false
	}
	return l.head, true
}

// PushBack appends t to the list, first removing it from whatever
// list (including this one) it currently belongs to.
func (l *List) PushBack(t *Task) {
	if t.owner != nil {
		t.owner.remove(t)
	}
	t.prev = l.tail
	t.next = nil
	if l.tail != nil {
		l.tail.next = t
	} else {
		l.head = t
	}
	l.tail = t
	t.owner = l
	t.kind = l.kind
	l.length++
}

// Remove unlinks t from the list. It is a no-op if t does not
// currently belong to this list.
func (l *List) Remove(t *Task) {
	if t.owner != l {
		return
	}
	l.remove(t)
}

func (l *List) remove(t *Task) {
	if t.prev != nil {
		t.prev.next = t.next
	} else {
		l.head = t.next
	}
	if t.next != nil {
		t.next.prev = t.prev
	} else {
		l.tail = t.prev
	}
	t.next, t.prev, t.owner = nil, nil, nil
	t.kind = ListNone
	l.length--
}

// PopFront removes and returns the head of the list.
func (l *List) PopFront() (*Task, bool) {
	t := l.head
	if t == nil {
		return nil, false
	}
	l.remove(t)
	return t, true
}

// Each calls fn for every task currently in the list, in order. fn
// must not mutate list membership (Push/Remove) while iterating.
func (l *List) Each(fn func(*Task)) {
	for t := l.head; t != nil; t = t.next {
		fn(t)
	}
}
