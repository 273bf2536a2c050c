// Package mempool implements the shared mempool collaborator named in
// spec.md §6: alloc(len)/free(segment), backed by size-bucketed
// sync.Pools. It may be shared across connections — its own
// synchronization is opaque to callers, per spec.md §5.
//
// Segments are returned as owned handles (Segment) rather than bare
// []byte so every error-handling path can unambiguously release what
// it claimed, per spec.md §9's note on exhaustive cleanup.
package mempool

import "sync"

// bucket sizes, smallest to largest. Table-driven so new tiers can be
// added without touching call sites, generalized from the teacher's
// four hardcoded buckets (128KB/256KB/512KB/1MB) to also cover the
// smaller header/segment-sized allocations this transport needs.
var bucketSizes = []int{
	4 * 1024,
	16 * 1024,
	64 * 1024,
	256 * 1024,
	1024 * 1024,
}

var pools = func() []sync.Pool {
	p := make([]sync.Pool, len(bucketSizes))
	for i, size := range bucketSizes {
		size := size
		p[i] = sync.Pool{New: func() any { b := make([]byte, size); return &b }}
	}
	return p
}()

// Segment is an owned handle to a pooled buffer. The zero Segment holds
// no buffer and Free ignores it; apart from that, only values returned
// from Pool.Alloc may be passed to Free.
type Segment struct {
	Buf    []byte
	bucket int // index into bucketSizes/pools, -1 for an unpooled allocation
}

// Pool is the mempool collaborator. The zero value is a ready,
// always-enabled pool; Disable makes every subsequent Alloc fail with
// NO_BUFS, modeling an exhausted or administratively disabled pool.
type Pool struct {
	disabled bool
}

// Disable turns off allocation, so NO_BUFS-handling paths can be
// exercised without actually exhausting memory.
func (p *Pool) Disable() { p.disabled = true }

// Enable reverses Disable.
func (p *Pool) Enable() { p.disabled = false }

// Alloc returns a Segment of at least the requested length. ok is false
// if the pool is disabled; the caller must report NO_BUFS and must not
// use the returned (zero) Segment.
func (p *Pool) Alloc(length int) (seg Segment, ok bool) {
	if p.disabled {
		return Segment{}, false
	}
	bucket := bucketFor(length)
	if bucket < 0 {
		return Segment{Buf: make([]byte, length), bucket: -1}, true
	}
	buf := (*pools[bucket].Get().(*[]byte))[:length]
	return Segment{Buf: buf, bucket: bucket}, true
}

// Free returns a segment's backing buffer to its pool. Passing the zero
// Segment, or an unpooled Segment (one larger than the biggest bucket),
// is a no-op.
func (p *Pool) Free(s Segment) {
	if s.bucket < 0 || s.Buf == nil {
		return
	}
	full := s.Buf[:bucketSizes[s.bucket]]
	pools[s.bucket].Put(&full)
}

func bucketFor(length int) int {
	for i, size := range bucketSizes {
		if length <= size {
			return i
		}
	}
	return -1
}
