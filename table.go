package lazylink

import (
	"sync/atomic"
)

const (
	pageShift = 6
	pageSize  = 1 << pageShift
	pageMask  = pageSize - 1
)

type page[T any] [pageSize]atomic.Pointer[slot[T]]

// slotTable is the append-only slot storage of one module. Pages and slots are
// allocated on first touch with CAS, so distinct indices never contend.
type slotTable[T any] struct {
	pages []atomic.Pointer[page[T]]
	size  int
}

func newSlotTable[T any](size int) *slotTable[T] {
	return &slotTable[T]{
		pages: make([]atomic.Pointer[page[T]], (size+pageMask)>>pageShift),
		size:  size,
	}
}

// Len is the declared slot count.
func (t *slotTable[T]) Len() int {
	return t.size
}

// getOrCreate returns the slot at idx, which must be in [0, Len()).
func (t *slotTable[T]) getOrCreate(idx int) *slot[T] {
	pp := &t.pages[idx>>pageShift]
	p := pp.Load()
	if p == nil {
		p = new(page[T])
		if !pp.CompareAndSwap(nil, p) {
			p = pp.Load()
		}
	}
	sp := &p[idx&pageMask]
	s := sp.Load()
	if s == nil {
		s = newSlot[T]()
		if !sp.CompareAndSwap(nil, s) {
			s = sp.Load()
		}
	}
	return s
}

// peek returns the slot at idx without allocating it.
func (t *slotTable[T]) peek(idx int) *slot[T] {
	p := t.pages[idx>>pageShift].Load()
	if p == nil {
		return nil
	}
	return p[idx&pageMask].Load()
}

// each calls f for every allocated slot in index order.
func (t *slotTable[T]) each(f func(idx int, s *slot[T])) {
	for pi := range t.pages {
		p := t.pages[pi].Load()
		if p == nil {
			continue
		}
		for i := range p {
			if s := p[i].Load(); s != nil {
				f(pi<<pageShift|i, s)
			}
		}
	}
}
