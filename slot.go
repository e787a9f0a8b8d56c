package lazylink

import (
	"sync/atomic"
)

// State of a lazily resolved slot.
type State uint32

const (
	Unresolved State = iota
	Resolving
	Resolved
	Failed
)

func (s State) String() string {
	switch s {
	case Unresolved:
		return "unresolved"
	case Resolving:
		return "resolving"
	case Resolved:
		return "resolved"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// maxChainWalk bounds the wait-for chain walk of cycle detection.
const maxChainWalk = 1 << 16

// slot is one lazily resolved entry. The owner CAS decides the single winner,
// value and err are written before the terminal state is stored and done is closed.
type slot[T any] struct {
	state atomic.Uint32
	owner atomic.Pointer[session]
	value T
	err   error
	done  chan struct{}
}

func newSlot[T any]() *slot[T] {
	return &slot[T]{done: make(chan struct{})}
}

// State returns the current state of the slot.
func (s *slot[T]) State() State {
	return State(s.state.Load())
}

// tryBegin claims the slot for ss. Exactly one caller per slot wins.
func (s *slot[T]) tryBegin(ss *session) bool {
	if !s.owner.CompareAndSwap(nil, ss) {
		return false
	}
	s.state.Store(uint32(Resolving))
	return true
}

func (s *slot[T]) complete(v T) {
	s.value = v
	s.state.Store(uint32(Resolved))
	close(s.done)
}

func (s *slot[T]) fail(err error) {
	s.err = err
	s.state.Store(uint32(Failed))
	close(s.done)
}

// load returns the published result, ok is false while the slot is not terminal.
func (s *slot[T]) load() (v T, err error, ok bool) {
	switch State(s.state.Load()) {
	case Resolved:
		return s.value, nil, true
	case Failed:
		return v, s.err, true
	}
	return v, nil, false
}

// wait blocks ss until the slot is terminal. It returns cyclic when waiting
// would close a wait-for cycle through ss instead of blocking.
func (s *slot[T]) wait(ss *session) (v T, err error, cyclic bool) {
	if v, err, ok := s.load(); ok {
		return v, err, false
	}
	ss.waitingOn.Store(&waitEdge{owner: s.owner.Load, done: s.done})
	defer ss.waitingOn.Store(nil)
	if ss.reaches(s.owner.Load()) {
		select {
		case <-s.done:
		default:
			return v, nil, true
		}
	}
	<-s.done
	v, err, _ = s.load()
	return
}

// waitEdge records the slot a session is blocked on.
type waitEdge struct {
	owner func() *session
	done  chan struct{}
}

// session is one chain of nested resolutions running on a single goroutine.
// Constructors that call back into Deps extend the same session.
type session struct {
	waitingOn atomic.Pointer[waitEdge]
}

// reaches reports whether following owner -> waiting slot -> owner ... from o
// arrives back at ss. o == ss covers direct re-entry on one goroutine.
func (ss *session) reaches(o *session) bool {
	for i := 0; o != nil && i < maxChainWalk; i++ {
		if o == ss {
			return true
		}
		e := o.waitingOn.Load()
		if e == nil {
			return false
		}
		select {
		case <-e.done:
			return false
		default:
		}
		o = e.owner()
	}
	return false
}
