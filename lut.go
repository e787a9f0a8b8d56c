package lazylink

import (
	"fmt"
)

// LutEntry pairs a native function address with the method reference it answers.
type LutEntry struct {
	Fn        Sym
	MethodRef int
}

func (e LutEntry) String() string {
	return fmt.Sprintf("%#x => %d", uintptr(e.Fn), e.MethodRef)
}

// Snapshot returns the resolved method slots of the module in index order.
// Unresolved, in-flight and failed slots are left out.
func (m *Module) Snapshot() (v []LutEntry) {
	m.methods.each(func(idx int, s *slot[Sym]) {
		if p, err, ok := s.load(); ok && err == nil {
			v = append(v, LutEntry{Fn: p, MethodRef: idx})
		}
	})
	return
}

// DispatchTable returns one address per method reference, zero where the slot is not
// resolved, for building a direct dispatch array ahead of time.
func (m *Module) DispatchTable() []Sym {
	v := make([]Sym, m.methods.Len())
	for _, e := range m.Snapshot() {
		v[e.MethodRef] = e.Fn
	}
	return v
}

// Failures returns the cached errors of failed method and usage slots.
func (m *Module) Failures() (v []error) {
	m.methods.each(func(_ int, s *slot[Sym]) {
		if _, err, ok := s.load(); ok && err != nil {
			v = append(v, err)
		}
	})
	m.usages.each(func(_ int, s *slot[any]) {
		if _, err, ok := s.load(); ok && err != nil {
			v = append(v, err)
		}
	})
	return
}

// CallSites returns the call-site table the module was loaded with.
func (m *Module) CallSites() []LutEntry {
	return m.sites
}
