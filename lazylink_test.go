package lazylink

import (
	"sync/atomic"
	"testing"
	"time"
)

const (
	modM1       = "m1"
	symMethod3  = "m1.Method3"
	symMethod7  = "m1.Method7"
	addrMethod3 = Sym(0xABCD)
)

// countingExports counts lookups and optionally blocks them until gate is closed.
type countingExports struct {
	Exports
	calls atomic.Int32
	gate  chan struct{}
}

func (c *countingExports) Lookup(ref SymbolRef) (Sym, bool) {
	c.calls.Add(1)
	if c.gate != nil {
		<-c.gate
	}
	return c.Exports.Lookup(ref)
}

func m1Refs() []SymbolRef {
	refs := make([]SymbolRef, 8)
	for i := range refs {
		refs[i] = Ordinal(100 + i)
	}
	refs[3] = Ref(symMethod3)
	refs[7] = Ref(symMethod7)
	return refs
}

func loadM1(t testing.TB, r *Registry, gate chan struct{}) (*Module, *countingExports) {
	t.Helper()
	ex := &countingExports{Exports: Exports{symMethod3: addrMethod3}, gate: gate}
	m, err := r.Load(ModuleSpec{ID: modM1, Exports: ex, MethodRefs: m1Refs()})
	if err != nil {
		t.Fatalf("Load() error %v", err)
	}
	return m, ex
}

// within fails the test when f does not return before d.
func within(t *testing.T, d time.Duration, f func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		defer close(done)
		f()
	}()
	select {
	case <-done:
	case <-time.After(d):
		t.Fatalf("did not terminate within %s", d)
	}
}
