package lazylink

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type typeHandle struct {
	name string
	ctor Sym
	dict any
}

func TestInitializeMethod(t *testing.T) {
	r := NewRegistry()
	var builds atomic.Int32
	fnLoad(t, r, ModuleSpec{
		ID:         "usages",
		Exports:    Exports{"T..ctor": 0x42},
		MethodRefs: []SymbolRef{Ref("T..ctor")},
		Usages: Usages{
			{Build: func([]Sym, []any) (any, error) {
				builds.Add(1)
				return "dictionary", nil
			}},
			{Methods: []int{0}, Usages: []int{0}, Build: func(m []Sym, u []any) (any, error) {
				builds.Add(1)
				return &typeHandle{name: "T", ctor: m[0], dict: u[0]}, nil
			}},
			{Methods: []int{0}, Usages: []int{1}},
		},
	})
	v, err := r.InitializeMethod("usages", 1)
	if err != nil {
		t.Fatalf("InitializeMethod() error %v", err)
	}
	h := v.(*typeHandle)
	if h.ctor != 0x42 || h.dict != "dictionary" {
		t.Fatalf("handle %+v", h)
	}
	v2, err := r.InitializeMethod("usages", 1)
	if err != nil || v2 != v {
		t.Fatalf("second InitializeMethod() = %v, %v", v2, err)
	}
	c, err := r.InitializeMethod("usages", 2)
	if err != nil {
		t.Fatalf("InitializeMethod(2) error %v", err)
	}
	if cc := c.(Composite); cc.Methods[0] != 0x42 || cc.Usages[0] != v {
		t.Fatalf("composite %+v", cc)
	}
	if n := builds.Load(); n != 2 {
		t.Fatalf("builds = %d, want 2", n)
	}
}

func TestInitializeMethodConcurrent(t *testing.T) {
	const callers = 50
	r := NewRegistry()
	var builds atomic.Int32
	gate := make(chan struct{})
	fnLoad(t, r, ModuleSpec{ID: "slow", Usages: UsageFunc{N: 1, F: func(*Deps, int) (any, error) {
		builds.Add(1)
		<-gate
		return &typeHandle{name: "slow"}, nil
	}}})
	var done sync.WaitGroup
	got := make([]any, callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			got[i], _ = r.InitializeMethod("slow", 0)
		}(i)
	}
	time.Sleep(20 * time.Millisecond)
	close(gate)
	within(t, 5*time.Second, done.Wait)
	for i := range got {
		if got[i] == nil || got[i] != got[0] {
			t.Fatalf("caller %d got %v", i, got[i])
		}
	}
	if n := builds.Load(); n != 1 {
		t.Fatalf("builds = %d, want 1", n)
	}
}

func TestInitializeMethodCycle(t *testing.T) {
	r := NewRegistry()
	var builds atomic.Int32
	count := func(m []Sym, u []any) (any, error) {
		builds.Add(1)
		return nil, nil
	}
	m := fnLoad(t, r, ModuleSpec{ID: "cycle", Usages: Usages{
		{Usages: []int{1}, Build: count},
		{Usages: []int{0}, Build: count},
		{Usages: []int{2}, Build: count},
	}})
	var errA, errB, errSelf error
	within(t, 5*time.Second, func() {
		_, errA = r.InitializeMethod("cycle", 0)
		_, errB = r.InitializeMethod("cycle", 1)
		_, errSelf = r.InitializeMethod("cycle", 2)
	})
	for name, err := range map[string]error{"A": errA, "B": errB, "self": errSelf} {
		if !errors.Is(err, CyclicInitialization) {
			t.Errorf("%s error %v, want %s", name, err, KindCyclicInitialization)
		}
	}
	if m.UsageState(0) != Failed || m.UsageState(1) != Failed {
		t.Fatalf("states %s %s", m.UsageState(0), m.UsageState(1))
	}
	if n := builds.Load(); n != 0 {
		t.Fatalf("builds = %d", n)
	}
	_, again := r.InitializeMethod("cycle", 0)
	if again != errA {
		t.Fatalf("repeat error %v, want identical %v", again, errA)
	}
}

func TestInitializeMethodCycleAcrossGoroutines(t *testing.T) {
	r := NewRegistry()
	owned := [2]chan struct{}{make(chan struct{}), make(chan struct{})}
	fnLoad(t, r, ModuleSpec{ID: "xcycle", Usages: UsageFunc{N: 2, F: func(d *Deps, idx int) (any, error) {
		close(owned[idx])
		<-owned[1-idx]
		return d.Usage(1 - idx)
	}}})
	errs := make([]error, 2)
	var done sync.WaitGroup
	done.Add(2)
	for i := 0; i < 2; i++ {
		go func(i int) {
			defer done.Done()
			_, errs[i] = r.InitializeMethod("xcycle", i)
		}(i)
	}
	within(t, 5*time.Second, done.Wait)
	for i, err := range errs {
		if KindOf(err) != KindCyclicInitialization {
			t.Errorf("usage %d error %v", i, err)
		}
	}
}

// loadPair loads modules a and b whose usage 0 depends on usage 0 of the other
// module and whose usage 1 is the other module's method 0.
func loadPair(t *testing.T, r *Registry, before func(self, other string)) {
	t.Helper()
	for _, p := range [][2]string{{"a", "b"}, {"b", "a"}} {
		self, other := p[0], p[1]
		fnLoad(t, r, ModuleSpec{
			ID:         self,
			Exports:    Exports{self + ".f": Sym(self[0])},
			MethodRefs: []SymbolRef{Ref(self + ".f")},
			Usages: UsageFunc{N: 2, F: func(d *Deps, idx int) (any, error) {
				if idx == 1 {
					return d.MethodOf(other, 0)
				}
				if before != nil {
					before(self, other)
				}
				return d.UsageOf(other, 0)
			}},
		})
	}
}

func TestInitializeMethodCycleAcrossModules(t *testing.T) {
	r := NewRegistry()
	loadPair(t, r, nil)
	var errA, errB error
	within(t, 5*time.Second, func() {
		_, errA = r.InitializeMethod("a", 0)
		_, errB = r.InitializeMethod("b", 0)
	})
	if KindOf(errA) != KindCyclicInitialization || KindOf(errB) != KindCyclicInitialization {
		t.Fatalf("errors %v, %v", errA, errB)
	}
	want, err := r.ResolveMethod("b", 0)
	if err != nil {
		t.Fatalf("ResolveMethod() error %v", err)
	}
	if v, err := r.InitializeMethod("a", 1); err != nil || v != want {
		t.Fatalf("InitializeMethod(a, 1) = %v, %v", v, err)
	}
	fnLoad(t, r, ModuleSpec{ID: "c", Usages: UsageFunc{N: 1, F: func(d *Deps, _ int) (any, error) {
		return d.UsageOf("absent", 0)
	}}})
	if _, err := r.InitializeMethod("c", 0); KindOf(err) != KindConstructionFailed || !errors.Is(err, ErrModuleNotLoaded) {
		t.Fatalf("InitializeMethod(c, 0) error %v", err)
	}
}

func TestInitializeMethodCycleAcrossModulesAndGoroutines(t *testing.T) {
	r := NewRegistry()
	owned := map[string]chan struct{}{"a": make(chan struct{}), "b": make(chan struct{})}
	loadPair(t, r, func(self, other string) {
		close(owned[self])
		<-owned[other]
	})
	errs := make([]error, 2)
	var done sync.WaitGroup
	done.Add(2)
	for i, id := range []string{"a", "b"} {
		go func(i int, id string) {
			defer done.Done()
			_, errs[i] = r.InitializeMethod(id, 0)
		}(i, id)
	}
	within(t, 5*time.Second, done.Wait)
	for i, err := range errs {
		if KindOf(err) != KindCyclicInitialization {
			t.Errorf("module %d error %v", i, err)
		}
	}
}

func TestInitializeMethodInnerFailure(t *testing.T) {
	r := NewRegistry()
	boom := errors.New("bad field layout")
	m := fnLoad(t, r, ModuleSpec{
		ID:         "inner",
		MethodRefs: []SymbolRef{Ref("absent")},
		Usages: Usages{
			{Methods: []int{0}},
			{Build: func([]Sym, []any) (any, error) { return nil, boom }},
			{Usages: []int{1}},
			{Usages: []int{9}},
		},
	})
	_, err := r.InitializeMethod("inner", 0)
	if KindOf(err) != KindSymbolNotFound {
		t.Fatalf("usage 0 error %v", err)
	}
	var re *ResolutionError
	errors.As(err, &re)
	if !re.Usage || re.Index != 0 || re.Cause == nil {
		t.Fatalf("usage 0 detail %+v", re)
	}
	if m.MethodState(0) != Failed {
		t.Fatalf("method state %s", m.MethodState(0))
	}
	if _, err = r.InitializeMethod("inner", 1); KindOf(err) != KindConstructionFailed || !errors.Is(err, boom) {
		t.Fatalf("usage 1 error %v", err)
	}
	if _, err = r.InitializeMethod("inner", 2); KindOf(err) != KindConstructionFailed || !errors.Is(err, boom) {
		t.Fatalf("usage 2 error %v", err)
	}
	if _, err = r.InitializeMethod("inner", 3); KindOf(err) != KindConstructionFailed || !errors.Is(err, InvalidReference) {
		t.Fatalf("usage 3 error %v", err)
	}
	if _, err = r.InitializeMethod("inner", 4); KindOf(err) != KindInvalidReference {
		t.Fatalf("usage 4 error %v", err)
	}
}

func TestInitializeMethodPanic(t *testing.T) {
	r := NewRegistry()
	calls := 0
	fnLoad(t, r, ModuleSpec{ID: "panic", Usages: UsageFunc{N: 1, F: func(*Deps, int) (any, error) {
		calls++
		panic("nil type")
	}}})
	within(t, 5*time.Second, func() {
		for i := 0; i < 2; i++ {
			if _, err := r.InitializeMethod("panic", 0); KindOf(err) != KindConstructionFailed {
				t.Errorf("InitializeMethod() error %v", err)
			}
		}
	})
	if calls != 1 {
		t.Fatalf("calls = %d", calls)
	}
}

func TestInitializeMethodNoUsages(t *testing.T) {
	r := NewRegistry()
	fnLoad(t, r, ModuleSpec{ID: "plain"})
	if _, err := r.InitializeMethod("plain", 0); !errors.Is(err, InvalidReference) {
		t.Fatalf("InitializeMethod() error %v", err)
	}
	if _, err := r.InitializeMethod("absent", 0); !errors.Is(err, ErrModuleNotLoaded) {
		t.Fatalf("InitializeMethod(absent) error %v", err)
	}
}
