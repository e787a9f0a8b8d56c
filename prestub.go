package lazylink

import (
	"fmt"
	"reflect"

	"go.uber.org/zap"
)

type (
	// CallSite identifies an unbound call site by module id and fixup index.
	CallSite struct {
		Module string
		Fixup  int
	}
	// Patcher rewrites a call site so later calls bypass the prestub.
	Patcher interface {
		Patch(m *Module, fixup int, target Sym) bool
	}
	// NopPatcher never patches, every call re-enters the prestub and hits the cached slot.
	NopPatcher struct{}
	// FixupPatcher stores the resolved target into the module's fixup table.
	FixupPatcher struct{}
	// MissingMethodFunc is the host's missing-method facility. It must not return normally.
	MissingMethodFunc func(site CallSite, err error)
	// Prestub is the landing point of call sites that are not bound yet.
	Prestub struct {
		r *Registry
	}
	// MissingMethodError is raised by PanicMissingMethod.
	MissingMethodError struct {
		Site CallSite
		Err  error
	}
)

func (NopPatcher) Patch(*Module, int, Sym) bool {
	return false
}

func (FixupPatcher) Patch(m *Module, fixup int, target Sym) bool {
	if fixup < 0 || fixup >= len(m.fixups) {
		return false
	}
	return m.fixups[fixup].CompareAndSwap(0, uintptr(target))
}

func (e *MissingMethodError) Error() string {
	return fmt.Sprintf("missing method at %s call site %d: %v", e.Site.Module, e.Site.Fixup, e.Err)
}

func (e *MissingMethodError) Unwrap() error {
	return e.Err
}

// PanicMissingMethod is the default missing-method facility, it panics with a *MissingMethodError.
func PanicMissingMethod(site CallSite, err error) {
	panic(&MissingMethodError{Site: site, Err: err})
}

// Prestub returns the trampoline bound to this registry.
func (r *Registry) Prestub() *Prestub {
	return &Prestub{r: r}
}

// Enter resolves the target of a call site. A patched call site returns its
// fixup directly. A failed resolution goes to the missing-method facility.
func (p *Prestub) Enter(site CallSite) Sym {
	m, ok := p.r.Module(site.Module)
	if !ok {
		p.raise(site, &ResolutionError{Kind: KindInvalidReference, Module: site.Module, Index: site.Fixup, Cause: ErrModuleNotLoaded})
		return 0
	}
	if site.Fixup < 0 || site.Fixup >= len(m.sites) {
		p.raise(site, &ResolutionError{Kind: KindInvalidReference, Module: site.Module, Index: site.Fixup, Cause: ErrUnknownCallSite})
		return 0
	}
	return p.enter(m, site.Fixup, m.sites[site.Fixup].MethodRef)
}

// EnterFrom resolves the target of the call site whose helper is at address helper,
// the way a call helper passes its own address to the trampoline.
func (p *Prestub) EnterFrom(helper Sym) Sym {
	p.r.mu.RLock()
	e, ok := p.r.lut.find(helper)
	p.r.mu.RUnlock()
	if !ok {
		p.raise(CallSite{}, fmt.Errorf("%w: %#x", ErrUnknownCallSite, uintptr(helper)))
		return 0
	}
	return p.enter(e.mod, e.fixup, e.ref)
}

func (p *Prestub) enter(m *Module, fixup, ref int) Sym {
	if t := m.Fixup(fixup); t != 0 {
		return t
	}
	p.r.metrics.prestub.Inc()
	t, err := p.r.resolve(m, ref, nil)
	if err != nil {
		p.raise(CallSite{Module: m.id, Fixup: fixup}, err)
		return 0
	}
	if p.r.patcher.Patch(m, fixup, t) {
		p.r.metrics.patches.Inc()
		p.r.log.Debug("call site patched", modField(m), zap.Int("fixup", fixup), zap.Uintptr("addr", uintptr(t)))
	}
	return t
}

func (p *Prestub) raise(site CallSite, err error) {
	p.r.log.Warn("missing method", zap.String("module", site.Module), zap.Int("fixup", site.Fixup), zap.Error(err))
	p.r.missing(site, err)
}

// Call returns the target of a call site as F, ready to be invoked with the call's arguments.
func Call[F any](p *Prestub, site CallSite) F {
	return As[F](p.Enter(site))
}

// Stub returns a function of type F that stands in for a call site: every call
// enters the prestub (or its patched fixup) and tail calls the resolved target
// with the arguments unchanged.
func Stub[F any](p *Prestub, site CallSite) F {
	var zero F
	typ := reflect.TypeOf(&zero).Elem()
	if typ.Kind() != reflect.Func {
		panic(fmt.Errorf("stub of non func type %s", typ))
	}
	f := reflect.MakeFunc(typ, func(args []reflect.Value) []reflect.Value {
		target := As[F](p.Enter(site))
		if typ.IsVariadic() {
			return reflect.ValueOf(target).CallSlice(args)
		}
		return reflect.ValueOf(target).Call(args)
	})
	return f.Interface().(F)
}

// Use creates a function to enter a call site and use its target on the fly,
// a missing method is passed to f as an error instead of panicking.
func Use[F any](p *Prestub, site CallSite) func(func(f F, err error)) {
	return func(f func(f F, err error)) {
		var x F
		defer func() {
			switch y := recover().(type) {
			case nil:
				f(x, nil)
			case error:
				f(x, y)
			default:
				f(x, fmt.Errorf("%v", y))
			}
		}()
		x = Call[F](p, site)
	}
}
