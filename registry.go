package lazylink

import (
	"fmt"
	"slices"
	"sync"

	"github.com/ZenLiuCN/fn"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type (
	// Registry is the process-wide table of loaded modules and their slot tables.
	//
	// Loading and unloading take the write lock; resolution only reads the
	// module map and then works on per-slot state.
	Registry struct {
		mu      sync.RWMutex
		modules map[string]*Module
		lut     importLut

		log     *zap.Logger
		metrics *metrics
		patcher Patcher
		missing MissingMethodFunc
	}
	// Option configures a Registry.
	Option func(*config)
	config struct {
		log     *zap.Logger
		reg     prometheus.Registerer
		patcher Patcher
		missing MissingMethodFunc
		debug   bool
	}
)

// WithLogger sets the logger, the default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(c *config) { c.log = l }
}

// WithMetrics registers the registry counters with reg. Registries given the same
// reg report into the same counters.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(c *config) { c.reg = reg }
}

// WithPatcher sets how the prestub patches call sites, the default never patches.
func WithPatcher(p Patcher) Option {
	return func(c *config) { c.patcher = p }
}

// WithMissingMethod sets the host's missing-method facility used by the prestub.
func WithMissingMethod(f MissingMethodFunc) Option {
	return func(c *config) { c.missing = f }
}

// WithDebug enables a development logger when no logger was given.
func WithDebug(debug bool) Option {
	return func(c *config) { c.debug = debug }
}

// NewRegistry creates an empty registry.
func NewRegistry(opts ...Option) *Registry {
	c := config{}
	for _, o := range opts {
		o(&c)
	}
	if c.log == nil {
		if c.debug {
			c.log = fn.Panic1(zap.NewDevelopment())
		} else {
			c.log = zap.NewNop()
		}
	}
	if c.patcher == nil {
		c.patcher = NopPatcher{}
	}
	if c.missing == nil {
		c.missing = PanicMissingMethod
	}
	return &Registry{
		modules: make(map[string]*Module),
		log:     c.log,
		metrics: newMetrics(c.reg),
		patcher: c.patcher,
		missing: c.missing,
	}
}

// Load registers a module. Every slot of the module starts Unresolved and every
// call site routes through the prestub.
func (r *Registry) Load(spec ModuleSpec) (m *Module, err error) {
	if spec.ID == "" {
		return nil, fmt.Errorf("load module: empty id")
	}
	if spec.Exports == nil {
		spec.Exports = Exports(nil)
	}
	for i, site := range spec.CallSites {
		if site.MethodRef < 0 || site.MethodRef >= len(spec.MethodRefs) {
			return nil, &ResolutionError{Kind: KindInvalidReference, Module: spec.ID, Index: site.MethodRef,
				Cause: fmt.Errorf("call site %d", i)}
		}
	}
	m = newModule(spec)
	r.mu.Lock()
	if _, ok := r.modules[spec.ID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrAlreadyLoaded, spec.ID)
	}
	if err = r.lut.insert(m); err != nil {
		r.mu.Unlock()
		return nil, err
	}
	r.modules[spec.ID] = m
	r.mu.Unlock()
	r.metrics.modules.Inc()
	r.log.Debug("module loaded",
		modField(m),
		zap.Int("methods", m.MethodCount()),
		zap.Int("usages", m.UsageCount()),
		zap.Int("call_sites", len(m.sites)))
	if spec.OnLoad != nil {
		spec.OnLoad()
	}
	return
}

// Unload removes a module, its call sites and its slot storage.
func (r *Registry) Unload(id string) error {
	r.mu.Lock()
	m, ok := r.modules[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrModuleNotLoaded, id)
	}
	delete(r.modules, id)
	r.lut.remove(m)
	r.mu.Unlock()
	r.metrics.modules.Dec()
	r.log.Debug("module unloaded", modField(m))
	return nil
}

// Reset unloads every module.
func (r *Registry) Reset() {
	for _, id := range r.Modules() {
		_ = r.Unload(id)
	}
}

// Module returns a loaded module.
func (r *Registry) Module(id string) (m *Module, ok bool) {
	r.mu.RLock()
	m, ok = r.modules[id]
	r.mu.RUnlock()
	return
}

// Modules returns the sorted ids of loaded modules.
func (r *Registry) Modules() []string {
	r.mu.RLock()
	ids := fn.MapKeys(r.modules)
	r.mu.RUnlock()
	slices.Sort(ids)
	return ids
}

func (r *Registry) module(id string, idx int, usage bool) (*Module, error) {
	m, ok := r.Module(id)
	if !ok {
		return nil, &ResolutionError{Kind: KindInvalidReference, Module: id, Index: idx, Usage: usage, Cause: ErrModuleNotLoaded}
	}
	return m, nil
}

// importLut maps call helper addresses to their call site, sorted by address.
type importLut struct {
	ptrs []Sym
	data []lutRef
}

type lutRef struct {
	mod   *Module
	fixup int
	ref   int
}

func (l *importLut) insert(m *Module) error {
	ptrs := slices.Clone(l.ptrs)
	data := slices.Clone(l.data)
	for i, site := range m.sites {
		at, found := slices.BinarySearch(ptrs, site.Fn)
		if found {
			return fmt.Errorf("%w: %s call site %d at %#x", ErrDuplicateCallSite, m.id, i, uintptr(site.Fn))
		}
		ptrs = slices.Insert(ptrs, at, site.Fn)
		data = slices.Insert(data, at, lutRef{mod: m, fixup: i, ref: site.MethodRef})
	}
	l.ptrs, l.data = ptrs, data
	return nil
}

func (l *importLut) remove(m *Module) {
	n := 0
	for i := range l.data {
		if l.data[i].mod == m {
			continue
		}
		l.ptrs[n], l.data[n] = l.ptrs[i], l.data[i]
		n++
	}
	clear(l.data[n:])
	l.ptrs, l.data = l.ptrs[:n], l.data[:n]
}

func (l *importLut) find(helper Sym) (lutRef, bool) {
	at, found := slices.BinarySearch(l.ptrs, helper)
	if !found {
		return lutRef{}, false
	}
	return l.data[at], true
}
