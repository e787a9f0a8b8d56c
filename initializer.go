package lazylink

import (
	"fmt"

	"go.uber.org/zap"
)

// Deps is handed to a UsageTable constructor. Resolutions made through it belong to
// the constructor's session, so a usage that depends on itself fails with
// KindCyclicInitialization instead of deadlocking.
type Deps struct {
	r   *Registry
	m   *Module
	idx int
	ss  *session
}

// Module under construction.
func (d *Deps) Module() *Module {
	return d.m
}

// Index of the usage under construction.
func (d *Deps) Index() int {
	return d.idx
}

// Method resolves a method reference of the same module.
func (d *Deps) Method(idx int) (Sym, error) {
	return d.r.resolve(d.m, idx, d.ss)
}

// Usage initializes another usage of the same module.
func (d *Deps) Usage(idx int) (any, error) {
	return d.r.initialize(d.m, idx, d.ss)
}

// MethodOf resolves a method reference of module modID.
func (d *Deps) MethodOf(modID string, idx int) (Sym, error) {
	m, err := d.r.module(modID, idx, false)
	if err != nil {
		return 0, err
	}
	return d.r.resolve(m, idx, d.ss)
}

// UsageOf initializes a usage of module modID, a cycle through other modules
// fails like one inside the module.
func (d *Deps) UsageOf(modID string, idx int) (any, error) {
	m, err := d.r.module(modID, idx, true)
	if err != nil {
		return nil, err
	}
	return d.r.initialize(m, idx, d.ss)
}

// InitializeMethod returns the constructed value of metadata usage idx of module modID,
// constructing it on first use only.
func (r *Registry) InitializeMethod(modID string, idx int) (any, error) {
	m, err := r.module(modID, idx, true)
	if err != nil {
		return nil, err
	}
	return r.initialize(m, idx, nil)
}

func (r *Registry) initialize(m *Module, idx int, ss *session) (any, error) {
	if idx < 0 || idx >= m.usages.Len() {
		return nil, &ResolutionError{Kind: KindInvalidReference, Module: m.id, Index: idx, Usage: true}
	}
	s := m.usages.getOrCreate(idx)
	if v, err, ok := s.load(); ok {
		return v, err
	}
	if ss == nil {
		ss = new(session)
	}
	if !s.tryBegin(ss) {
		r.metrics.waits.WithLabelValues(kindUsage).Inc()
		v, err, cyclic := s.wait(ss)
		if cyclic {
			r.log.Debug("initialization cycle", modField(m), zap.Int("index", idx))
			return nil, &ResolutionError{Kind: KindCyclicInitialization, Module: m.id, Index: idx, Usage: true}
		}
		return v, err
	}
	v, err := construct(m.usageDesc, &Deps{r: r, m: m, idx: idx, ss: ss}, idx)
	if err != nil {
		kind := KindOf(err)
		if kind == "" || kind == KindInvalidReference {
			kind = KindConstructionFailed
		}
		re := &ResolutionError{Kind: kind, Module: m.id, Index: idx, Usage: true, Cause: err}
		s.fail(re)
		r.metrics.resolutions.WithLabelValues(kindUsage, resultFailed).Inc()
		logFailure(r.log, m, kindUsage, idx, re)
		return nil, re
	}
	s.complete(v)
	r.metrics.resolutions.WithLabelValues(kindUsage, resultResolved).Inc()
	r.log.Debug("usage initialized", modField(m), zap.Int("index", idx))
	return v, nil
}

func construct(t UsageTable, d *Deps, idx int) (v any, err error) {
	defer func() {
		if x := recover(); x != nil {
			v, err = nil, fmt.Errorf("usage constructor panic: %v", x)
		}
	}()
	return t.Construct(d, idx)
}
