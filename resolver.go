package lazylink

import (
	"fmt"

	"go.uber.org/zap"
)

// ResolveMethod returns the native address of method reference idx of module modID,
// looking it up in the module's export table on first use only.
func (r *Registry) ResolveMethod(modID string, idx int) (Sym, error) {
	m, err := r.module(modID, idx, false)
	if err != nil {
		return 0, err
	}
	return r.resolve(m, idx, nil)
}

// ResolveModuleMethod resolves method reference idx of a module already at hand.
func (r *Registry) ResolveModuleMethod(m *Module, idx int) (Sym, error) {
	return r.resolve(m, idx, nil)
}

// resolve runs on behalf of ss, a nil ss starts a new session.
func (r *Registry) resolve(m *Module, idx int, ss *session) (Sym, error) {
	if idx < 0 || idx >= m.methods.Len() {
		return 0, &ResolutionError{Kind: KindInvalidReference, Module: m.id, Index: idx}
	}
	s := m.methods.getOrCreate(idx)
	if v, err, ok := s.load(); ok {
		return v, err
	}
	if ss == nil {
		ss = new(session)
	}
	if !s.tryBegin(ss) {
		r.metrics.waits.WithLabelValues(kindMethod).Inc()
		v, err, cyclic := s.wait(ss)
		if cyclic {
			return 0, &ResolutionError{Kind: KindCyclicInitialization, Module: m.id, Index: idx, Ref: m.refs[idx]}
		}
		return v, err
	}
	ref := m.refs[idx]
	v, ok, cause := lookup(m.exports, ref)
	if !ok {
		err := &ResolutionError{Kind: KindSymbolNotFound, Module: m.id, Index: idx, Ref: ref, Cause: cause}
		s.fail(err)
		r.metrics.resolutions.WithLabelValues(kindMethod, resultFailed).Inc()
		logFailure(r.log, m, kindMethod, idx, err)
		return 0, err
	}
	s.complete(v)
	r.metrics.resolutions.WithLabelValues(kindMethod, resultResolved).Inc()
	r.log.Debug("method resolved",
		modField(m),
		zap.Int("index", idx),
		zap.Stringer("symbol", ref),
		zap.Uintptr("addr", uintptr(v)))
	return v, nil
}

// lookup guards the export table so a panicking table fails the slot instead of leaving it Resolving.
func lookup(t ExportTable, ref SymbolRef) (v Sym, ok bool, cause error) {
	defer func() {
		if x := recover(); x != nil {
			v, ok, cause = 0, false, fmt.Errorf("%w: lookup panic: %v", ErrMissingSymbol, x)
		}
	}()
	v, ok = t.Lookup(ref)
	if ok = ok && v != 0; !ok {
		cause = ErrMissingSymbol
	}
	return
}
