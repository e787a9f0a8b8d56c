package lazylink

import (
	"strconv"
	"sync/atomic"
)

type (
	// SymbolRef names an export either by symbol name or, when Name is empty, by ordinal.
	SymbolRef struct {
		Name      string
		Ordinal   int
		byOrdinal bool
	}
	// ExportTable is the immutable export table of a loaded module.
	// A zero address counts as absent.
	ExportTable interface {
		Lookup(ref SymbolRef) (Sym, bool)
	}
	// UsageTable describes how each metadata usage of a module is constructed.
	//
	// Construct runs at most once per index. It may resolve methods and usages of
	// the same or other modules through deps, but must not start goroutines that do
	// so, nor call the Registry directly: only resolutions made through deps take
	// part in cycle detection.
	UsageTable interface {
		Len() int
		Construct(deps *Deps, idx int) (any, error)
	}
	// ModuleSpec is what the loader knows about a module when registering it.
	ModuleSpec struct {
		ID         string
		Exports    ExportTable
		MethodRefs []SymbolRef // method ref index -> export symbol
		Usages     UsageTable  // nil when the module declares no usages
		CallSites  []LutEntry  // fixup index -> (call helper address, method ref)
		OnLoad     func()      // run once after registration
	}
	// Module is a registered module and its slot storage.
	Module struct {
		id        string
		exports   ExportTable
		refs      []SymbolRef
		usageDesc UsageTable
		sites     []LutEntry
		methods   *slotTable[Sym]
		usages    *slotTable[any]
		fixups    []atomic.Uintptr
	}
)

// Ref returns a SymbolRef by name.
func Ref(name string) SymbolRef {
	return SymbolRef{Name: name}
}

// Ordinal returns a SymbolRef by ordinal.
func Ordinal(n int) SymbolRef {
	return SymbolRef{Ordinal: n, byOrdinal: true}
}

// IsZero reports an empty reference, Ordinal(0) is not.
func (r SymbolRef) IsZero() bool {
	return r.Name == "" && r.Ordinal == 0 && !r.byOrdinal
}

func (r SymbolRef) String() string {
	if r.Name != "" {
		return r.Name
	}
	return "#" + strconv.Itoa(r.Ordinal)
}

func newModule(spec ModuleSpec) *Module {
	m := &Module{
		id:        spec.ID,
		exports:   spec.Exports,
		refs:      spec.MethodRefs,
		usageDesc: spec.Usages,
		sites:     spec.CallSites,
		methods:   newSlotTable[Sym](len(spec.MethodRefs)),
		fixups:    make([]atomic.Uintptr, len(spec.CallSites)),
	}
	n := 0
	if spec.Usages != nil {
		n = spec.Usages.Len()
	}
	m.usages = newSlotTable[any](n)
	return m
}

// ID of the module.
func (m *Module) ID() string {
	return m.id
}

// MethodCount is the declared number of method references.
func (m *Module) MethodCount() int {
	return m.methods.Len()
}

// UsageCount is the declared number of metadata usages.
func (m *Module) UsageCount() int {
	return m.usages.Len()
}

// MethodState reports the state of a method slot without allocating it.
func (m *Module) MethodState(idx int) State {
	if idx < 0 || idx >= m.methods.Len() {
		return Unresolved
	}
	if s := m.methods.peek(idx); s != nil {
		return s.State()
	}
	return Unresolved
}

// UsageState reports the state of a usage slot without allocating it.
func (m *Module) UsageState(idx int) State {
	if idx < 0 || idx >= m.usages.Len() {
		return Unresolved
	}
	if s := m.usages.peek(idx); s != nil {
		return s.State()
	}
	return Unresolved
}

// Fixup returns the patched target of a call site, zero while it still routes through the prestub.
func (m *Module) Fixup(site int) Sym {
	if site < 0 || site >= len(m.fixups) {
		return 0
	}
	return Sym(m.fixups[site].Load())
}
