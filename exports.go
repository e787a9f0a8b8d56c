package lazylink

type (
	// Exports is an export table keyed by symbol name.
	Exports map[string]Sym
	// OrdinalExports is an export table keyed by ordinal, zero entries are absent.
	OrdinalExports []Sym
	// ExportFunc adapts a lookup function to ExportTable.
	ExportFunc func(ref SymbolRef) (Sym, bool)
)

func (e Exports) Lookup(ref SymbolRef) (Sym, bool) {
	if ref.Name == "" {
		return 0, false
	}
	s, ok := e[ref.Name]
	return s, ok
}

func (e OrdinalExports) Lookup(ref SymbolRef) (Sym, bool) {
	if ref.Name != "" || ref.Ordinal < 0 || ref.Ordinal >= len(e) {
		return 0, false
	}
	s := e[ref.Ordinal]
	return s, s != 0
}

func (f ExportFunc) Lookup(ref SymbolRef) (Sym, bool) {
	return f(ref)
}

// Chain looks a reference up in each table in order.
func Chain(tables ...ExportTable) ExportTable {
	return ExportFunc(func(ref SymbolRef) (Sym, bool) {
		for _, t := range tables {
			if s, ok := t.Lookup(ref); ok {
				return s, true
			}
		}
		return 0, false
	})
}
