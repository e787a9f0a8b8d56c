package lazylink

type (
	// Usage declares a metadata usage value built from already resolved inputs.
	Usage struct {
		Methods []int // method refs resolved before Build
		Usages  []int // usages initialized before Build
		Build   func(methods []Sym, usages []any) (any, error)
	}
	// Usages is a declarative UsageTable.
	Usages []Usage
	// UsageFunc adapts a constructor to UsageTable for n usages.
	UsageFunc struct {
		N int
		F func(deps *Deps, idx int) (any, error)
	}
)

func (u Usages) Len() int {
	return len(u)
}

func (u Usages) Construct(deps *Deps, idx int) (v any, err error) {
	d := u[idx]
	methods := make([]Sym, len(d.Methods))
	for i, ref := range d.Methods {
		if methods[i], err = deps.Method(ref); err != nil {
			return
		}
	}
	usages := make([]any, len(d.Usages))
	for i, ref := range d.Usages {
		if usages[i], err = deps.Usage(ref); err != nil {
			return
		}
	}
	if d.Build == nil {
		return Composite{Methods: methods, Usages: usages}, nil
	}
	return d.Build(methods, usages)
}

func (u UsageFunc) Len() int {
	return u.N
}

func (u UsageFunc) Construct(deps *Deps, idx int) (any, error) {
	return u.F(deps, idx)
}

// Composite is the value of a Usage without a Build function: its resolved inputs,
// such as a generic type handle together with its dictionary.
type Composite struct {
	Methods []Sym
	Usages  []any
}
