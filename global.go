package lazylink

// Default is the process-wide registry: populated at module load, read by
// compiled code, torn down at unload or process exit.
var Default = NewRegistry()

// Load registers a module with the Default registry.
func Load(spec ModuleSpec) (*Module, error) {
	return Default.Load(spec)
}

// Unload removes a module from the Default registry.
func Unload(id string) error {
	return Default.Unload(id)
}

// ResolveMethod resolves a method reference through the Default registry.
func ResolveMethod(modID string, idx int) (Sym, error) {
	return Default.ResolveMethod(modID, idx)
}

// InitializeMethod initializes a metadata usage through the Default registry.
func InitializeMethod(modID string, idx int) (any, error) {
	return Default.InitializeMethod(modID, idx)
}

// PrestubEntry is the trampoline of the Default registry, entered with the
// address of the call helper that was invoked.
func PrestubEntry(helper Sym) Sym {
	return Default.Prestub().EnterFrom(helper)
}
