package lazylink

import (
	"errors"
	"reflect"
	"unsafe"
)

// Sym is the native address of a resolved function, as found in an export table.
type Sym uintptr

var (
	// ErrMissingSymbol occurs when an export table has no entry for a symbol.
	ErrMissingSymbol = errors.New("missing symbol")
	// ErrAlreadyLoaded occurs when a module id is registered twice.
	ErrAlreadyLoaded = errors.New("module already loaded")
	// ErrModuleNotLoaded occurs when a module id names no loaded module.
	ErrModuleNotLoaded = errors.New("module not loaded")
	// ErrDuplicateCallSite occurs when two call sites share one helper address.
	ErrDuplicateCallSite = errors.New("call site helper already registered")
	// ErrUnknownCallSite occurs when the prestub is entered from an unregistered call site.
	ErrUnknownCallSite = errors.New("unknown call site")
)

// As convert a resolved Sym to a func type.
//
// The Sym must be the entry of a function whose signature matches T and that captures no variables.
func As[T any](s Sym) (x T) {
	code := new(uintptr)
	*code = uintptr(s)
	fv := unsafe.Pointer(code)
	x = *(*T)(unsafe.Pointer(&fv))
	return
}

// SymOf returns the code address of a func value, the inverse of As.
func SymOf(f any) Sym {
	v := reflect.ValueOf(f)
	if v.Kind() != reflect.Func || v.IsNil() {
		return 0
	}
	return Sym(v.Pointer())
}
