package lazylink

import (
	"errors"
	"strconv"
	"strings"
)

// Kind categorizes a resolution failure.
type Kind string

const (
	KindSymbolNotFound       Kind = "symbol_not_found"      // export table lacks the reference
	KindCyclicInitialization Kind = "cyclic_initialization" // usage construction depends on itself
	KindInvalidReference     Kind = "invalid_reference"     // unknown module or index out of range
	KindConstructionFailed   Kind = "construction_failed"   // usage constructor returned an error or panicked
)

// ResolutionError reports a slot that could not be resolved or initialized.
//
// Failed slots cache their ResolutionError, so every later call for the same
// slot returns the identical error.
type ResolutionError struct {
	Kind   Kind
	Module string
	Index  int
	Usage  bool      // usage slot rather than method slot
	Ref    SymbolRef // zero for usage slots
	Cause  error
}

func (e *ResolutionError) Error() string {
	var b strings.Builder
	b.WriteString(string(e.Kind))
	b.WriteString(" at ")
	b.WriteString(e.Module)
	if e.Usage {
		b.WriteString(" usage[")
	} else {
		b.WriteString(" method[")
	}
	b.WriteString(strconv.Itoa(e.Index))
	b.WriteByte(']')
	if !e.Ref.IsZero() {
		b.WriteString(": ")
		b.WriteString(e.Ref.String())
	}
	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}
	return b.String()
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

// Is reports whether target is a *ResolutionError of the same Kind.
// A target with an empty Kind matches any ResolutionError.
func (e *ResolutionError) Is(target error) bool {
	t, ok := target.(*ResolutionError)
	if !ok {
		return false
	}
	return t.Kind == "" || t.Kind == e.Kind
}

// KindOf returns the Kind of the outermost ResolutionError in err's chain, or "".
func KindOf(err error) Kind {
	var re *ResolutionError
	if errors.As(err, &re) {
		return re.Kind
	}
	return ""
}

var (
	// SymbolNotFound matches any error of kind KindSymbolNotFound with errors.Is.
	SymbolNotFound = &ResolutionError{Kind: KindSymbolNotFound}
	// CyclicInitialization matches any error of kind KindCyclicInitialization with errors.Is.
	CyclicInitialization = &ResolutionError{Kind: KindCyclicInitialization}
	// InvalidReference matches any error of kind KindInvalidReference with errors.Is.
	InvalidReference = &ResolutionError{Kind: KindInvalidReference}
	// ConstructionFailed matches any error of kind KindConstructionFailed with errors.Is.
	ConstructionFailed = &ResolutionError{Kind: KindConstructionFailed}
)

// Key addresses a slot of a loaded module.
type Key struct {
	Module string
	Index  int
}

func (k Key) String() string {
	return k.Module + "[" + strconv.Itoa(k.Index) + "]"
}

// Key of the slot that failed.
func (e *ResolutionError) Key() Key {
	return Key{Module: e.Module, Index: e.Index}
}
