package pool

import (
	"errors"
	"io"
	"os"

	"github.com/ZenLiuCN/fn"
	. "github.com/ZenLiuCN/lazylink"
	"github.com/pkujhd/goloader"
	"go.uber.org/zap"
)

var (
	// ErrAlreadyInitialized occurs when an Object reinitializing.
	ErrAlreadyInitialized = errors.New("already initialized object")
	// ErrLinked occurs when an Object relinking.
	ErrLinked = errors.New("already linked")
	// ErrUninitialized occurs use or link an Object before initialized.
	ErrUninitialized = errors.New("object not initialized")
)

// Object is a relocatable Go object linked into executable memory, the backing
// store of a module's export table.
//
// Use Steps:
//
//  1. Initialize, InitializeMany or InitializeSerialized to read the object.
//  2. [Object.Link] to link it against the host symbols.
//  3. [Object.Spec] to describe it as a module for a Registry.
//  4. [Object.Free] after the module was unloaded.
type Object struct {
	files  []string
	pkg    []string
	host   map[string]uintptr
	linker *goloader.Linker
	module *goloader.CodeModule
	log    *zap.SugaredLogger
}

// NewObject creates an Object linked against host symbols, host may be shared
// between objects so later objects can depend on earlier ones.
func NewObject(host map[string]uintptr, debug ...bool) *Object {
	return &Object{host: host, log: logger(len(debug) > 0 && debug[0])}
}

func logger(debug bool) *zap.SugaredLogger {
	if debug {
		return fn.Panic1(zap.NewDevelopment()).Sugar()
	}
	return zap.NewNop().Sugar()
}

// NewHostSymbols returns the symbol table of the running executable for NewObject.
func NewHostSymbols() (map[string]uintptr, error) {
	sym := make(map[string]uintptr)
	return sym, goloader.RegSymbol(sym)
}

func (o *Object) Initialize(file, pkg string, types ...any) (err error) {
	return o.InitializeMany([]string{file}, []string{pkg}, types...)
}

func (o *Object) InitializeMany(file, pkg []string, types ...any) (err error) {
	if o.linker != nil {
		return ErrAlreadyInitialized
	}
	if len(types) > 0 {
		o.log.Debugw("register types", "types", types)
		goloader.RegTypes(o.host, types...)
	}
	o.files = append(o.files, file...)
	o.pkg = append(o.pkg, pkg...)
	if o.linker, err = goloader.ReadObjs(file, pkg); err != nil {
		return
	}
	o.log.Debugf("create linker: %+v", o.linker)
	return
}

func (o *Object) InitializeSerialized(in io.Reader, types ...any) (err error) {
	if o.linker != nil {
		return ErrAlreadyInitialized
	}
	if len(types) > 0 {
		goloader.RegTypes(o.host, types...)
	}
	if o.linker, err = goloader.UnSerialize(in); err != nil {
		return
	}
	o.log.Debugf("loaded linker: %+v", o.linker)
	return
}

// Link the object against the host symbols.
func (o *Object) Link() (err error) {
	if o.linker == nil {
		return ErrUninitialized
	}
	if o.module != nil {
		return ErrLinked
	}
	if o.module, err = goloader.Load(o.linker, o.host); err != nil {
		return
	}
	o.log.Debugf("create module: %+v", o.module)
	return
}

// Packages returns the package paths read into the object.
func (o *Object) Packages() (v []string) {
	if o.linker == nil {
		return o.pkg
	}
	for _, p := range o.linker.Packages {
		v = append(v, p.PkgPath)
	}
	return
}

// Exports of the linked object.
func (o *Object) Exports() ExportTable {
	return CodeModuleExports(o.module)
}

// Symbols returns the names exported by the linked object.
func (o *Object) Symbols() []string {
	if o.module == nil {
		return nil
	}
	return fn.MapKeys(o.module.Syms)
}

// Spec describes the linked object as a module, refs maps method ref index to export symbol.
func (o *Object) Spec(id string, refs []SymbolRef, usages UsageTable) (ModuleSpec, error) {
	if o.module == nil {
		return ModuleSpec{}, ErrUninitialized
	}
	return ModuleSpec{ID: id, Exports: o.Exports(), MethodRefs: refs, Usages: usages}, nil
}

// MissingSymbols dump the symbols the object needs that the host does not provide.
func (o *Object) MissingSymbols() []string {
	if o.linker == nil {
		panic(ErrUninitialized)
	}
	return goloader.UnresolvedSymbols(o.linker, o.host)
}

// Serialize write linker data, which may be loaded by InitializeSerialized.
func (o *Object) Serialize(out io.Writer) error {
	if o.linker == nil {
		return ErrUninitialized
	}
	return goloader.Serialize(o.linker, out)
}

// Free releases the executable memory, sync parameter to sync the stdout or not.
// The module built from this object must be unloaded first.
func (o *Object) Free(sync bool) {
	if o.linker == nil {
		return
	}
	o.log.Debugf("free object: %v", o.files)
	if o.module != nil {
		if sync {
			_ = os.Stdout.Sync()
		}
		o.module.Unload()
		o.module = nil
	}
	o.linker = nil
	o.files = o.files[:0]
	o.pkg = o.pkg[:0]
}
