package pool

import (
	"errors"
	"fmt"
	"io"
	"slices"
	"sync"

	. "github.com/ZenLiuCN/lazylink"
	"github.com/pkujhd/goloader"
)

// Pool loads Go objects as modules of a Registry. Symbols exported by loaded
// objects are added to the shared host table, so later objects may link against them.
type Pool struct {
	*Registry
	Host    map[string]uintptr
	Objects map[string]*Object
	Loaded  []string // module ids in load order
	sync.Mutex
}

var (
	ErrAlreadyLoad = errors.New("module already loaded")
	ErrNotLoad     = errors.New("module not loaded")
	ErrCorrupted   = errors.New("recording corrupted")
)

// Manifest is what the loader knows about a module beyond its object code.
type Manifest struct {
	MethodRefs []SymbolRef
	Usages     UsageTable
	CallSites  []LutEntry
}

func (p *Pool) RegisterSo(path string) error {
	return goloader.RegSymbolWithSo(p.Host, path)
}
func (p *Pool) RegisterExecute(path string) error {
	return goloader.RegSymbolWithPath(p.Host, path)
}
func (p *Pool) RegisterTypes(t ...any) {
	goloader.RegTypes(p.Host, t...)
}

// LoadFile load from go archive or go object file, the module id is the package path.
func (p *Pool) LoadFile(file, pkgPath string, m Manifest) (err error) {
	p.Lock()
	defer p.Unlock()
	if pkgPath == "" {
		pkgPath = "main"
	}
	if _, ok := p.Objects[pkgPath]; ok {
		return ErrAlreadyLoad
	}
	o := NewObject(p.Host)
	if err = o.Initialize(file, pkgPath); err != nil {
		return
	}
	return p.link(pkgPath, o, m)
}

// LoadLinkable load from serialized linker.
func (p *Pool) LoadLinkable(id string, bin io.Reader, m Manifest) (err error) {
	p.Lock()
	defer p.Unlock()
	if _, ok := p.Objects[id]; ok {
		return ErrAlreadyLoad
	}
	o := NewObject(p.Host)
	if err = o.InitializeSerialized(bin); err != nil {
		return
	}
	return p.link(id, o, m)
}

// ReloadFile unloads the module and every module loaded after it, then loads file again.
func (p *Pool) ReloadFile(file, pkgPath string, m Manifest) (err error) {
	p.Lock()
	defer p.Unlock()
	if pkgPath == "" {
		pkgPath = "main"
	}
	if err = p.unloadFrom(pkgPath); err != nil {
		return
	}
	o := NewObject(p.Host)
	if err = o.Initialize(file, pkgPath); err != nil {
		return
	}
	return p.link(pkgPath, o, m)
}

// Unload the module and every module loaded after it.
func (p *Pool) Unload(id string) error {
	p.Lock()
	defer p.Unlock()
	return p.unloadFrom(id)
}

func (p *Pool) link(id string, o *Object, m Manifest) (err error) {
	if err = o.Link(); err != nil {
		o.Free(false)
		return fmt.Errorf("link %s: %w", id, err)
	}
	spec, err := o.Spec(id, m.MethodRefs, m.Usages)
	if err != nil {
		o.Free(false)
		return
	}
	spec.CallSites = m.CallSites
	if _, err = p.Registry.Load(spec); err != nil {
		o.Free(false)
		return
	}
	p.Objects[id] = o
	p.Loaded = append(p.Loaded, id)
	p.register(o)
	return
}

func (p *Pool) unloadFrom(id string) error {
	if _, ok := p.Objects[id]; !ok {
		return ErrNotLoad
	}
	i := slices.Index(p.Loaded, id)
	if i < 0 {
		return ErrCorrupted
	}
	x := p.Loaded[i:]
	for j := len(x) - 1; j >= 0; j-- {
		o := p.Objects[x[j]]
		if err := p.Registry.Unload(x[j]); err != nil && !errors.Is(err, ErrModuleNotLoaded) {
			return err
		}
		p.unregister(o)
		o.Free(false)
		delete(p.Objects, x[j])
	}
	p.Loaded = p.Loaded[:i]
	return nil
}

func (p *Pool) register(o *Object) {
	for _, name := range o.Symbols() {
		if _, ok := p.Host[name]; ok {
			continue
		}
		if s, ok := o.Exports().Lookup(Ref(name)); ok {
			p.Host[name] = uintptr(s)
		}
	}
}
func (p *Pool) unregister(o *Object) {
	for _, name := range o.Symbols() {
		if s, ok := o.Exports().Lookup(Ref(name)); ok {
			if x, ok := p.Host[name]; ok && x == uintptr(s) {
				delete(p.Host, name)
			}
		}
	}
}

// Require resolves method ref idx of a loaded module.
func (p *Pool) Require(id string, idx int) (Sym, error) {
	if id == "" {
		id = "main"
	}
	return p.ResolveMethod(id, idx)
}

// NewPool create new pool backed by its own registry.
func NewPool(opts ...Option) (p *Pool, err error) {
	p = new(Pool)
	p.Registry = NewRegistry(opts...)
	p.Objects = make(map[string]*Object)
	p.Host, err = NewHostSymbols()
	return
}
