package pool

import (
	"strings"
	"sync"

	. "github.com/ZenLiuCN/lazylink"
	"github.com/pkujhd/goloader"
)

// codeModuleExports exposes the symbols of a goloader code module.
type codeModuleExports struct {
	cm *goloader.CodeModule
}

// CodeModuleExports returns the exports of a linked goloader module.
// Names without a package qualifier are looked up in package main.
func CodeModuleExports(cm *goloader.CodeModule) ExportTable {
	return codeModuleExports{cm: cm}
}

func (c codeModuleExports) Lookup(ref SymbolRef) (Sym, bool) {
	if ref.Name == "" || c.cm == nil {
		return 0, false
	}
	p, ok := c.cm.Syms[qualify(ref.Name)]
	return Sym(p), ok
}

func qualify(sym string) string {
	if strings.IndexByte(sym, '.') < 0 {
		return "main." + sym
	}
	return sym
}

var (
	host     Exports
	hostErr  error
	hostOnce sync.Once
)

// HostExports returns the symbols of the running executable, the catalog of
// runtime services that module code may call into.
func HostExports() (Exports, error) {
	hostOnce.Do(func() {
		sym := make(map[string]uintptr)
		if hostErr = goloader.RegSymbol(sym); hostErr != nil {
			return
		}
		host = toExports(sym)
	})
	return host, hostErr
}

// HostExportsWithSo extends the host catalog with the symbols of a shared object.
func HostExportsWithSo(path string) (Exports, error) {
	sym := make(map[string]uintptr)
	if err := goloader.RegSymbolWithSo(sym, path); err != nil {
		return nil, err
	}
	return toExports(sym), nil
}

func toExports(sym map[string]uintptr) Exports {
	e := make(Exports, len(sym))
	for name, p := range sym {
		e[name] = Sym(p)
	}
	return e
}
