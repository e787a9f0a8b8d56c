package main

import (
	"fmt"
	"log"
	"os"
	"os/exec"
	"path"
	"slices"
	"strings"

	. "github.com/ZenLiuCN/lazylink"
	"github.com/ZenLiuCN/lazylink/pool"
	"github.com/davecgh/go-spew/spew"
	"github.com/urfave/cli/v2"
)

func main() {
	app := cli.NewApp()
	app.Usage = "lazy symbol resolution inspector"
	app.Name = "lazylink"
	app.Description = "inspect go objfiles and resolve method references against them the way compiled call sites do"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{
			Name:    "debug",
			Aliases: []string{"d"},
		},
	}
	app.Commands = []*cli.Command{
		{
			Name:   "prepare",
			Action: prepare,
			Usage:  "copy internals of go sdk",
		},
		{
			Name:   "clean",
			Action: clean,
			Usage:  "remove copied internals of go sdk",
		},
		{
			Name:   "compile",
			Action: compile,
			Usage:  "compile go sources to objfile, the arguments can be list of go sources or '.' for lookup at working directory.",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pkg", Aliases: []string{"k"}, Usage: "package path or default main"},
				&cli.StringFlag{Name: "out", Aliases: []string{"o"}, Usage: "objfile path or default <pkg>.o"},
			},
			Args: true,
		},
		{
			Name:   "inspect",
			Action: inspect,
			Usage:  "display symbols of go objfile or go archive file",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pkg", Aliases: []string{"k"}, Usage: "package path or default main"},
			},
			Args: true,
		},
		{
			Name:   "missing",
			Action: missing,
			Usage:  "display symbols the objfile needs that the host does not provide",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pkg", Aliases: []string{"k"}, Usage: "package path or default main"},
			},
			Args: true,
		},
		{
			Name:   "resolve",
			Action: resolve,
			Usage:  "load objfile as a module and resolve method references through the prestub",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "pkg", Aliases: []string{"k"}, Usage: "package path or default main"},
				&cli.StringSliceFlag{Name: "ref", Aliases: []string{"r"}, Usage: "method reference symbol, index is the flag position"},
				&cli.BoolFlag{Name: "patch", Aliases: []string{"p"}, Usage: "patch call sites after first resolution"},
				&cli.BoolFlag{Name: "dump", Usage: "dump the module after resolution"},
			},
			Args: true,
		},
		{
			Name:   "host",
			Action: host,
			Usage:  "display host symbols with the given prefixes",
			Args:   true,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func inspect(ctx *cli.Context) (err error) {
	for _, s := range ctx.Args().Slice() {
		var v []string
		if v, err = pool.Inspect(s, ctx.String("pkg")); err != nil {
			return
		}
		slices.Sort(v)
		log.Printf("%s:\n\t%s", s, strings.Join(v, "\n\t"))
	}
	return
}

func missing(ctx *cli.Context) (err error) {
	h, err := pool.NewHostSymbols()
	if err != nil {
		return
	}
	for _, s := range ctx.Args().Slice() {
		o := pool.NewObject(h, ctx.Bool("debug"))
		if err = o.Initialize(s, ctx.String("pkg")); err != nil {
			return
		}
		v := o.MissingSymbols()
		slices.Sort(v)
		log.Printf("%s:\n\t%s", s, strings.Join(v, "\n\t"))
		o.Free(false)
	}
	return
}

func resolve(ctx *cli.Context) (err error) {
	if ctx.Args().Len() != 1 {
		return fmt.Errorf("required exactly one objfile")
	}
	pk := ctx.String("pkg")
	if pk == "" {
		pk = "main"
	}
	opts := []Option{WithDebug(ctx.Bool("debug")), WithMissingMethod(func(site CallSite, err error) {
		log.Printf("missing method at call site %d: %s", site.Fixup, err)
	})}
	if ctx.Bool("patch") {
		opts = append(opts, WithPatcher(FixupPatcher{}))
	}
	p, err := pool.NewPool(opts...)
	if err != nil {
		return
	}
	refs := ctx.StringSlice("ref")
	m := pool.Manifest{}
	for i, r := range refs {
		m.MethodRefs = append(m.MethodRefs, Ref(r))
		m.CallSites = append(m.CallSites, LutEntry{Fn: Sym(i + 1), MethodRef: i})
	}
	if err = p.LoadFile(ctx.Args().First(), pk, m); err != nil {
		return
	}
	defer func() { _ = p.Unload(pk) }()
	ps := p.Prestub()
	for i := range refs {
		// the prestub reports failures through the missing method facility
		for n := 0; n < 2; n++ {
			ps.Enter(CallSite{Module: pk, Fixup: i})
		}
	}
	mod, _ := p.Module(pk)
	for _, e := range mod.Snapshot() {
		log.Printf("%-40s %s", refs[e.MethodRef], e)
	}
	for _, e := range mod.Failures() {
		log.Printf("failed: %s", e)
	}
	if ctx.Bool("dump") {
		sp := spew.NewDefaultConfig()
		sp.MaxDepth = 3
		sp.Dump(mod.CallSites(), mod.DispatchTable())
	}
	return
}

func host(ctx *cli.Context) (err error) {
	h, err := pool.HostExports()
	if err != nil {
		return
	}
	prefixes := ctx.Args().Slice()
	var v []string
	for name, s := range h {
		for _, p := range prefixes {
			if strings.HasPrefix(name, p) {
				v = append(v, fmt.Sprintf("%#x %s", uintptr(s), name))
				break
			}
		}
	}
	slices.Sort(v)
	log.Printf("%d host symbols, %d matched:\n\t%s", len(h), len(v), strings.Join(v, "\n\t"))
	return
}

func compile(ctx *cli.Context) (err error) {
	d := ctx.Bool("debug")
	o := ctx.Args().Slice()
	if len(o) == 0 {
		return fmt.Errorf("missing target sources list")
	}
	if len(o) == 1 && o[0] == "." {
		if o, err = lookup(); err != nil {
			return
		}
		log.Printf("found go sources at working directory: %v", o)
	}
	if _, err = exec.LookPath("go"); err != nil {
		return fmt.Errorf("missing go sdk: %w ", err)
	}
	pk := ctx.String("pkg")
	if pk == "" {
		pk = "main"
	}
	out := ctx.String("out")
	if out == "" {
		out = path.Base(pk) + ".o"
	}
	if err = pool.Imports(d, "importcfg", o); err != nil {
		return fmt.Errorf("generate importcfg : %w ", err)
	}
	if err = pool.Compile(d, "importcfg", pk, out, o); err == nil && !d {
		err = os.Remove("importcfg")
	}
	return
}

func lookup() (v []string, err error) {
	var e []os.DirEntry
	if e, err = os.ReadDir("."); err != nil {
		return
	}
	for _, entry := range e {
		n := entry.Name()
		if !entry.IsDir() && strings.HasSuffix(n, ".go") && !strings.HasSuffix(n, "_test.go") {
			v = append(v, n)
		}
	}
	return
}

func clean(ctx *cli.Context) (err error) {
	d := ctx.Bool("debug")
	dir := os.ExpandEnv("$GOROOT/src/cmd/objfile")
	if d {
		log.Printf("clean go sdk: %s", dir)
	}
	if _, err = os.Stat(dir); err == nil {
		err = os.RemoveAll(dir)
		if d {
			log.Printf("removed %s", dir)
		}
	} else if os.IsNotExist(err) {
		err = nil
		if d {
			log.Printf("did nothing for %s", dir)
		}
	}
	return
}

func prepare(ctx *cli.Context) (err error) {
	d := ctx.Bool("debug")
	src := os.ExpandEnv("$GOROOT/src/cmd/internal")
	dir := os.ExpandEnv("$GOROOT/src/cmd/objfile")
	if d {
		log.Printf("prepare go sdk from %s to %s", src, dir)
	}
	if _, err = os.Stat(dir); err != nil && os.IsNotExist(err) {
		err = pool.CopyDir(src, dir, nil)
		if d {
			log.Printf("copied %s from %s", dir, src)
		}
	} else if d {
		log.Printf("did nothing for %s", dir)
	}
	return
}
