/*
Package lazylink is a lazy symbol resolution layer for ahead-of-time compiled modules.

Compiled code refers to other methods and to metadata through small per-module
indices. lazylink maps those indices to native function addresses ([Sym]) and
to constructed metadata values on first use, and caches the result so later
calls pay no resolution cost.

# Underwater

 1. A [Registry] holds every loaded [Module]. Each module owns two slot tables, one for
    method references and one for metadata usages, allocated page by page on first touch.
 2. Every slot moves Unresolved -> Resolving -> Resolved or Failed exactly once. The
    caller that claims a slot does the work, the others block on that slot only.
 3. Failures are cached: a symbol missing from an export table is missing for the
    module's whole lifetime, so a failed slot is never looked up again.
 4. Metadata usages may depend on methods and other usages. A dependency cycle,
    on one goroutine or across several, fails with [KindCyclicInitialization].
 5. Call sites that are not bound yet enter the [Prestub]. It finds the call site,
    resolves its target, may patch the call site through a [Patcher], and hands the
    target back. A failed call site goes to the host's [MissingMethodFunc].

# Notes

 1. The mapping from method reference to export symbol is supplied by the loader in
    [ModuleSpec.MethodRefs]; lazylink does not read module metadata.
 2. Resolved and failed slots are immutable. Reloading a module means Unload and Load,
    which starts from fresh slot tables.
 3. Objects linked with [goloader] can back a module's export table, see the pool
    package. Only pool imports goloader, which needs the go sdk internals copied by
    `lazylink prepare` before it builds.
 4. A usage constructor must reach other slots through [Deps], including slots of
    other modules ([Deps.MethodOf], [Deps.UsageOf]). Calling the Registry directly
    from a constructor hides the dependency from cycle detection.

# Tools

The lazylink command inspects Go objects and resolves method references against them:

	go install github.com/ZenLiuCN/lazylink/cmd/lazylink@latest
	lazylink prepare
	lazylink compile -k sample -o sample.o sample.go
	lazylink resolve -k sample -r sample.Run sample.o

[goloader]: https://github.com/pkujhd/goloader
*/
package lazylink
