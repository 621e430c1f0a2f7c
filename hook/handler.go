// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package hook

// Resolver resolves symbol names into addresses in the current process. A
// zero address means the symbol was not found.
type Resolver interface {
	ResolveExact(name string) uintptr
}

// PrefixResolver is the optional resolver capability of matching the first
// symbol starting with the given name.
type PrefixResolver interface {
	ResolveByPrefix(prefix string) uintptr
}

// InlineHooker patches the code at `target` so that calls are redirected to
// `replacement`, and returns the address of a function behaving as the
// original one. It is assumed not to fail once target is a valid code
// address.
type InlineHooker interface {
	InlineHook(target, replacement uintptr) (backup uintptr)
}

// Handler is the capability provided by the host integration layer. It is
// only read by this package.
type Handler interface {
	Resolver
	InlineHooker
}

// InitInfo adapts the host integration functions into a Handler. The prefix
// resolver is optional.
type InitInfo struct {
	SymbolResolver       func(name string) uintptr
	SymbolPrefixResolver func(prefix string) uintptr
	InlineHooker         func(target, replacement uintptr) uintptr
}

// Static assertions.
var (
	_ Handler        = InitInfo{}
	_ PrefixResolver = InitInfo{}
)

func (i InitInfo) ResolveExact(name string) uintptr {
	if i.SymbolResolver == nil {
		return 0
	}
	return i.SymbolResolver(name)
}

func (i InitInfo) ResolveByPrefix(prefix string) uintptr {
	if i.SymbolPrefixResolver == nil {
		return 0
	}
	return i.SymbolPrefixResolver(prefix)
}

func (i InitInfo) InlineHook(target, replacement uintptr) uintptr {
	if i.InlineHooker == nil {
		return 0
	}
	return i.InlineHooker(target, replacement)
}
