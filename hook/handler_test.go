// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package hook_test

import (
	"github.com/sqreen/go-hookhelper/hook"
)

// fakeHandler is a host handler recording the queries it receives. Its inline
// hooker doesn't patch anything and returns the configured backup address of
// the target.
type fakeHandler struct {
	// Exact symbol table.
	symbols map[string]uintptr
	// Prefix symbol table, used by ResolveByPrefix.
	prefixes map[string]uintptr
	// Backup address returned per target address.
	backups map[uintptr]uintptr
	// Targets whose installation panics.
	panics map[uintptr]bool

	queries       []string
	prefixQueries []string
	installs      []install
}

type install struct {
	target, replacement uintptr
}

func newFakeHandler() *fakeHandler {
	return &fakeHandler{
		symbols:  make(map[string]uintptr),
		prefixes: make(map[string]uintptr),
		backups:  make(map[uintptr]uintptr),
		panics:   make(map[uintptr]bool),
	}
}

// define adds symbol `name` at address `target` whose installation returns
// `backup`.
func (h *fakeHandler) define(name string, target, backup uintptr) *fakeHandler {
	h.symbols[name] = target
	h.backups[target] = backup
	return h
}

func (h *fakeHandler) ResolveExact(name string) uintptr {
	h.queries = append(h.queries, name)
	return h.symbols[name]
}

func (h *fakeHandler) ResolveByPrefix(prefix string) uintptr {
	h.prefixQueries = append(h.prefixQueries, prefix)
	return h.prefixes[prefix]
}

func (h *fakeHandler) InlineHook(target, replacement uintptr) uintptr {
	h.installs = append(h.installs, install{target: target, replacement: replacement})
	if h.panics[target] {
		panic("patch failed")
	}
	return h.backups[target]
}

// exactOnlyHandler hides the prefix resolver capability.
type exactOnlyHandler struct {
	h *fakeHandler
}

func (e exactOnlyHandler) ResolveExact(name string) uintptr { return e.h.ResolveExact(name) }
func (e exactOnlyHandler) InlineHook(target, replacement uintptr) uintptr {
	return e.h.InlineHook(target, replacement)
}

var (
	_ hook.Handler        = (*fakeHandler)(nil)
	_ hook.PrefixResolver = (*fakeHandler)(nil)
	_ hook.Handler        = exactOnlyHandler{}
)
