// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package hook

import (
	"fmt"
	"strings"
)

// Symbol is the immutable name of a function in the host runtime tables. It
// can also carry the address of a function known by other means, or request
// a prefix-matching fallback resolution. Symbols are values: two symbols with
// the same contents are interchangeable.
type Symbol struct {
	name   string
	addr   uintptr
	prefix bool
}

// Sym returns the symbol resolved by exact name. It panics when the name is
// empty since symbols are declared from literals at package initialization.
func Sym(name string) Symbol {
	return Symbol{name: mustName(name)}
}

// SymPrefix returns a symbol resolved by exact name first, and by name prefix
// when the exact resolution fails and the handler supports it.
func SymPrefix(name string) Symbol {
	return Symbol{name: mustName(name), prefix: true}
}

// SymAt returns a symbol whose address is already known, for example a
// memory offset computed from the host runtime layout. The name is only used
// for diagnostics.
func SymAt(name string, addr uintptr) Symbol {
	return Symbol{name: mustName(name), addr: addr}
}

func mustName(name string) string {
	if strings.TrimSpace(name) == "" {
		panic("hook: empty symbol name")
	}
	return name
}

// Name returns the symbol name.
func (s Symbol) Name() string { return s.name }

// Addr returns the fixed address given to SymAt(), zero otherwise.
func (s Symbol) Addr() uintptr { return s.addr }

// MatchPrefix returns true when prefix resolution was requested.
func (s Symbol) MatchPrefix() bool { return s.prefix }

// IsZero returns true for the zero Symbol, which no constructor returns.
func (s Symbol) IsZero() bool { return s.name == "" }

func (s Symbol) String() string {
	switch {
	case s.addr != 0:
		return fmt.Sprintf("%s@%#x", s.name, s.addr)
	case s.prefix:
		return s.name + "*"
	default:
		return s.name
	}
}
