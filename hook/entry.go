// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package hook

import (
	"github.com/sqreen/go-hookhelper/hook/memfn"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
	"github.com/sqreen/go-hookhelper/internal/sqlib/squnsafe"
)

// Entry is a host runtime symbol only retrieved to be called or read, without
// being hooked. It is implemented by Func, MemFunc and Field.
type Entry interface {
	// Resolved returns true once an address was retrieved.
	Resolved() bool
	// Symbol returns the symbol whose address was retrieved, the zero Symbol
	// otherwise.
	Symbol() Symbol

	set(sym Symbol, addr uintptr) error
}

type entry struct {
	symbol Symbol
}

func (e *entry) Resolved() bool { return !e.symbol.IsZero() }
func (e *entry) Symbol() Symbol { return e.symbol }

// Func is a function of type F of the host runtime.
type Func[F any] struct {
	entry
	fn F
}

// Get returns the function, nil until resolved.
func (f *Func[F]) Get() F { return f.fn }

func (f *Func[F]) set(sym Symbol, addr uintptr) error {
	if err := squnsafe.CheckFuncType[F](); err != nil {
		return sqerrors.Wrapf(err, "symbol `%s`", sym)
	}
	f.fn = squnsafe.FuncOf[F](addr)
	f.symbol = sym
	return nil
}

// MemFunc is a host runtime function taking its receiver as first argument, F
// being the receiver-first function type.
type MemFunc[F any] struct {
	entry
	fn memfn.MemberFunction[F]
}

// Get returns the bridge to the function, unset until resolved.
func (f *MemFunc[F]) Get() memfn.MemberFunction[F] { return f.fn }

func (f *MemFunc[F]) set(sym Symbol, addr uintptr) error {
	fn, err := memfn.FromAddr[F](addr)
	if err != nil {
		return sqerrors.Wrapf(err, "symbol `%s`", sym)
	}
	f.fn = fn
	f.symbol = sym
	return nil
}

// Field is a global variable of type T of the host runtime.
type Field[T any] struct {
	entry
	ptr *T
}

// Get returns the pointer to the variable, nil until resolved.
func (f *Field[T]) Get() *T { return f.ptr }

func (f *Field[T]) set(sym Symbol, addr uintptr) error {
	f.ptr = squnsafe.PointerOf[T](addr)
	f.symbol = sym
	return nil
}
