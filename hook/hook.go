// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

// Package hook allows to replace, at run time, functions of a host runtime
// known by their symbol names, while keeping a way to call the original
// implementation from the replacement.
//
// A hook descriptor binds one candidate symbol to a replacement function and
// a backup slot. The function signature is the type parameter of the
// descriptor. The patched code calls the replacement without closure context,
// so it should be a top-level function. Method values are rejected, but a
// function literal capturing variables cannot be detected and is the caller's
// responsibility:
//
//		var openHooker = hook.Must(hook.NewHooker(hook.Sym("art_open_v2"), open))
//
//		func open(path string, flags int) int {
//			// ...
//			return openHooker.Backup()(path, flags)
//		}
//
// Functions whose first argument is their receiver use MemHooker, whose
// backup is a memfn.MemberFunction.
//
// The symbol of a logical hook point may change across runtime versions, so
// several descriptors are usually declared for the same point and given to
// Installer.HookAny(), which installs the first candidate that resolves and
// ignores the others.
//
// Main requirements
//
// - A single inline hook per logical hook point.
// - Unresolved candidates are expected and silent. Exhausting them is
//   reported once.
// - The backup slot is only written by a successful installation.
// - Raw addresses only become callable Go values in package squnsafe.
// - No internal synchronization: installation runs once at initialization,
//   which Registry.Install() guarantees.
//
package hook

import (
	"reflect"
	"runtime"
	"strings"

	"github.com/sqreen/go-hookhelper/hook/memfn"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
	"github.com/sqreen/go-hookhelper/internal/sqlib/squnsafe"
)

// Descriptor is a hook descriptor bound to one candidate symbol. It is
// implemented by Hooker and MemHooker.
type Descriptor interface {
	// Symbol returns the candidate symbol of the descriptor.
	Symbol() Symbol
	// Installed returns true once the backup slot was set by a successful
	// installation.
	Installed() bool

	replacement() uintptr
	setBackup(pc uintptr) error
}

// Hooker is the descriptor of a plain function hook of type F.
type Hooker[F any] struct {
	symbol    Symbol
	replace   F
	replacePC uintptr
	backup    F
	installed bool
}

// NewHooker returns the descriptor replacing the function of symbol `sym`
// with `replace`.
func NewHooker[F any](sym Symbol, replace F) (*Hooker[F], error) {
	pc, err := validateDescriptor[F](sym, replace)
	if err != nil {
		return nil, err
	}
	return &Hooker[F]{
		symbol:    sym,
		replace:   replace,
		replacePC: pc,
	}, nil
}

func (h *Hooker[F]) Symbol() Symbol  { return h.symbol }
func (h *Hooker[F]) Installed() bool { return h.installed }

// Replacement returns the replacement function.
func (h *Hooker[F]) Replacement() F { return h.replace }

// Backup returns the function behaving as the original one. It is nil until
// the descriptor is installed.
func (h *Hooker[F]) Backup() F { return h.backup }

func (h *Hooker[F]) replacement() uintptr { return h.replacePC }

func (h *Hooker[F]) setBackup(pc uintptr) error {
	if pc == 0 {
		return sqerrors.Errorf("unexpected nil backup address for symbol `%s`", h.symbol)
	}
	h.backup = squnsafe.FuncOf[F](pc)
	h.installed = true
	return nil
}

func (h *Hooker[F]) String() string {
	return descriptorString(h.symbol, h.installed)
}

// MemHooker is the descriptor of a function hook taking its receiver as first
// argument, F being the receiver-first function type:
//		func(*Object, A, B) R
// Its backup is held by a memfn.MemberFunction.
type MemHooker[F any] struct {
	symbol    Symbol
	replace   F
	replacePC uintptr
	backup    memfn.MemberFunction[F]
}

// NewMemHooker returns the descriptor replacing the receiver-first function of
// symbol `sym` with `replace`.
func NewMemHooker[F any](sym Symbol, replace F) (*MemHooker[F], error) {
	pc, err := validateDescriptor[F](sym, replace)
	if err != nil {
		return nil, err
	}
	if reflect.TypeOf(replace).NumIn() == 0 {
		return nil, sqerrors.Errorf("symbol `%s`: the replacement function `%T` has no receiver argument", sym, replace)
	}
	return &MemHooker[F]{
		symbol:    sym,
		replace:   replace,
		replacePC: pc,
	}, nil
}

func (h *MemHooker[F]) Symbol() Symbol  { return h.symbol }
func (h *MemHooker[F]) Installed() bool { return h.backup.IsSet() }

// Replacement returns the replacement function.
func (h *MemHooker[F]) Replacement() F { return h.replace }

// Backup returns the bridge to the original function. It is unset until the
// descriptor is installed.
func (h *MemHooker[F]) Backup() memfn.MemberFunction[F] { return h.backup }

func (h *MemHooker[F]) replacement() uintptr { return h.replacePC }

func (h *MemHooker[F]) setBackup(pc uintptr) error {
	backup, err := memfn.FromAddr[F](pc)
	if err != nil {
		return sqerrors.Wrapf(err, "symbol `%s`", h.symbol)
	}
	if !backup.IsSet() {
		return sqerrors.Errorf("unexpected nil backup address for symbol `%s`", h.symbol)
	}
	h.backup = backup
	return nil
}

func (h *MemHooker[F]) String() string {
	return descriptorString(h.symbol, h.Installed())
}

// Must panics when err is not nil and returns d otherwise. It simplifies
// package-level descriptor declarations.
func Must[D any](d D, err error) D {
	if err != nil {
		panic(err)
	}
	return d
}

// validateDescriptor checks the descriptor arguments and returns the code
// address of the replacement function.
func validateDescriptor[F any](sym Symbol, replace F) (uintptr, error) {
	if sym.IsZero() {
		return 0, sqerrors.New("unexpected zero symbol value")
	}
	if err := squnsafe.CheckFuncType[F](); err != nil {
		return 0, sqerrors.Wrapf(err, "symbol `%s`", sym)
	}
	pc := squnsafe.FuncPC(replace)
	if pc == 0 {
		return 0, sqerrors.Errorf("symbol `%s`: unexpected nil replacement function", sym)
	}
	// Method values are closures binding their receiver.
	if fn := runtime.FuncForPC(pc); fn != nil && strings.HasSuffix(fn.Name(), "-fm") {
		return 0, sqerrors.Errorf("symbol `%s`: the replacement function `%s` is a method value", sym, fn.Name())
	}
	return pc, nil
}

func descriptorString(sym Symbol, installed bool) string {
	if installed {
		return sym.String() + " (installed)"
	}
	return sym.String()
}
