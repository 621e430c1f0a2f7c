// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

// Package squnsafe gathers the conversions relying on the memory layout of Go
// values. It is the only place where raw code addresses become callable Go
// function values.
//
// A Go function value is a pointer to a closure record whose first word is
// the entry address of the code. A top-level function has no captured
// variables so its closure record is exactly that one word. Calling a
// fabricated function value therefore jumps to the given address with the
// arguments laid out according to the Go internal register ABI. It is only
// valid when the code at that address was compiled for that same ABI, which
// is the case of the trampolines returned by Go inline-hooking primitives.
package squnsafe

import (
	"reflect"
	"unsafe"

	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
)

// funcval mirrors the runtime closure record of a function without captured
// variables.
type funcval struct {
	fn uintptr
}

const ptrSize = unsafe.Sizeof(uintptr(0))

// The build fails when a function value is not a single pointer or when the
// closure record is not a single code word. Both differences must be zero:
// a negative uintptr constant is a compile-time overflow error.
var (
	_ [unsafe.Sizeof(func() {}) - ptrSize]struct{}
	_ [ptrSize - unsafe.Sizeof(func() {})]struct{}
	_ [unsafe.Sizeof(funcval{}) - ptrSize]struct{}
	_ [ptrSize - unsafe.Sizeof(funcval{})]struct{}
)

// CheckFuncType returns an error when F is not a function type.
func CheckFuncType[F any]() error {
	typ := reflect.TypeOf((*F)(nil)).Elem()
	if typ.Kind() != reflect.Func {
		return sqerrors.Errorf("unexpected type `%s`: expecting a function type", typ)
	}
	return nil
}

// FuncOf returns a function value of type F calling the code at address pc.
// The zero function value is returned when pc is zero. F must be a function
// type, which CheckFuncType validates.
func FuncOf[F any](pc uintptr) (fn F) {
	if pc == 0 {
		return fn
	}
	fv := &funcval{fn: pc}
	*(*unsafe.Pointer)(unsafe.Pointer(&fn)) = unsafe.Pointer(fv)
	return fn
}

// FuncPC returns the entry address of the code of the given function value,
// zero when it is nil or not a function.
func FuncPC(fn interface{}) uintptr {
	v := reflect.ValueOf(fn)
	if v.Kind() != reflect.Func || v.IsNil() {
		return 0
	}
	return v.Pointer()
}

// StringToBytes returns the given string as an slice of bytes without copying
// it into a new slice. The empty string "" returns a nil slice. The returned
// slice points to the same string and it mustn't be modified to keep the
// original string immutable.
func StringToBytes(s string) []byte {
	if len(s) == 0 {
		return nil
	}
	return unsafe.Slice(unsafe.StringData(s), len(s))
}

// PointerOf returns the address addr as a pointer to a T, nil when addr is
// zero. addr must be the address of a T living outside of the Go heap, such
// as a global variable of the host runtime.
func PointerOf[T any](addr uintptr) *T {
	if addr == 0 {
		return nil
	}
	return (*T)(*(*unsafe.Pointer)(unsafe.Pointer(&addr)))
}
