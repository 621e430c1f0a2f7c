// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

// Package memfn unifies the two shapes a hooked function can have behind one
// call syntax: a plain function taking its receiver as first argument, and a
// method of a receiver type.
//
// Given a method:
//		func (o *Object) M(A, B) R
// The bridge type is parametrized by its receiver-first shape:
//		MemberFunction[func(*Object, A, B) R]
// and whatever representation it holds, it is invoked the same way:
//		r := mf.Func()(o, a, b)
//
// The bridge can also be built from the raw code address of a function
// expecting its receiver as first argument, such as the trampoline returned by
// an inline-hooking primitive. That conversion is delegated to package
// squnsafe and is only valid for code following the Go internal ABI.
package memfn

import (
	"fmt"
	"reflect"

	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
	"github.com/sqreen/go-hookhelper/internal/sqlib/squnsafe"
)

// Kind is the representation currently held by a MemberFunction.
type Kind int

const (
	// Unset is the zero MemberFunction.
	Unset Kind = iota
	// Plain is a function value taking the receiver as first argument.
	Plain
	// Member is a method dispatched through its receiver.
	Member
)

func (k Kind) String() string {
	switch k {
	case Plain:
		return "plain"
	case Member:
		return "member"
	default:
		return "unset"
	}
}

// MemberFunction holds exactly one callable representation of F, where F is
// the receiver-first function type. The zero value is unset. It is meant to be
// value-owned by a single hook descriptor.
type MemberFunction[F any] struct {
	kind Kind
	// Typed call path, always set when kind is not Unset.
	fn F
	// Member representation.
	recv   reflect.Type
	method reflect.Method
}

// Of returns a plain MemberFunction calling fn with the receiver as first
// argument. A nil fn returns an unset value.
func Of[F any](fn F) (MemberFunction[F], error) {
	if err := squnsafe.CheckFuncType[F](); err != nil {
		return MemberFunction[F]{}, err
	}
	if squnsafe.FuncPC(fn) == 0 {
		return MemberFunction[F]{}, nil
	}
	return MemberFunction[F]{kind: Plain, fn: fn}, nil
}

// FromAddr returns a plain MemberFunction calling the code at address pc with
// the receiver as first argument. It is the only conversion reinterpreting a
// raw address, and pc must point to code compiled for the Go internal ABI with
// signature F. A zero pc returns an unset value.
func FromAddr[F any](pc uintptr) (MemberFunction[F], error) {
	if err := squnsafe.CheckFuncType[F](); err != nil {
		return MemberFunction[F]{}, err
	}
	if pc == 0 {
		return MemberFunction[F]{}, nil
	}
	return MemberFunction[F]{kind: Plain, fn: squnsafe.FuncOf[F](pc)}, nil
}

// FromMethod returns a member MemberFunction for the method `name` of the
// concrete receiver type `recv`. The method expression of recv.name must have
// type F. Interface types are rejected.
func FromMethod[F any](recv reflect.Type, name string) (MemberFunction[F], error) {
	if err := squnsafe.CheckFuncType[F](); err != nil {
		return MemberFunction[F]{}, err
	}
	if recv == nil {
		return MemberFunction[F]{}, sqerrors.New("unexpected nil receiver type")
	}
	// Interface methods have no function value to call through.
	if recv.Kind() == reflect.Interface {
		return MemberFunction[F]{}, sqerrors.Errorf("unexpected interface receiver type `%s`", recv)
	}
	m, ok := recv.MethodByName(name)
	if !ok || !m.Func.IsValid() {
		return MemberFunction[F]{}, sqerrors.Errorf("unknown method `%s.%s()`", recv, name)
	}
	fn, ok := m.Func.Interface().(F)
	if !ok {
		var zero F
		return MemberFunction[F]{}, sqerrors.Errorf("unexpected method type for `%s.%s()`: got `%s`, wanted `%T`", recv, name, m.Func.Type(), zero)
	}
	return MemberFunction[F]{
		kind:   Member,
		fn:     fn,
		recv:   recv,
		method: m,
	}, nil
}

// IsSet returns true when a callable is present. Calling through an unset
// MemberFunction is a programming error.
func (m MemberFunction[F]) IsSet() bool { return m.kind != Unset }

// Kind returns the active representation.
func (m MemberFunction[F]) Kind() Kind { return m.kind }

// Func returns the receiver-first function value of the active
// representation. It is nil when unset.
func (m MemberFunction[F]) Func() F { return m.fn }

// Addr returns the code address called through, zero when unset.
func (m MemberFunction[F]) Addr() uintptr { return squnsafe.FuncPC(m.fn) }

// Call dynamically invokes the active representation with the given receiver
// and arguments and returns the results. Plain functions get the receiver
// prepended to the arguments while members are dispatched through the
// receiver's method set. Calling an unset MemberFunction panics.
func (m MemberFunction[F]) Call(recv interface{}, args ...interface{}) []interface{} {
	var (
		fn   reflect.Value
		in   []reflect.Value
		self = reflect.ValueOf(recv)
	)
	switch m.kind {
	case Plain:
		fn = reflect.ValueOf(m.fn)
		in = make([]reflect.Value, 0, len(args)+1)
		in = append(in, argValue(self, fn.Type().In(0)))
	case Member:
		if !self.IsValid() || self.Type() != m.recv {
			panic(sqerrors.Errorf("unexpected receiver `%T` for method `%s.%s()`", recv, m.recv, m.method.Name))
		}
		fn = self.Method(m.method.Index)
		in = make([]reflect.Value, 0, len(args))
	default:
		panic(sqerrors.New("call through an unset member function"))
	}

	ft := fn.Type()
	for _, arg := range args {
		in = append(in, argValue(reflect.ValueOf(arg), ft.In(len(in))))
	}

	out := fn.Call(in)
	results := make([]interface{}, len(out))
	for i, v := range out {
		results[i] = v.Interface()
	}
	return results
}

func (m MemberFunction[F]) String() string {
	switch m.kind {
	case Member:
		return fmt.Sprintf("%s.%s (%s)", m.recv, m.method.Name, m.kind)
	case Plain:
		return fmt.Sprintf("%#x (%s)", m.Addr(), m.kind)
	default:
		return m.kind.String()
	}
}

// argValue returns v, or the zero value of typ when v is invalid, which is
// the case of untyped nil arguments.
func argValue(v reflect.Value, typ reflect.Type) reflect.Value {
	if !v.IsValid() {
		return reflect.Zero(typ)
	}
	return v
}
