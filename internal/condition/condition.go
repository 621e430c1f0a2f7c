// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

// Package condition compiles and evaluates the boolean expressions enabling
// hook points according to the host runtime, for example:
//		SDK >= 30 && PtrSize == 8
package condition

import (
	"runtime"
	"strings"
	"unsafe"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
)

// Env is the evaluation environment of the conditions.
type Env struct {
	// SDK is the API level of the host runtime.
	SDK int
	// Arch is the GOARCH value of the process.
	Arch string
	// PtrSize is the pointer size in bytes.
	PtrSize int
}

// CurrentEnv returns the environment of the current process with the given
// host runtime API level.
func CurrentEnv(sdk int) Env {
	return Env{
		SDK:     sdk,
		Arch:    runtime.GOARCH,
		PtrSize: int(unsafe.Sizeof(uintptr(0))),
	}
}

// Condition is a compiled boolean expression. The zero value is an empty
// condition which is always true.
type Condition struct {
	source  string
	program *vm.Program
}

// Compile compiles the given boolean expression over Env. An empty expression
// compiles into an always-true condition.
func Compile(source string) (*Condition, error) {
	source = strings.TrimSpace(source)
	if source == "" {
		return &Condition{}, nil
	}
	program, err := expr.Compile(source, expr.Env(Env{}), expr.AsBool())
	if err != nil {
		return nil, sqerrors.Wrapf(err, "condition: could not compile `%s`", source)
	}
	return &Condition{
		source:  source,
		program: program,
	}, nil
}

// Eval evaluates the condition in the given environment.
func (c *Condition) Eval(env Env) (bool, error) {
	if c == nil || c.program == nil {
		return true, nil
	}
	out, err := expr.Run(c.program, env)
	if err != nil {
		return false, sqerrors.Wrapf(err, "condition: could not evaluate `%s`", c.source)
	}
	result, ok := out.(bool)
	if !ok {
		return false, sqerrors.Errorf("condition: unexpected result type `%T` of `%s`", out, c.source)
	}
	return result, nil
}

func (c *Condition) String() string {
	if c == nil {
		return ""
	}
	return c.source
}
