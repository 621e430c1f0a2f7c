// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

//go:build sqassert
// +build sqassert

// Package sqassert provides internal invariant checks. They panic when the
// program is built with the `sqassert` tag and are no-ops otherwise.
package sqassert

import "github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"

func True(c bool) {
	if !c {
		doPanic(sqerrors.New("sqassert: unexpected false value"))
	}
}

func NoError(err error) {
	if err != nil {
		doPanic(sqerrors.Wrap(err, "sqassert: unexpected error"))
	}
}

func NotNil(v ...interface{}) {
	for _, v := range v {
		if v == nil {
			doPanic(sqerrors.New("sqassert: unexpected nil value"))
		}
	}
}

func doPanic(err error) {
	panic(err)
}
