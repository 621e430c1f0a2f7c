// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package sqerrors_test

import (
	"errors"
	"testing"

	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
	"github.com/stretchr/testify/require"
	"golang.org/x/xerrors"
)

func TestWithInfo(t *testing.T) {
	t.Run("single info", func(t *testing.T) {
		err := errors.New("an error")
		info := map[string]string{
			"event":  "hook installation failed",
			"symbol": "foo_v1",
		}
		err = sqerrors.WithInfo(err, info)
		err = sqerrors.Wrap(err, "an error occurred")
		require.Equal(t, info, sqerrors.Info(err))
	})

	t.Run("outermost info wins", func(t *testing.T) {
		err := errors.New("an error")
		err = sqerrors.WithInfo(err, "deep")
		err = sqerrors.Wrap(err, "an error occurred")
		err = sqerrors.WithInfo(err, 33)
		err = sqerrors.Wrap(err, "an error occurred")
		require.Equal(t, 33, sqerrors.Info(err))
	})

	t.Run("no info", func(t *testing.T) {
		require.Nil(t, sqerrors.Info(sqerrors.New("oops")))
		require.Nil(t, sqerrors.Info(nil))
	})

	t.Run("message is kept", func(t *testing.T) {
		err := sqerrors.WithInfo(errors.New("an error"), 1)
		require.Equal(t, "an error", err.Error())
	})
}

func TestWithKey(t *testing.T) {
	type t1 struct{}
	type t2 struct{}
	require.NotEqual(t, t1{}, t2{})

	err := errors.New("an error")
	err = sqerrors.WithKey(err, t1{})
	err = sqerrors.Wrap(err, "an error occurred")
	got, ok := sqerrors.Key(err)
	require.True(t, ok)
	require.Equal(t, t1{}, got)

	_, ok = sqerrors.Key(errors.New("no key"))
	require.False(t, ok)
}

func TestTimestamp(t *testing.T) {
	_, ok := sqerrors.Timestamp(errors.New("no timestamp"))
	require.False(t, ok)

	ts, ok := sqerrors.Timestamp(sqerrors.Wrap(errors.New("oops"), "wrapped"))
	require.True(t, ok)
	require.False(t, ts.IsZero())
}

func TestUnwrap(t *testing.T) {
	sentinel := errors.New("sentinel")
	err := sqerrors.WithKey(sqerrors.WithInfo(sqerrors.Wrap(sentinel, "ctx"), 1), "k")
	require.True(t, xerrors.Is(err, sentinel))
}

func TestErrorCollection(t *testing.T) {
	var errs sqerrors.ErrorCollection
	require.NoError(t, errs.ToError())

	errs.Add(errors.New("error 1"))
	require.Equal(t, "error 1", errs.ToError().Error())

	errs.Add(errors.New("error 2"))
	errs.Add(errors.New("error 3"))
	require.Equal(t, "multiple errors occurred: (error 1) error 1; (error 2) error 2; (error 3) error 3", errs.ToError().Error())
}
