// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

// Package sqerrors annotates errors with a timestamp, a stack trace, extra
// information and an indexing key. Every annotation remains reachable through
// the chain of causes.
package sqerrors

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/xerrors"
)

type Causer interface {
	Cause() error
}

type Timestamper interface {
	Timestamp() time.Time
}

type withTimestamp struct {
	error
	timestamp time.Time
}

// WithTimestamp annotates the given error `err` with a timestamp. The returned
// error value implements interface Timestamper.
func WithTimestamp(err error) error {
	return withTimestamp{
		error:     err,
		timestamp: time.Now(),
	}
}

func (e withTimestamp) Timestamp() time.Time { return e.timestamp }
func (e withTimestamp) Unwrap() error        { return e.error }
func (e withTimestamp) Cause() error         { return e.error }

func (e withTimestamp) Format(f fmt.State, c rune) {
	if formatter, ok := e.error.(fmt.Formatter); ok {
		formatter.Format(f, c)
	} else {
		_, _ = fmt.Fprintf(f, "%v", e.error)
	}
}

type Informer interface {
	Info() interface{}
}

type withInfo struct {
	error
	info interface{}
}

// WithInfo annotates the given error `err` with extra information giving more
// context to the error, such as a structured diagnostic record. The returned
// error value implements interface Informer.
func WithInfo(err error, info interface{}) error {
	return withInfo{
		error: err,
		info:  info,
	}
}

func (e withInfo) Info() interface{} { return e.info }
func (e withInfo) Unwrap() error     { return e.error }
func (e withInfo) Cause() error      { return e.error }

func (e withInfo) Format(f fmt.State, c rune) {
	if formatter, ok := e.error.(fmt.Formatter); ok {
		formatter.Format(f, c)
	} else {
		_, _ = fmt.Fprintf(f, "%v", e.error)
	}
}

type KeyType interface{}

type Keyer interface {
	Key() KeyType
}

type withKey struct {
	error
	key KeyType
}

// WithKey associates the given key with the error. The key allows indexing
// errors, for example by hooked symbol.
func WithKey(err error, key KeyType) error {
	return withKey{
		error: err,
		key:   key,
	}
}

func (e withKey) Key() KeyType  { return e.key }
func (e withKey) Unwrap() error { return e.error }
func (e withKey) Cause() error  { return e.error }

// New returns a new error annotated with a timestamp, a message and a stack
// trace.
func New(message string) error {
	return WithTimestamp(errors.New(message))
}

// Errorf returns a new errors whose message is formatted by `fmt.Sprintf`. The
// returned error is annotated with a timestamp, a message and a stack trace.
func Errorf(format string, args ...interface{}) error {
	return New(fmt.Sprintf(format, args...))
}

// Wrap annotates the given error `err` with a timestamp, a message and a stack
// trace.
func Wrap(err error, message string) error {
	return WithTimestamp(errors.Wrap(err, message))
}

// Wrapf annotates the given error `err` with a timestamp, a message and a stack
// trace. The message is formatted by `fmt.Sprintf`.
func Wrapf(err error, format string, args ...interface{}) error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// next returns the next error in the chain of causes, or nil.
func next(err error) error {
	switch actual := err.(type) {
	case Causer:
		return actual.Cause()
	case xerrors.Wrapper:
		return actual.Unwrap()
	default:
		return nil
	}
}

// Info returns the outermost information attached to the error chain, nil
// when there is none.
func Info(err error) interface{} {
	for ; err != nil; err = next(err) {
		if informer, ok := err.(Informer); ok {
			return informer.Info()
		}
	}
	return nil
}

// Timestamp returns the error timestamp created with `WithTimestamp()` and
// true. Otherwise, the zero time and false are returned.
func Timestamp(err error) (t time.Time, ok bool) {
	for ; err != nil; err = next(err) {
		if timestamper, ok := err.(Timestamper); ok {
			return timestamper.Timestamp(), true
		}
	}
	return time.Time{}, false
}

// Key returns the deepest key attached to the error if any.
func Key(err error) (k KeyType, exists bool) {
	for ; err != nil; err = next(err) {
		if keyer, ok := err.(Keyer); ok {
			k = keyer.Key()
			exists = true
		}
	}
	return k, exists
}

type ErrorCollection []error

func (c ErrorCollection) Error() string {
	var s strings.Builder
	s.WriteString("multiple errors occurred:")
	for i, e := range c {
		fmt.Fprintf(&s, " (error %d) %s;", i+1, e.Error())
	}
	// Return the build string without the trailing `;`
	return s.String()[:s.Len()-1]
}

func (c *ErrorCollection) Add(e error) {
	*c = append(*c, e)
}

// ToError returns nil when the collection is empty, the single error when it
// only holds one, and the collection otherwise.
func (c ErrorCollection) ToError() error {
	switch len(c) {
	case 0:
		return nil
	case 1:
		return c[0]
	default:
		return c
	}
}
