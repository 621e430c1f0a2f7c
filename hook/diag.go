// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package hook

import (
	"fmt"

	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
)

// FailureEvent is the event name of the diagnostic record.
const FailureEvent = "hook installation failed"

// FailureRecord is the structured diagnostic attached to the logged error of
// a logical hook point whose candidates were all exhausted. It is retrieved
// with sqerrors.Info().
type FailureRecord struct {
	Event  string `json:"event"`
	Symbol string `json:"symbol"`
	Tag    string `json:"tag,omitempty"`
}

// FailureError is the error of a logical hook point that could not be
// installed. It wraps the installation error of the resolved candidate, if
// any.
type FailureError struct {
	// Symbol name of the first candidate.
	Symbol string
	// Number of candidates of the point.
	Candidates int
	// Installation error of the candidate that resolved but failed.
	Errors sqerrors.ErrorCollection
}

func (e *FailureError) Error() string {
	msg := fmt.Sprintf("%s: symbol `%s`", FailureEvent, e.Symbol)
	if e.Candidates > 1 {
		msg += fmt.Sprintf(" (%d candidates)", e.Candidates)
	}
	if err := e.Errors.ToError(); err != nil {
		msg += ": " + err.Error()
	}
	return msg
}

func (e *FailureError) Unwrap() error {
	return e.Errors.ToError()
}

// reportFailure logs the diagnostic of an exhausted hook point and returns
// its error.
func (i *Installer) reportFailure(first Symbol, candidates int, errs sqerrors.ErrorCollection) error {
	err := &FailureError{
		Symbol:     first.Name(),
		Candidates: candidates,
		Errors:     errs,
	}
	record := FailureRecord{
		Event:  FailureEvent,
		Symbol: first.Name(),
		Tag:    i.tag,
	}
	i.errors.Error(sqerrors.WithKey(sqerrors.WithInfo(err, record), first.Name()))
	return err
}
