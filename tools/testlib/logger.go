// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package testlib

import "github.com/stretchr/testify/mock"

// LoggerMockup mocks the plog debug-level logger interface.
type LoggerMockup struct {
	mock.Mock
}

func (l *LoggerMockup) Debug(v ...interface{}) {
	l.Called(v...)
}

func (l *LoggerMockup) Debugf(format string, v ...interface{}) {
	args := make([]interface{}, 0, len(v)+1)
	args = append(args, format)
	args = append(args, v...)
	l.Called(args...)
}

func (l *LoggerMockup) Info(v ...interface{}) {
	l.Called(v...)
}

func (l *LoggerMockup) Infof(format string, v ...interface{}) {
	args := make([]interface{}, 0, len(v)+1)
	args = append(args, format)
	args = append(args, v...)
	l.Called(args...)
}

func (l *LoggerMockup) Error(err error) {
	l.Called(err)
}

// ErrorLoggerMockup only mocks the error level, which is what the installer
// diagnostics use.
type ErrorLoggerMockup struct {
	mock.Mock
}

func (l *ErrorLoggerMockup) Error(err error) {
	l.Called(err)
}
