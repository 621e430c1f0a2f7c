// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package testlib

import (
	"math/rand"
	"strings"
	"unicode/utf8"

	fuzz "github.com/google/gofuzz"
)

// RandString returns a random string of ASCII letters. Its length is either
// the given size, or randomly chosen in the given [from, to) range.
func RandString(size ...int) string {
	letterRunes := []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")

	n := randLen(size...)
	b := make([]rune, n)
	for i := range b {
		b[i] = letterRunes[rand.Intn(len(letterRunes))]
	}
	return string(b)
}

// RandUTF8String returns a random non-empty and valid UTF-8 string without
// NUL characters.
func RandUTF8String(size ...int) string {
	if len(size) == 0 {
		size = []int{1, 64}
	}
	n := randLen(size...)
	f := fuzz.New().NilChance(0)
	var s strings.Builder
	for s.Len() < n {
		var r rune
		f.Fuzz(&r)
		if r == 0 || r == utf8.RuneError || !utf8.ValidRune(r) {
			continue
		}
		s.WriteRune(r)
	}
	return s.String()
}

// RandSymbol returns a random symbol name made of the characters found in
// mangled C++ and Go symbol names.
func RandSymbol() string {
	const chars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789_.$"
	n := randLen(4, 48)
	b := make([]byte, n)
	b[0] = '_'
	for i := 1; i < n; i++ {
		b[i] = chars[rand.Intn(len(chars))]
	}
	return string(b)
}

func randLen(size ...int) int {
	switch len(size) {
	case 1:
		return size[0]
	case 2:
		from, to := size[0], size[1]
		return from + rand.Intn(to-from)
	default:
		panic("unexpected arguments")
	}
}
