// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package testlib

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/require"
)

// MarkerProgram is the source of a program defining the function
// `main.marker`, kept by the linker.
const MarkerProgram = `package main

import (
	"fmt"
	"os"
)

//go:noinline
func marker(a, b int) int { return a*b + 1 }

func main() {
	fmt.Println(marker(len(os.Args), 2))
}
`

// BuildProgram compiles the given main package source into an executable
// with its symbol table and returns its path. The test is skipped when the go
// command is not available or when the executable wouldn't be an ELF file.
func BuildProgram(t *testing.T, source string) string {
	t.Helper()
	if runtime.GOOS != "linux" {
		t.Skip("executables are not ELF files on " + runtime.GOOS)
	}
	goBin, err := exec.LookPath("go")
	if err != nil {
		goBin = filepath.Join(runtime.GOROOT(), "bin", "go")
		if _, err := os.Stat(goBin); err != nil {
			t.Skip("go command not found")
		}
	}

	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module program\n\ngo 1.20\n"), 0600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "main.go"), []byte(source), 0600))

	exe := filepath.Join(dir, "program")
	cmd := exec.Command(goBin, "build", "-o", exe, ".")
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "GOWORK=off", "GOFLAGS=-mod=mod", "CGO_ENABLED=0", "GOOS=linux", "GOARCH="+runtime.GOARCH)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, string(out))
	return exe
}
