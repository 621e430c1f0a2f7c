// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

// Package elfsym resolves symbol addresses out of ELF files. Its Resolver
// implements the exact and prefix resolver interfaces of package hook, which
// allows to resolve hook points without the dynamic loader, for example on a
// library mapped by another process, or ahead of time.
package elfsym

import (
	"debug/elf"
	"os"
	"strings"

	iradix "github.com/hashicorp/go-immutable-radix"
	"github.com/sqreen/go-hookhelper/hook"
	"github.com/sqreen/go-hookhelper/internal/plog"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
	"github.com/sqreen/go-hookhelper/internal/sqlib/squnsafe"
)

// Resolver is a read-only symbol table indexed by name. Addresses are symbol
// values offset by the load bias.
type Resolver struct {
	path  string
	index *iradix.Tree
	bias  uintptr
	// Page-aligned virtual address of the first loadable segment.
	base uint64
	// Architecture of the file, as GOARCH values, and its pointer size.
	arch    string
	ptrSize int

	logger plog.DebugLogger
}

var (
	_ hook.Resolver       = (*Resolver)(nil)
	_ hook.PrefixResolver = (*Resolver)(nil)
)

// Option configures a Resolver.
type Option func(*Resolver)

// WithBias sets the load bias added to the symbol values.
func WithBias(bias uintptr) Option {
	return func(r *Resolver) {
		r.bias = bias
	}
}

// WithLogger sets the logger of debug traces.
func WithLogger(logger plog.DebugLogger) Option {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// Open reads the static and dynamic symbol tables of the given ELF file.
// Undefined symbols and symbols other than functions and objects are ignored.
func Open(path string, opts ...Option) (*Resolver, error) {
	f, err := elf.Open(path)
	if err != nil {
		return nil, sqerrors.Wrapf(err, "elfsym: could not open `%s`", path)
	}
	defer f.Close()

	var symbols []elf.Symbol
	static, err := f.Symbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, sqerrors.Wrapf(err, "elfsym: could not read the symbol table of `%s`", path)
	}
	symbols = append(symbols, static...)
	dynamic, err := f.DynamicSymbols()
	if err != nil && err != elf.ErrNoSymbols {
		return nil, sqerrors.Wrapf(err, "elfsym: could not read the dynamic symbol table of `%s`", path)
	}
	symbols = append(symbols, dynamic...)
	if len(symbols) == 0 {
		return nil, sqerrors.Errorf("elfsym: `%s` has no symbol table (stripped binary?)", path)
	}

	r := New(symbols, opts...)
	r.path = path
	r.base = firstLoadAddress(f.Progs)
	r.arch = goarch(f.Machine)
	if f.Class == elf.ELFCLASS32 {
		r.ptrSize = 4
	} else {
		r.ptrSize = 8
	}
	r.logger.Debugf("elfsym: %d symbols read from `%s`", r.Len(), path)
	return r, nil
}

// New returns the resolver of the given symbols. When a name is defined more
// than once, the first definition wins.
func New(symbols []elf.Symbol, opts ...Option) *Resolver {
	r := &Resolver{}
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = plog.NewLogger(plog.Disabled, nil, nil)
	}

	txn := iradix.New().Txn()
	for _, sym := range symbols {
		if !isDefined(sym) {
			continue
		}
		key := squnsafe.StringToBytes(sym.Name)
		if _, exists := txn.Get(key); exists {
			continue
		}
		txn.Insert(key, sym.Value)
	}
	r.index = txn.Commit()
	return r
}

func isDefined(sym elf.Symbol) bool {
	if sym.Name == "" || sym.Value == 0 || sym.Section == elf.SHN_UNDEF {
		return false
	}
	switch elf.ST_TYPE(sym.Info) {
	case elf.STT_FUNC, elf.STT_OBJECT:
		return true
	default:
		return false
	}
}

func firstLoadAddress(progs []*elf.Prog) uint64 {
	pageMask := uint64(os.Getpagesize() - 1)
	for _, prog := range progs {
		if prog.Type == elf.PT_LOAD {
			return prog.Vaddr &^ pageMask
		}
	}
	return 0
}

func goarch(m elf.Machine) string {
	switch m {
	case elf.EM_AARCH64:
		return "arm64"
	case elf.EM_ARM:
		return "arm"
	case elf.EM_X86_64:
		return "amd64"
	case elf.EM_386:
		return "386"
	case elf.EM_RISCV:
		return "riscv64"
	default:
		return strings.ToLower(strings.TrimPrefix(m.String(), "EM_"))
	}
}

// Arch returns the architecture of the ELF file as a GOARCH value, empty when
// not created by Open().
func (r *Resolver) Arch() string { return r.arch }

// PtrSize returns the pointer size of the ELF file, zero when not created by
// Open().
func (r *Resolver) PtrSize() int { return r.ptrSize }

// Path returns the ELF file path, empty when not created by Open().
func (r *Resolver) Path() string { return r.path }

// Len returns the number of indexed symbols.
func (r *Resolver) Len() int { return r.index.Len() }

// Bias returns the load bias.
func (r *Resolver) Bias() uintptr { return r.bias }

// SetBias sets the load bias. The resolver must not be used concurrently.
func (r *Resolver) SetBias(bias uintptr) { r.bias = bias }

// Attach sets the load bias of the file according to its mapping in the
// process of the given pid.
func (r *Resolver) Attach(pid int) error {
	if r.path == "" {
		return sqerrors.New("elfsym: cannot attach a resolver without file")
	}
	start, err := MappingStart(pid, r.path)
	if err != nil {
		return err
	}
	r.bias = uintptr(start - r.base)
	r.logger.Debugf("elfsym: `%s` mapped at %#x in process %d, load bias %#x", r.path, start, pid, r.bias)
	return nil
}

// ResolveExact returns the address of the symbol of the given name, or 0 when
// not found.
func (r *Resolver) ResolveExact(name string) uintptr {
	v, exists := r.index.Get(squnsafe.StringToBytes(name))
	if !exists {
		return 0
	}
	return r.address(v.(uint64))
}

// ResolveByPrefix returns the address of the first symbol, in lexicographic
// order, whose name starts with the given prefix, or 0 when none does.
func (r *Resolver) ResolveByPrefix(prefix string) uintptr {
	var (
		value uint64
		name  []byte
	)
	r.index.Root().WalkPrefix(squnsafe.StringToBytes(prefix), func(k []byte, v interface{}) bool {
		name, value = k, v.(uint64)
		return true
	})
	if value == 0 {
		return 0
	}
	r.logger.Debugf("elfsym: prefix `%s` matched symbol `%s`", prefix, name)
	return r.address(value)
}

func (r *Resolver) address(value uint64) uintptr {
	return uintptr(value) + r.bias
}
