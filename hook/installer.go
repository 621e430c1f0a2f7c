// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package hook

import (
	"os"

	"github.com/sqreen/go-hookhelper/internal/plog"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqassert"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqsafe"
)

// Outcome of the installation of a single candidate.
type Outcome int

const (
	// NotFound means the candidate address could not be resolved. This is an
	// expected outcome when the symbol doesn't exist in this runtime version.
	NotFound Outcome = iota
	// Installed means the hook was installed and the backup slot set.
	Installed
	// Failed means the candidate was resolved but the installation failed.
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Installed:
		return "installed"
	case Failed:
		return "failed"
	default:
		return "not found"
	}
}

// Installer resolves and installs hook descriptors using the host handler.
// It has no internal synchronization and is expected to be used once, at
// initialization, before the hooked functions can be called concurrently.
type Installer struct {
	handler Handler
	debug   plog.DebugLogger
	errors  plog.ErrorLogger
	tag     string
}

// Option configures an Installer.
type Option func(*Installer)

// WithLogger sets the logger of debug traces and diagnostics.
func WithLogger(logger plog.DebugLevelLogger) Option {
	return func(i *Installer) {
		i.debug = logger
		i.errors = logger
	}
}

// WithErrorLogger only sets the logger of diagnostics.
func WithErrorLogger(logger plog.ErrorLogger) Option {
	return func(i *Installer) {
		i.errors = logger
	}
}

// WithTag sets the tag reported in the diagnostic records.
func WithTag(tag string) Option {
	return func(i *Installer) {
		i.tag = tag
	}
}

// NewInstaller returns an installer using the given host handler. Without
// options, diagnostics are logged to stderr and debug traces are disabled.
func NewInstaller(h Handler, opts ...Option) *Installer {
	sqassert.NotNil(h)
	i := &Installer{
		handler: h,
		tag:     plog.DefaultTag,
	}
	for _, opt := range opts {
		opt(i)
	}
	if i.errors == nil {
		i.errors = plog.NewLogger(plog.Error, os.Stderr, nil)
	}
	if i.debug == nil {
		i.debug = plog.NewLogger(plog.Disabled, nil, nil)
	}
	return i
}

// Dlsym returns the address of the given symbol name using the exact
// resolver first. When it fails and `matchPrefix` is true, the prefix
// resolver is used when the handler provides one. Zero is returned when the
// symbol is not found.
func (i *Installer) Dlsym(name string, matchPrefix bool) uintptr {
	if addr := i.handler.ResolveExact(name); addr != 0 {
		return addr
	}
	if !matchPrefix {
		return 0
	}
	if resolver, ok := i.handler.(PrefixResolver); ok {
		return resolver.ResolveByPrefix(name)
	}
	return 0
}

// HookAt installs the descriptor at the given target address. It returns
// false without side effect when the target is zero.
func (i *Installer) HookAt(target uintptr, d Descriptor) bool {
	outcome, err := i.install(target, d)
	if err != nil {
		i.errors.Error(err)
	}
	return outcome == Installed
}

// Hook installs the descriptor at the address of its symbol when
// `resolveSymbol` is true, or at the fixed address of its symbol otherwise
// (cf. SymAt()). It returns false without side effect when the address is
// zero.
//
// Hooking an already installed descriptor installs it again and overwrites
// its backup: callers must make sure it is done once.
func (i *Installer) Hook(d Descriptor, resolveSymbol bool) bool {
	outcome, err := i.try(d, resolveSymbol)
	if err != nil {
		i.errors.Error(err)
	}
	return outcome == Installed
}

// HookAny installs the first candidate whose symbol resolves, in the given
// order. Next candidates are not resolved, even when the installation of the
// resolved one failed. When no candidate could be installed, a single
// diagnostic naming the first candidate symbol is logged and false is
// returned.
func (i *Installer) HookAny(first Descriptor, rest ...Descriptor) bool {
	candidates := make([]Descriptor, 0, len(rest)+1)
	candidates = append(candidates, first)
	candidates = append(candidates, rest...)
	_, err := i.hookFirst(candidates)
	return err == nil
}

// Retrieve resolves the first symbol found among the given candidates and
// stores its address into the entry, without hooking it. It returns false
// when none is found. Prefix symbols also try the prefix resolver, and
// fixed-address symbols are taken as is.
func (i *Installer) Retrieve(e Entry, candidates ...Symbol) bool {
	for _, sym := range candidates {
		addr := i.resolve(sym, sym.Addr() == 0)
		if addr == 0 {
			continue
		}
		if err := e.set(sym, addr); err != nil {
			i.errors.Error(sqerrors.Wrap(err, "symbol retrieval"))
			return false
		}
		i.debug.Debugf("hook: retrieved symbol `%s` at %#x", sym, addr)
		return true
	}
	return false
}

// hookFirst is the short-circuiting loop over the candidates of a logical
// hook point. It returns the installed candidate, or the logged diagnostic
// error. The loop stops at the first resolved candidate: once the inline hook
// primitive was called, the target may be patched even when the installation
// failed, and hooking another candidate could patch the point twice.
func (i *Installer) hookFirst(candidates []Descriptor) (Descriptor, error) {
	if len(candidates) == 0 {
		return nil, sqerrors.New("hook: no candidate descriptors")
	}

	var errs sqerrors.ErrorCollection
	for _, d := range candidates {
		outcome, err := i.try(d, true)
		if outcome == Installed {
			return d, nil
		}
		if outcome == Failed {
			errs.Add(err)
			break
		}
	}
	return nil, i.reportFailure(candidates[0].Symbol(), len(candidates), errs)
}

func (i *Installer) try(d Descriptor, resolveSymbol bool) (Outcome, error) {
	sqassert.NotNil(d)
	return i.install(i.resolve(d.Symbol(), resolveSymbol), d)
}

func (i *Installer) resolve(sym Symbol, resolveSymbol bool) uintptr {
	if !resolveSymbol {
		return sym.Addr()
	}
	return i.Dlsym(sym.Name(), sym.MatchPrefix())
}

func (i *Installer) install(target uintptr, d Descriptor) (Outcome, error) {
	sym := d.Symbol()
	if target == 0 {
		return NotFound, nil
	}

	var backup uintptr
	err := sqsafe.Call(func() error {
		backup = i.handler.InlineHook(target, d.replacement())
		return nil
	})
	if err != nil {
		return Failed, sqerrors.Wrapf(err, "hook: inline hook of symbol `%s` at %#x", sym, target)
	}
	if err := d.setBackup(backup); err != nil {
		return Failed, sqerrors.Wrapf(err, "hook: inline hook of symbol `%s` at %#x", sym, target)
	}

	i.debug.Debugf("hook: symbol `%s` at %#x hooked, backup at %#x", sym, target, backup)
	return Installed, nil
}
