// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

// Command symcheck tells which candidate symbol of the configured hook points
// would be installed in a given ELF file, without installing anything.
//
//	symcheck --elf libart.so --config hookhelper.yml --sdk 30 --output yaml
package main

import (
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/spf13/pflag"
	"github.com/sqreen/go-hookhelper/hook"
	"github.com/sqreen/go-hookhelper/internal/condition"
	"github.com/sqreen/go-hookhelper/internal/config"
	"github.com/sqreen/go-hookhelper/internal/plog"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
	"github.com/sqreen/go-hookhelper/resolver/elfsym"
)

func main() {
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

type flags struct {
	elf      string
	config   string
	bias     string
	pid      int
	sdk      int
	output   string
	logLevel string
}

func (f *flags) addFlags(fs *pflag.FlagSet) {
	fs.StringVar(&f.elf, "elf", "", "ELF file to resolve the symbols from (required)")
	fs.StringVar(&f.config, "config", "", "Configuration file listing the hook points")
	fs.StringVar(&f.bias, "bias", "0", "Load bias added to the symbol values (e.g. 0x7000000000)")
	fs.IntVar(&f.pid, "pid", 0, "Compute the load bias of the ELF file mapped in the process of this pid")
	fs.IntVar(&f.sdk, "sdk", 0, "API level of the host runtime the conditions are evaluated with")
	fs.StringVarP(&f.output, "output", "o", "text", "Output format (text|yaml)")
	fs.StringVar(&f.logLevel, "log-level", plog.InfoString, "Log level (disabled|error|info|debug)")
}

func run(args []string, stdout, stderr io.Writer) error {
	var f flags
	fs := pflag.NewFlagSet("symcheck", pflag.ContinueOnError)
	fs.SetOutput(stderr)
	f.addFlags(fs)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if f.elf == "" {
		return sqerrors.New("symcheck: missing --elf file")
	}
	if f.output != "text" && f.output != "yaml" {
		return sqerrors.Errorf("symcheck: unexpected output format `%s`", f.output)
	}
	bias, err := strconv.ParseUint(f.bias, 0, 64)
	if err != nil {
		return sqerrors.Wrap(err, "symcheck: invalid --bias value")
	}

	cfg, err := config.Load(plog.NewLogger(plog.ParseLogLevel(f.logLevel), stderr, nil), f.config)
	if err != nil {
		return err
	}
	// The command line has precedence over the configuration file.
	if err := cfg.BindPFlag("log_level", fs.Lookup("log-level")); err != nil {
		return sqerrors.Wrap(err, "symcheck: log level flag")
	}
	logger := plog.NewTaggedLogger(cfg.LogTag(), cfg.LogLevel(), stderr, nil)

	resolver, err := elfsym.Open(f.elf, elfsym.WithBias(uintptr(bias)), elfsym.WithLogger(logger))
	if err != nil {
		return err
	}
	if f.pid != 0 {
		if err := resolver.Attach(f.pid); err != nil {
			return err
		}
	}

	registry, err := newRegistry(cfg.HookPoints())
	if err != nil {
		return err
	}

	installer := hook.NewInstaller(dryRun{resolver}, hook.WithLogger(logger), hook.WithTag(cfg.LogTag()))
	env := condition.Env{
		SDK:     f.sdk,
		Arch:    resolver.Arch(),
		PtrSize: resolver.PtrSize(),
	}
	logger.Debugf("symcheck: evaluating the hook point conditions in environment %+v", env)
	report, installErr := registry.Install(installer, cfg.Policy(env))

	if err := writeReport(stdout, f.output, installer, registry, report); err != nil {
		return err
	}
	return installErr
}

// dryRun is a host handler resolving symbols from an ELF file whose inline
// hook doesn't patch anything. The target is returned as backup address.
type dryRun struct {
	*elfsym.Resolver
}

func (dryRun) InlineHook(target, _ uintptr) uintptr { return target }

// The replacement of every candidate. It is never called.
func noop() {}

func newRegistry(points []config.HookPoint) (*hook.Registry, error) {
	r := hook.NewRegistry()
	for _, p := range points {
		if len(p.Symbols) == 0 {
			return nil, sqerrors.Errorf("hook point `%s` has no symbols to check", p.Name)
		}
		candidates := make([]hook.Descriptor, 0, len(p.Symbols))
		for _, name := range p.Symbols {
			sym := hook.Sym(name)
			if p.Prefix {
				sym = hook.SymPrefix(name)
			}
			h, err := hook.NewHooker(sym, noop)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, h)
		}
		if err := r.Register(hook.Point{Name: p.Name, Candidates: candidates, Optional: p.Optional}); err != nil {
			return nil, err
		}
	}
	return r, nil
}
