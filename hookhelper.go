// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

// Package hookhelper installs the hook points of a program into a host
// runtime according to the user configuration. Hook points are declared with
// package hook and registered into a hook.Registry, usually at package
// initialization, and installed once by Init() when the host handler becomes
// available:
//
//		var registry = hook.NewRegistry().MustRegister(hook.Point{
//			Name: "open",
//			Candidates: []hook.Descriptor{openV1Hooker, openV2Hooker},
//		})
//
//		func OnLoad(h hook.Handler, sdk int) {
//			report, err := hookhelper.Init(h, registry, hookhelper.CurrentEnv(sdk))
//			// ...
//		}
//
// The configuration file `hookhelper.yml` allows to change the log level and
// tag, to disable every hook point, or to enable a given hook point according
// to a condition on the host runtime. Hook points are referred to by their
// registered name, for example:
//
//		log_level: debug
//		hook_points:
//		  - name: open
//		    condition: SDK >= 30
//
// The optional `symbols` and `prefix` keys of a hook point are only used by
// the offline symbol checker tools/symcheck.
package hookhelper

import (
	"io"
	"os"

	"github.com/sqreen/go-hookhelper/hook"
	"github.com/sqreen/go-hookhelper/internal/condition"
	"github.com/sqreen/go-hookhelper/internal/config"
	"github.com/sqreen/go-hookhelper/internal/plog"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqsafe"
)

// Env is the host runtime environment in which the hook point conditions are
// evaluated.
type Env = condition.Env

// CurrentEnv returns the environment of the current process running the host
// runtime of the given API level.
func CurrentEnv(sdk int) Env { return condition.CurrentEnv(sdk) }

type options struct {
	configFile string
	out        io.Writer
	errChan    chan error
}

// Option configures Init().
type Option func(*options)

// WithConfigFile enforces the configuration file to read.
func WithConfigFile(path string) Option {
	return func(o *options) {
		o.configFile = path
	}
}

// WithLogOutput sets the writer of the log lines, stderr by default.
func WithLogOutput(out io.Writer) Option {
	return func(o *options) {
		o.out = out
	}
}

// WithErrorChan sets the channel the logged errors are also sent to, without
// blocking. Errors are only logged by default.
func WithErrorChan(errChan chan error) Option {
	return func(o *options) {
		o.errChan = errChan
	}
}

// Init reads the configuration and installs the points of the registry
// enabled by it using the given host handler. The registry is installed once:
// next calls return the same report. Panics are recovered and returned as
// errors.
func Init(h hook.Handler, r *hook.Registry, env Env, opts ...Option) (report *hook.Report, err error) {
	o := options{
		out: os.Stderr,
	}
	for _, opt := range opts {
		opt(&o)
	}

	err = sqsafe.Call(func() error {
		var err error
		report, err = initialize(h, r, env, &o)
		return err
	})
	return report, err
}

func initialize(h hook.Handler, r *hook.Registry, env Env, o *options) (*hook.Report, error) {
	if h == nil || r == nil {
		return nil, sqerrors.New("hookhelper: unexpected nil handler or registry")
	}

	bootLogger := plog.NewLogger(plog.Info, o.out, o.errChan)
	cfg, err := config.Load(bootLogger, o.configFile)
	if err != nil {
		err = sqerrors.Wrap(err, "hookhelper: hooks disabled")
		bootLogger.Error(err)
		return nil, err
	}

	logger := plog.NewTaggedLogger(cfg.LogTag(), cfg.LogLevel(), o.out, o.errChan)
	installer := hook.NewInstaller(h, hook.WithLogger(logger), hook.WithTag(cfg.LogTag()))

	policy := cfg.Policy(env)
	if cfg.Disabled() {
		logger.Infof("hookhelper: hooks disabled by the configuration")
		policy = hook.PolicyFunc(func(string) (bool, error) { return false, nil })
	} else {
		logger.Debugf("hookhelper: installing hook points in environment %+v", env)
	}

	report, err := r.Install(installer, policy)
	logger.Infof("hookhelper: %d hook points installed, %d failed, %d skipped",
		report.Count(hook.StatusInstalled), report.Count(hook.StatusFailed), report.Count(hook.StatusSkipped))
	if err != nil {
		logger.Error(sqerrors.Wrap(err, "hookhelper: required hook points"))
	}
	return report, err
}
