// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

// Hook helper configuration package.

// This package includes the run-time configuration of the hook installation:
// logging settings and per hook point settings, read from a configuration
// file or environment variables.

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/spf13/viper"
	"github.com/sqreen/go-hookhelper/hook"
	"github.com/sqreen/go-hookhelper/internal/condition"
	"github.com/sqreen/go-hookhelper/internal/plog"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
)

type Config struct {
	*viper.Viper
}

const (
	configEnvPrefix    = `hookhelper`
	configFileBasename = `hookhelper`
)

const (
	configEnvKeyConfigFile = `config_file`

	configKeyLogLevel   = `log_level`
	configKeyLogTag     = `log_tag`
	configKeyDisable    = `disable`
	configKeyHookPoints = `hook_points`
)

// User configuration's default values.
const (
	configDefaultLogLevel = `info`
	configDefaultLogTag   = plog.DefaultTag
)

// HookPoint is the configuration of a hook point. Symbols are the ordered
// candidate symbol names of the point, only read by offline symbol checks:
// the runtime candidates are the descriptors registered in code, and a point
// may be configured by name only.
type HookPoint struct {
	Name      string   `mapstructure:"name" yaml:"name"`
	Symbols   []string `mapstructure:"symbols" yaml:"symbols"`
	Prefix    bool     `mapstructure:"prefix" yaml:"prefix,omitempty"`
	Condition string   `mapstructure:"condition" yaml:"condition,omitempty"`
	Disabled  bool     `mapstructure:"disabled" yaml:"disabled,omitempty"`
	Optional  bool     `mapstructure:"optional" yaml:"optional,omitempty"`
}

// New returns the configuration read from the configuration file found in
// the current directory or the executable directory, or enforced by the
// environment variable HOOKHELPER_CONFIG_FILE.
func New(logger plog.DebugLevelLogger) (*Config, error) {
	return Load(logger, "")
}

// Load is New() with a configuration file enforced by the caller when
// `configFile` is not empty.
func Load(logger plog.DebugLevelLogger, configFile string) (*Config, error) {
	manager := viper.New()
	manager.SetEnvPrefix(configEnvPrefix)
	manager.AutomaticEnv()
	manager.SetConfigName(configFileBasename)

	// Default values of configurable parameters
	parameters := []struct {
		key          string
		defaultValue interface{}
	}{
		{key: configKeyLogLevel, defaultValue: configDefaultLogLevel},
		{key: configKeyLogTag, defaultValue: configDefaultLogTag},
		{key: configKeyDisable, defaultValue: ""},
	}
	for _, p := range parameters {
		manager.SetDefault(p.key, p.defaultValue)
	}

	// Configuration file settings
	configFileEnvVar := strings.ToUpper(configEnvPrefix + "_" + configEnvKeyConfigFile)
	if configFile != "" {
		manager.SetConfigFile(configFile)
		logger.Infof("config: configuration file enforced to `%s`", configFile)
	} else if configFile = os.Getenv(configFileEnvVar); configFile != "" {
		// File location enforced by the user
		manager.SetConfigFile(configFile)
		logger.Infof("config: configuration file enforced by the environment variable `%s` to `%s`", configFileEnvVar, configFile)
	} else {
		// Not enforced: add possible paths in precedence order
		// 1. Current working directory path:
		manager.AddConfigPath(`.`)
		// 2. Executable path
		exec, err := os.Executable()
		if err != nil {
			logger.Error(sqerrors.Wrap(err, "config: could not read the executable file path"))
		} else {
			manager.AddConfigPath(filepath.Dir(exec))
		}
	}
	// Try to read a configuration file according to the previous settings
	if readErr, fileUsed := manager.ReadInConfig(), manager.ConfigFileUsed(); readErr != nil && fileUsed != "" {
		// Could not read despite the fact of having found a file
		logger.Error(sqerrors.Wrap(readErr, fmt.Sprintf("config: could not read the configuration file `%s`: falling back to environment variables", fileUsed)))
	} else if fileUsed != "" {
		// A file was found and no error reading it
		logger.Infof("config: reading configuration settings from file `%s`", fileUsed)
	} else {
		logger.Infof("config: reading configuration settings from environment variables")
	}

	cfg := &Config{Viper: manager}
	if cfg.LogLevel() == plog.Debug {
		logger.Infof("config: setting: %s = %q", configFileEnvVar, configFile)
		for _, p := range parameters {
			logger.Infof("config: settings: %s = %q", p.key, cfg.GetString(p.key))
		}
	}

	if err := cfg.health(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LogLevel returns the log level.
func (c *Config) LogLevel() plog.LogLevel {
	return plog.ParseLogLevel(sanitizeString(c.GetString(configKeyLogLevel)))
}

// LogTag returns the tag of the log lines and diagnostic records.
func (c *Config) LogTag() string {
	tag := sanitizeString(c.GetString(configKeyLogTag))
	if tag == "" {
		return configDefaultLogTag
	}
	return tag
}

// Disabled returns true when no hook should be installed, false otherwise.
// Any non-empty value other than a false boolean value disables the hooks.
func (c *Config) Disabled() bool {
	disable := sanitizeString(c.GetString(configKeyDisable))
	if b, err := strconv.ParseBool(disable); err == nil {
		return b
	}
	return disable != ""
}

// HookPoints returns the configured hook points. They are checked by health()
// so this function doesn't need to return an error.
func (c *Config) HookPoints() []HookPoint {
	points, _ := c.hookPoints()
	return points
}

func (c *Config) hookPoints() ([]HookPoint, error) {
	var points []HookPoint
	if err := c.UnmarshalKey(configKeyHookPoints, &points); err != nil {
		return nil, err
	}
	for i := range points {
		points[i].Name = sanitizeString(points[i].Name)
		for j := range points[i].Symbols {
			points[i].Symbols[j] = sanitizeString(points[i].Symbols[j])
		}
	}
	return points, nil
}

// Policy returns the hook point policy of the configuration in the given
// environment: points configured as disabled or whose condition evaluates to
// false are disabled. Points absent from the configuration are enabled.
func (c *Config) Policy(env condition.Env) hook.Policy {
	p := &policy{
		env:    env,
		points: make(map[string]pointPolicy),
	}
	for _, point := range c.HookPoints() {
		// The conditions are checked by health()
		cond, _ := condition.Compile(point.Condition)
		p.points[point.Name] = pointPolicy{
			disabled:  point.Disabled,
			condition: cond,
		}
	}
	return p
}

type policy struct {
	env    condition.Env
	points map[string]pointPolicy
}

type pointPolicy struct {
	disabled  bool
	condition *condition.Condition
}

func (p *policy) Enabled(point string) (bool, error) {
	pp, exists := p.points[point]
	if !exists {
		return true, nil
	}
	if pp.disabled {
		return false, nil
	}
	return pp.condition.Eval(p.env)
}

func sanitizeString(s string) string {
	return strings.TrimSpace(s)
}

func (c *Config) health() error {
	points, err := c.hookPoints()
	if err != nil {
		return sqerrors.Wrap(err, "config: invalid hook points")
	}
	if err := validateHookPoints(points); err != nil {
		return sqerrors.Wrap(err, "config: invalid hook points")
	}
	return nil
}

func validateHookPoints(points []HookPoint) error {
	names := make(map[string]struct{}, len(points))
	for i, p := range points {
		if p.Name == "" {
			return sqerrors.Errorf("missing name of hook point %d", i)
		}
		if _, exists := names[p.Name]; exists {
			return sqerrors.Errorf("duplicate hook point `%s`", p.Name)
		}
		names[p.Name] = struct{}{}

		for _, sym := range p.Symbols {
			if sym == "" {
				return sqerrors.Errorf("hook point `%s` has an empty symbol name", p.Name)
			}
		}

		if _, err := condition.Compile(p.Condition); err != nil {
			return sqerrors.Wrapf(err, "hook point `%s`", p.Name)
		}
	}
	return nil
}
