// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package hook

import (
	"fmt"
	"strings"
	"sync"

	"github.com/sqreen/go-hookhelper/internal/sqlib/sqassert"
	"github.com/sqreen/go-hookhelper/internal/sqlib/sqerrors"
)

// Point is a logical hook point: the ordered candidate descriptors of the
// same function across runtime versions. At most one of them gets installed.
type Point struct {
	// Name of the point, unique in its registry.
	Name string
	// Candidates in resolution order.
	Candidates []Descriptor
	// Optional points don't make Registry.Install() return an error when they
	// cannot be installed.
	Optional bool
}

// Policy tells whether a point should be installed.
type Policy interface {
	Enabled(point string) (bool, error)
}

// PolicyFunc is a function implementing Policy.
type PolicyFunc func(point string) (bool, error)

func (f PolicyFunc) Enabled(point string) (bool, error) { return f(point) }

// AllPoints is the policy enabling every point.
var AllPoints Policy = PolicyFunc(func(string) (bool, error) { return true, nil })

// Status of a point after Registry.Install().
type Status int

const (
	StatusInstalled Status = iota
	StatusFailed
	StatusSkipped
)

func (s Status) String() string {
	switch s {
	case StatusInstalled:
		return "installed"
	case StatusFailed:
		return "failed"
	default:
		return "skipped"
	}
}

// PointResult is the installation result of a point.
type PointResult struct {
	Point  string
	Status Status
	// Symbol of the installed candidate.
	Symbol Symbol
	// Err is the diagnostic error of a failed point, or the policy error of a
	// skipped point.
	Err error
}

// Report lists the point results in registration order.
type Report struct {
	Results []PointResult
}

// Installed returns the installed symbol of the given point.
func (r *Report) Installed(point string) (Symbol, bool) {
	for _, res := range r.Results {
		if res.Point == point && res.Status == StatusInstalled {
			return res.Symbol, true
		}
	}
	return Symbol{}, false
}

// Count returns the number of points having the given status.
func (r *Report) Count(s Status) (n int) {
	for _, res := range r.Results {
		if res.Status == s {
			n++
		}
	}
	return n
}

func (r *Report) String() string {
	var s strings.Builder
	for _, res := range r.Results {
		switch res.Status {
		case StatusInstalled:
			fmt.Fprintf(&s, "%s: %s (%s)\n", res.Point, res.Status, res.Symbol)
		default:
			fmt.Fprintf(&s, "%s: %s\n", res.Point, res.Status)
		}
	}
	return s.String()
}

// Registry is the ordered table of the logical hook points of a program. Point
// names and candidate symbol names are unique in a registry. Its installation
// is performed once.
type Registry struct {
	points  []Point
	names   map[string]struct{}
	symbols map[string]string

	once   sync.Once
	report *Report
	err    error
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		names:   make(map[string]struct{}),
		symbols: make(map[string]string),
	}
}

// Register adds the point to the registry. It returns an error when the point
// is invalid, or when its name or one of its candidate symbol names is
// already registered.
func (r *Registry) Register(p Point) error {
	if p.Name == "" {
		return sqerrors.New("hook registry: unexpected empty point name")
	}
	if _, exists := r.names[p.Name]; exists {
		return sqerrors.Errorf("hook registry: point `%s` already registered", p.Name)
	}
	if len(p.Candidates) == 0 {
		return sqerrors.Errorf("hook registry: point `%s` has no candidates", p.Name)
	}

	seen := make(map[string]struct{}, len(p.Candidates))
	for i, d := range p.Candidates {
		if d == nil {
			return sqerrors.Errorf("hook registry: point `%s`: unexpected nil candidate %d", p.Name, i)
		}
		name := d.Symbol().Name()
		if owner, exists := r.symbols[name]; exists {
			return sqerrors.Errorf("hook registry: point `%s`: symbol `%s` already registered by point `%s`", p.Name, name, owner)
		}
		if _, exists := seen[name]; exists {
			return sqerrors.Errorf("hook registry: point `%s`: duplicate symbol `%s`", p.Name, name)
		}
		seen[name] = struct{}{}
	}

	for name := range seen {
		r.symbols[name] = p.Name
	}
	r.names[p.Name] = struct{}{}
	p.Candidates = append([]Descriptor(nil), p.Candidates...)
	r.points = append(r.points, p)
	sqassert.True(len(r.points) == len(r.names))
	return nil
}

// MustRegister registers the points and panics on error.
func (r *Registry) MustRegister(points ...Point) *Registry {
	for _, p := range points {
		if err := r.Register(p); err != nil {
			panic(err)
		}
	}
	return r
}

// Points returns the registered points in registration order.
func (r *Registry) Points() []Point {
	return append([]Point(nil), r.points...)
}

// Install installs the points enabled by the policy, in registration order,
// using Installer.HookAny() semantics. It is performed once: next calls return
// the first report and error without calling the installer again. The
// returned error collects the failures of the non-optional points and the
// policy errors.
func (r *Registry) Install(i *Installer, p Policy) (*Report, error) {
	r.once.Do(func() {
		r.report, r.err = r.install(i, p)
	})
	return r.report, r.err
}

func (r *Registry) install(i *Installer, p Policy) (*Report, error) {
	sqassert.NotNil(i)
	if p == nil {
		p = AllPoints
	}

	report := &Report{Results: make([]PointResult, 0, len(r.points))}
	var errs sqerrors.ErrorCollection
	for _, point := range r.points {
		res := PointResult{Point: point.Name}

		enabled, err := p.Enabled(point.Name)
		if err != nil {
			err = sqerrors.Wrapf(err, "hook registry: policy of point `%s`", point.Name)
			errs.Add(err)
			res.Status, res.Err = StatusSkipped, err
			report.Results = append(report.Results, res)
			continue
		}
		if !enabled {
			i.debug.Debugf("hook registry: point `%s` disabled", point.Name)
			res.Status = StatusSkipped
			report.Results = append(report.Results, res)
			continue
		}

		d, err := i.hookFirst(point.Candidates)
		if err != nil {
			res.Status, res.Err = StatusFailed, err
			if !point.Optional {
				errs.Add(sqerrors.Wrapf(err, "hook registry: point `%s`", point.Name))
			}
		} else {
			res.Status, res.Symbol = StatusInstalled, d.Symbol()
		}
		report.Results = append(report.Results, res)
	}
	return report, errs.ToError()
}
