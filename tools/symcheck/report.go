// Copyright (c) 2016 - 2020 Sqreen. All Rights Reserved.
// Please refer to our terms for more information:
// https://www.sqreen.io/terms.html

package main

import (
	"fmt"
	"io"

	"github.com/sqreen/go-hookhelper/hook"
	"gopkg.in/yaml.v3"
)

type pointReport struct {
	Name       string   `yaml:"name"`
	Status     string   `yaml:"status"`
	Symbol     string   `yaml:"symbol,omitempty"`
	Address    string   `yaml:"address,omitempty"`
	Candidates []string `yaml:"candidates"`
	Error      string   `yaml:"error,omitempty"`
}

func newPointReports(installer *hook.Installer, registry *hook.Registry, report *hook.Report) []pointReport {
	candidates := make(map[string][]string)
	for _, p := range registry.Points() {
		for _, d := range p.Candidates {
			candidates[p.Name] = append(candidates[p.Name], d.Symbol().String())
		}
	}

	reports := make([]pointReport, 0, len(report.Results))
	for _, res := range report.Results {
		r := pointReport{
			Name:       res.Point,
			Status:     res.Status.String(),
			Candidates: candidates[res.Point],
		}
		if res.Status == hook.StatusInstalled {
			r.Symbol = res.Symbol.Name()
			r.Address = fmt.Sprintf("%#x", installer.Dlsym(res.Symbol.Name(), res.Symbol.MatchPrefix()))
		}
		if res.Err != nil {
			r.Error = res.Err.Error()
		}
		reports = append(reports, r)
	}
	return reports
}

func writeReport(w io.Writer, format string, installer *hook.Installer, registry *hook.Registry, report *hook.Report) error {
	switch format {
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(newPointReports(installer, registry, report)); err != nil {
			return err
		}
		return enc.Close()
	default:
		_, err := io.WriteString(w, report.String())
		return err
	}
}
