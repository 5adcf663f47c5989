// Package output renders throttle statistics and simulation timelines.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"gopkg.in/yaml.v3"

	"github.com/adamwoolhether/refractory/throttle"
)

// Format selects a renderer.
type Format string

const (
	FormatTable Format = "table"
	FormatJSON  Format = "json"
	FormatYAML  Format = "yaml"
)

// ParseFormat validates a user supplied format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case FormatTable, FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("unsupported output format: %q", s)
	}
}

// Step is one row of a simulated timeline.
type Step struct {
	At     time.Duration `json:"at" yaml:"at"`
	Event  string        `json:"event" yaml:"event"`
	Arg    string        `json:"arg,omitempty" yaml:"arg,omitempty"`
	Result string        `json:"result,omitempty" yaml:"result,omitempty"`
	Err    string        `json:"error,omitempty" yaml:"error,omitempty"`
}

// Report is everything a command prints.
type Report struct {
	Steps []Step         `json:"steps,omitempty" yaml:"steps,omitempty"`
	Stats throttle.Stats `json:"stats" yaml:"stats"`
}

// Write renders r to w in format f.
func Write(w io.Writer, f Format, r Report) error {
	switch f {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(r)

	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(yamlReport(r)); err != nil {
			return fmt.Errorf("encoding yaml: %w", err)
		}
		return enc.Close()

	case FormatTable:
		var sb strings.Builder
		if len(r.Steps) > 0 {
			sb.WriteString(stepsTable(r.Steps))
			sb.WriteString("\n")
		}
		sb.WriteString(statsTable(r.Stats))
		sb.WriteString("\n")
		_, err := io.WriteString(w, sb.String())
		return err

	default:
		return fmt.Errorf("unsupported output format: %q", f)
	}
}

func stepsTable(steps []Step) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"At", "Event", "Arg", "Result", "Error"})

	for _, s := range steps {
		t.AppendRow(table.Row{s.At.String(), s.Event, s.Arg, s.Result, s.Err})
	}

	return t.Render()
}

func statsTable(s throttle.Stats) string {
	t := table.NewWriter()
	t.SetStyle(table.StyleRounded)
	t.AppendHeader(table.Row{"Requests", "Invocations", "Deferred", "Suppressed", "Failures", "Cancelled", "Pending"})
	t.AppendRow(table.Row{s.Requests, s.Invocations, s.Deferred, s.Suppressed, s.Failures, s.Cancelled, s.Pending})

	return t.Render()
}

// yamlReport keeps durations human readable; yaml.v3 would print nanoseconds.
func yamlReport(r Report) any {
	type step struct {
		At     string `yaml:"at"`
		Event  string `yaml:"event"`
		Arg    string `yaml:"arg,omitempty"`
		Result string `yaml:"result,omitempty"`
		Err    string `yaml:"error,omitempty"`
	}

	steps := make([]step, len(r.Steps))
	for i, s := range r.Steps {
		steps[i] = step{At: s.At.String(), Event: s.Event, Arg: s.Arg, Result: s.Result, Err: s.Err}
	}

	return struct {
		Steps []step         `yaml:"steps,omitempty"`
		Stats throttle.Stats `yaml:"stats"`
	}{steps, r.Stats}
}
