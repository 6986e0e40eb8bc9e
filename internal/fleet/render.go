package fleet

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"
)

// AgentView is the rendered form of an AgentRecord.
type AgentView struct {
	Index        int    `json:"index" yaml:"index"`
	Name         string `json:"name" yaml:"name"`
	Identity     string `json:"identity" yaml:"identity"`
	Phase        Phase  `json:"phase" yaml:"phase"`
	Status       string `json:"status,omitempty" yaml:"status,omitempty"`
	Health       string `json:"health,omitempty" yaml:"health,omitempty"`
	Reachability string `json:"reachability" yaml:"reachability"`
	Converged    bool   `json:"converged" yaml:"converged"`
	Error        string `json:"error,omitempty" yaml:"error,omitempty"`
}

// ReportView is the rendered form of a Report.
type ReportView struct {
	RunID      string      `json:"run_id" yaml:"run_id"`
	Operation  Operation   `json:"operation" yaml:"operation"`
	StartedAt  time.Time   `json:"started_at" yaml:"started_at"`
	FinishedAt time.Time   `json:"finished_at" yaml:"finished_at"`
	Converged  bool        `json:"converged" yaml:"converged"`
	Agents     []AgentView `json:"agents" yaml:"agents"`
	Pruned     []string    `json:"pruned,omitempty" yaml:"pruned,omitempty"`
	Errors     []string    `json:"errors,omitempty" yaml:"errors,omitempty"`
	Warnings   []string    `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func (r *Report) View() ReportView {
	v := ReportView{
		RunID:      r.RunID,
		Operation:  r.Operation,
		StartedAt:  r.StartedAt,
		FinishedAt: r.FinishedAt,
		Converged:  r.Err() == nil,
		Agents:     make([]AgentView, len(r.Agents)),
		Pruned:     r.Pruned,
		Warnings:   r.Warnings,
	}
	for i, rec := range r.Agents {
		a := AgentView{
			Index:        rec.Index,
			Name:         rec.Name,
			Phase:        rec.Phase,
			Status:       rec.Status,
			Health:       rec.Health,
			Reachability: string(rec.Reachability),
			Converged:    r.Converged(rec),
		}
		if rec.Identity != nil {
			a.Identity = rec.Identity.String()
		}
		if rec.Err != nil {
			a.Error = rec.Err.Error()
		}
		if rec.Reachability == ReachabilityUnreachable && a.Error == "" {
			a.Error = rec.ReachabilityDetail
		}
		v.Agents[i] = a
	}
	for _, e := range r.Errors {
		v.Errors = append(v.Errors, e.Error())
	}
	return v
}

// Render writes the report as "table" (default), "json" or "yaml".
func Render(w io.Writer, r *Report, format string) error {
	view := r.View()

	switch strings.ToLower(format) {
	case "json":
		b, err := json.MarshalIndent(view, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to format JSON: %w", err)
		}
		_, err = fmt.Fprintln(w, string(b))
		return err
	case "yaml":
		b, err := yaml.Marshal(view)
		if err != nil {
			return fmt.Errorf("failed to format YAML: %w", err)
		}
		_, err = w.Write(b)
		return err
	case "", "table":
		_, err := io.WriteString(w, renderTable(view))
		return err
	}
	return fmt.Errorf("unsupported output format %q (valid: table, json, yaml)", format)
}

func renderTable(v ReportView) string {
	var buf bytes.Buffer
	tw := tabwriter.NewWriter(&buf, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "INDEX\tNAME\tIDENTITY\tPHASE\tSTATUS\tHEALTH\tREACHABILITY\tERROR")
	for _, a := range v.Agents {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			a.Index, a.Name, a.Identity, a.Phase, dash(a.Status), dash(a.Health), a.Reachability, dash(a.Error))
	}
	tw.Flush()

	for _, name := range v.Pruned {
		fmt.Fprintf(&buf, "pruned: %s\n", name)
	}
	for _, e := range v.Errors {
		fmt.Fprintf(&buf, "error: %s\n", e)
	}
	for _, w := range v.Warnings {
		fmt.Fprintf(&buf, "warning: %s\n", w)
	}
	return buf.String()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
