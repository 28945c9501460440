// Package render prints launch plans for people and for shells.
package render

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/alessio/shellescape"
	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"golang.org/x/term"

	"github.com/papercomputeco/gptlaunch/pkg/config"
	"github.com/papercomputeco/gptlaunch/pkg/launch"
)

// Formats accepted by Plan.
const (
	FormatText  = "text"
	FormatShell = "shell"
	FormatJSON  = "json"
)

// Formats lists the supported output formats.
var Formats = []string{FormatText, FormatShell, FormatJSON}

// IsTerminal reports whether w is a terminal that should get colors.
func IsTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return term.IsTerminal(int(f.Fd())) && !termenv.EnvNoColor()
}

// Printer renders plans and grids to one writer.
type Printer struct {
	w io.Writer

	heading lipgloss.Style
	label   lipgloss.Style
	value   lipgloss.Style
	dim     lipgloss.Style
}

// NewPrinter returns a printer for w. Without styled, output is plain text.
func NewPrinter(w io.Writer, styled bool) *Printer {
	r := lipgloss.NewRenderer(w)
	if !styled {
		r.SetColorProfile(termenv.Ascii)
	}

	return &Printer{
		w:       w,
		heading: r.NewStyle().Bold(true).Foreground(lipgloss.Color("12")),
		label:   r.NewStyle().Foreground(lipgloss.Color("8")),
		value:   r.NewStyle().Foreground(lipgloss.Color("15")),
		dim:     r.NewStyle().Faint(true),
	}
}

// Plan writes plan in the given format.
func (p *Printer) Plan(plan *launch.Plan, format string) error {
	switch format {
	case FormatText, "":
		return p.Text(plan)
	case FormatShell:
		return Shell(p.w, plan)
	case FormatJSON:
		return JSON(p.w, plan)
	default:
		return fmt.Errorf("unknown format %q, expected one of %s", format, strings.Join(Formats, ", "))
	}
}

// Text writes a sectioned, human readable view of the plan.
func (p *Printer) Text(plan *launch.Plan) error {
	var b strings.Builder

	b.WriteString(p.heading.Render("Topology") + "\n")
	rows := [][2]string{
		{"world size", strconv.Itoa(plan.WorldSize)},
		{"nodes", strconv.Itoa(plan.Nodes)},
		{"node rank", strconv.Itoa(plan.NodeRank)},
		{"gpus per node", strconv.Itoa(plan.GPUsPerNode)},
		{"master", fmt.Sprintf("%s:%d", plan.MasterAddr, plan.MasterPort)},
		{"data parallel", strconv.Itoa(plan.DataParallel)},
	}
	labels := make([]string, len(rows))
	for i, r := range rows {
		labels[i] = r[0]
	}
	width := maxWidth(labels)
	for _, r := range rows {
		b.WriteString("  " + p.label.Render(pad(r[0], width)) + "  " + p.value.Render(r[1]) + "\n")
	}

	b.WriteString("\n" + p.heading.Render("Environment") + "\n")
	for _, e := range plan.Env {
		b.WriteString("  " + p.label.Render(e.Name) + "=" + p.value.Render(e.Value) + "\n")
	}

	b.WriteString("\n" + p.heading.Render("Command") + "\n")
	for i, line := range CommandLines(plan) {
		prefix := "  "
		if i > 0 {
			prefix = "      "
		}
		b.WriteString(prefix + line + "\n")
	}

	b.WriteString("\n" + p.heading.Render("Optimizer config") + "\n")
	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(plan.ConfigBlob), "", "  "); err != nil {
		return fmt.Errorf("could not format optimizer config: %w", err)
	}
	for _, line := range strings.Split(pretty.String(), "\n") {
		b.WriteString("  " + p.dim.Render(line) + "\n")
	}

	_, err := io.WriteString(p.w, b.String())
	return err
}

// CommandLines splits the quoted command into one line per flag, each
// ending in a shell continuation except the last.
func CommandLines(plan *launch.Plan) []string {
	var lines []string
	var cur []string
	flush := func() {
		if len(cur) > 0 {
			lines = append(lines, strings.Join(cur, " "))
			cur = nil
		}
	}

	flagsFrom := plan.EntryPointIndex - len(plan.LauncherArgs())
	for i, arg := range plan.Argv {
		breakBefore := i == plan.EntryPointIndex || (i >= flagsFrom && strings.HasPrefix(arg, "--"))
		if i > 0 && breakBefore {
			flush()
		}
		cur = append(cur, shellescape.Quote(arg))
	}
	flush()

	for i := range lines[:max(len(lines)-1, 0)] {
		lines[i] += " \\"
	}
	return lines
}

// Shell writes a POSIX script that exports the environment and execs the
// launcher, equivalent to running the plan.
func Shell(w io.Writer, plan *launch.Plan) error {
	var b strings.Builder
	b.WriteString("#!/bin/sh\n")
	b.WriteString("set -e\n\n")
	for _, e := range plan.Env {
		if !config.ValidEnvName(e.Name) {
			return fmt.Errorf("cannot export %q: not a valid variable name", e.Name)
		}
		fmt.Fprintf(&b, "export %s=%s\n", e.Name, shellescape.Quote(e.Value))
	}
	b.WriteString("\nexec ")
	b.WriteString(strings.Join(CommandLines(plan), "\n    "))
	b.WriteString("\n")

	_, err := io.WriteString(w, b.String())
	return err
}

// JSON writes the plan as indented JSON.
func JSON(w io.Writer, plan *launch.Plan) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(plan); err != nil {
		return fmt.Errorf("could not encode plan: %w", err)
	}
	return nil
}
