package render

import (
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/alessio/shellescape"

	"github.com/papercomputeco/gptlaunch/pkg/ledger"
)

// HistoryEntry is a ledger record with its runs.
type HistoryEntry struct {
	Record *ledger.Record
	Runs   []ledger.Run
}

var historyHeader = []string{"HASH", "PARENT", "CREATED", "WORLD", "NODE", "RUNS", "LAST EXIT"}

// History writes one row per record, in the order given.
func (p *Printer) History(entries []HistoryEntry) error {
	if len(entries) == 0 {
		_, err := io.WriteString(p.w, "no launches recorded\n")
		return err
	}

	rows := [][]string{styleRow(historyHeader, p.heading)}
	for _, e := range entries {
		parent := "-"
		if e.Record.ParentHash != nil {
			parent = shortHash(*e.Record.ParentHash)
		}

		last := "-"
		if n := len(e.Runs); n > 0 {
			last = strconv.Itoa(e.Runs[n-1].ExitCode)
		}

		rows = append(rows, []string{
			p.value.Render(e.Record.ShortHash()),
			p.dim.Render(parent),
			e.Record.CreatedAt.Local().Format(time.DateTime),
			strconv.Itoa(e.Record.Content.WorldSize),
			strconv.Itoa(e.Record.Content.NodeRank),
			strconv.Itoa(len(e.Runs)),
			last,
		})
	}

	var b strings.Builder
	writeTable(&b, rows)
	_, err := io.WriteString(p.w, b.String())
	return err
}

// Record writes the full content of one record and its runs.
func (p *Printer) Record(e HistoryEntry) error {
	var b strings.Builder
	r := e.Record

	b.WriteString(p.heading.Render("Record "+r.Hash) + "\n")
	if r.ParentHash != nil {
		b.WriteString("  " + p.label.Render("parent") + "  " + *r.ParentHash + "\n")
	}
	b.WriteString("  " + p.label.Render("created") + "  " + r.CreatedAt.Local().Format(time.RFC3339) + "\n")

	b.WriteString("\n" + p.heading.Render("Environment") + "\n")
	for _, kv := range r.Content.Env {
		b.WriteString("  " + kv + "\n")
	}

	b.WriteString("\n" + p.heading.Render("Command") + "\n")
	quoted := make([]string, len(r.Content.Argv))
	for i, a := range r.Content.Argv {
		quoted[i] = shellescape.Quote(a)
	}
	b.WriteString("  " + strings.Join(quoted, " ") + "\n")

	if len(e.Runs) > 0 {
		b.WriteString("\n" + p.heading.Render("Runs") + "\n")
		for _, run := range e.Runs {
			b.WriteString("  " + run.StartedAt.Local().Format(time.DateTime) +
				"  " + p.label.Render("exit") + " " + strconv.Itoa(run.ExitCode) +
				"  " + p.dim.Render(run.Duration.Round(time.Second).String()) + "\n")
		}
	}

	_, err := io.WriteString(p.w, b.String())
	return err
}

func shortHash(h string) string {
	if len(h) > 12 {
		return h[:12]
	}
	return h
}
