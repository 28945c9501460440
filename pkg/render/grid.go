package render

import (
	"io"
	"strconv"
	"strings"

	"github.com/charmbracelet/x/ansi"

	"github.com/papercomputeco/gptlaunch/pkg/topology"
)

var gridHeader = []string{"RANK", "NODE", "LOCAL", "STAGE", "DATA", "MODEL", "PEER", "COORD"}

// Grid writes one row per rank of grid. gpusPerNode places each rank on
// its node; zero puts everything on node 0.
func (p *Printer) Grid(grid *topology.Grid, gpusPerNode int) error {
	rows := [][]string{styleRow(gridHeader, p.heading)}

	topo := grid.Topology()
	for _, info := range grid.Ranks() {
		node, local := 0, info.Rank
		if gpusPerNode > 0 {
			node, local = info.Rank/gpusPerNode, info.Rank%gpusPerNode
		}

		stage := strconv.Itoa(info.StageID)
		switch {
		case info.FirstStage && info.LastStage:
		case info.FirstStage:
			stage += " first"
		case info.LastStage:
			stage += " last"
		}

		repr, err := topo.RankRepr(info.Rank, nil, "_", "-")
		if err != nil {
			return err
		}

		rows = append(rows, []string{
			strconv.Itoa(info.Rank),
			strconv.Itoa(node),
			strconv.Itoa(local),
			stage,
			strconv.Itoa(info.DataParallel),
			strconv.Itoa(info.ModelID),
			strconv.Itoa(info.P2PPeer),
			p.dim.Render(repr),
		})
	}

	var b strings.Builder
	writeTable(&b, rows)
	dims := make([]string, 0, len(topo.Axes()))
	for _, axis := range topo.Axes() {
		dims = append(dims, axis+"="+strconv.Itoa(topo.Dim(axis)))
	}
	b.WriteString("\n" + p.label.Render("axes") + "  " + p.value.Render(strings.Join(dims, " ")) + "\n")

	_, err := io.WriteString(p.w, b.String())
	return err
}

type renderer interface {
	Render(...string) string
}

func styleRow(cells []string, style renderer) []string {
	out := make([]string, len(cells))
	for i, c := range cells {
		out[i] = style.Render(c)
	}
	return out
}

// writeTable left-aligns cells into columns. Widths are measured on the
// printable text so styled cells line up with plain ones.
func writeTable(b *strings.Builder, rows [][]string) {
	var widths []int
	for _, row := range rows {
		for i, cell := range row {
			if i >= len(widths) {
				widths = append(widths, 0)
			}
			widths[i] = max(widths[i], ansi.StringWidth(cell))
		}
	}

	for _, row := range rows {
		for i, cell := range row {
			if i == len(row)-1 {
				b.WriteString(cell)
				break
			}
			b.WriteString(pad(cell, widths[i]) + "  ")
		}
		b.WriteString("\n")
	}
}

func pad(s string, width int) string {
	if n := width - ansi.StringWidth(s); n > 0 {
		return s + strings.Repeat(" ", n)
	}
	return s
}

func maxWidth(cells []string) int {
	w := 0
	for _, c := range cells {
		w = max(w, ansi.StringWidth(c))
	}
	return w
}
