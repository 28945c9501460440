package topocmder

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/gptlaunch/cmd/gptlaunch/cliconfig"
	"github.com/papercomputeco/gptlaunch/pkg/launch"
	"github.com/papercomputeco/gptlaunch/pkg/render"
	"github.com/papercomputeco/gptlaunch/pkg/topology"
)

const topoLongDesc string = `Print the process grid of the configured launch.

Each rank is shown with its node, local rank, pipeline stage, data and
model parallel ids, and the rank holding its next pipeline stage.

With --world the configured model split is ignored and the default
factorization of that many ranks is shown instead: prime factors
alternate between the pipe and data axes.

Examples:
  gptlaunch -c gpt2.toml topo
  gptlaunch topo --world 12
  gptlaunch topo --json`

const topoShortDesc string = "Print the process grid"

type topoCommander struct {
	world  int
	asJSON bool
}

func NewTopoCmd() *cobra.Command {
	cmder := &topoCommander{}

	cmd := &cobra.Command{
		Use:   "topo",
		Short: topoShortDesc,
		Long:  topoLongDesc,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmder.run(cmd.Context(), cmd)
		},
	}

	cmd.Flags().IntVar(&cmder.world, "world", 0, "Show the default topology for this many ranks")
	cmd.Flags().BoolVar(&cmder.asJSON, "json", false, "Print ranks as JSON")

	return cmd
}

func (c *topoCommander) run(_ context.Context, cmd *cobra.Command) error {
	cfg, err := cliconfig.LoadConfig(cmd)
	if err != nil {
		return err
	}

	var (
		grid        *topology.Grid
		gpusPerNode = cfg.Topology.GPUsPerWorker
	)
	if cmd.Flags().Changed("world") {
		topo, err := topology.Default(c.world)
		if err != nil {
			return fmt.Errorf("could not build default topology: %w", err)
		}
		grid = topology.NewGrid(topo)
	} else {
		plan, err := (&launch.Composer{Logger: cliconfig.Logger(cmd)}).Compose(cfg, nil)
		if err != nil {
			return fmt.Errorf("could not compose launch: %w", err)
		}
		grid = plan.Grid
	}

	out := cmd.OutOrStdout()
	if c.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(grid.Ranks())
	}
	return render.NewPrinter(out, render.IsTerminal(out)).Grid(grid, gpusPerNode)
}
