package rootcmder

import (
	"github.com/spf13/cobra"

	"github.com/papercomputeco/gptlaunch/cmd/gptlaunch/cliconfig"
	historycmder "github.com/papercomputeco/gptlaunch/cmd/gptlaunch/history"
	launchcmder "github.com/papercomputeco/gptlaunch/cmd/gptlaunch/launch"
	mergecmder "github.com/papercomputeco/gptlaunch/cmd/gptlaunch/merge"
	rendercmder "github.com/papercomputeco/gptlaunch/cmd/gptlaunch/render"
	topocmder "github.com/papercomputeco/gptlaunch/cmd/gptlaunch/topo"
)

const rootLongDesc string = `gptlaunch composes and runs distributed GPT-2 pretraining jobs.

It turns one TOML file into the launcher environment, the
torch.distributed.launch command line and the JSON optimizer
configuration, and runs the result on this node.`

const rootShortDesc string = "Distributed GPT-2 pretraining launcher"

func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "gptlaunch",
		Short:         rootShortDesc,
		Long:          rootLongDesc,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cliconfig.AddPersistentFlags(cmd)

	cmd.AddCommand(launchcmder.NewLaunchCmd())
	cmd.AddCommand(rendercmder.NewRenderCmd())
	cmd.AddCommand(topocmder.NewTopoCmd())
	cmd.AddCommand(historycmder.NewHistoryCmd())
	cmd.AddCommand(mergecmder.NewMergeCmd())

	return cmd
}
