package mergecmder

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/gptlaunch/cmd/gptlaunch/cliconfig"
	"github.com/papercomputeco/gptlaunch/pkg/ledger"
)

const mergeLongDesc string = `Merge one or more launch ledgers into a target.

Every worker of a multi-node job keeps its own ledger. Merging them gives
one history of the job: records that already exist in the target are
skipped (deduped by hash) and only runs the target lacks are copied.

Examples:
  gptlaunch merge --ledger job.db worker0.db worker1.db
  gptlaunch -c gpt2.toml merge ~/node3/runs.db`

const mergeShortDesc string = "Merge launch ledgers"

type mergeCommander struct {
	ledgerPath string
}

func NewMergeCmd() *cobra.Command {
	cmder := &mergeCommander{}

	cmd := &cobra.Command{
		Use:   "merge [sources...]",
		Short: mergeShortDesc,
		Long:  mergeLongDesc,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.ledgerPath, "ledger", "l", "", "Target SQLite ledger (default: config ledger)")

	return cmd
}

func (c *mergeCommander) run(ctx context.Context, cmd *cobra.Command, sources []string) error {
	cfg, err := cliconfig.LoadConfig(cmd)
	if err != nil {
		return err
	}

	targetPath := cliconfig.ResolveLedgerPath(c.ledgerPath, cfg)
	if targetPath == "" {
		return errors.New("no target ledger, pass --ledger or set ledger in the config")
	}

	target, err := cliconfig.OpenLedger(targetPath)
	if err != nil {
		return fmt.Errorf("could not open target ledger %s: %w", targetPath, err)
	}
	defer target.Close()

	var total ledger.MergeStats

	for _, srcPath := range sources {
		source, err := cliconfig.OpenExistingLedger(srcPath)
		if err != nil {
			return fmt.Errorf("could not open source ledger: %w", err)
		}

		stats, err := ledger.Merge(ctx, target, source)
		source.Close()
		if err != nil {
			return fmt.Errorf("could not merge %s: %w", srcPath, err)
		}

		total.NewRecords += stats.NewRecords
		total.ExistingRecords += stats.ExistingRecords
		total.NewRuns += stats.NewRuns

		fmt.Fprintf(cmd.OutOrStdout(), "  %s: %d new records, %d already existed, %d new runs\n",
			srcPath, stats.NewRecords, stats.ExistingRecords, stats.NewRuns)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d new records and %d runs from %d sources (%d already existed) into %s\n",
		total.NewRecords, total.NewRuns, len(sources), total.ExistingRecords, targetPath)

	return nil
}
