package launchcmder

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/gptlaunch/cmd/gptlaunch/cliconfig"
	"github.com/papercomputeco/gptlaunch/pkg/config"
	"github.com/papercomputeco/gptlaunch/pkg/launch"
	"github.com/papercomputeco/gptlaunch/pkg/ledger"
	"github.com/papercomputeco/gptlaunch/pkg/render"
)

const launchLongDesc string = `Compose the distributed pretraining launch and run it.

The configuration is loaded from --config (or the built-in defaults),
overridden by the WORKER_0_HOST, WORKER_0_PORT, NUM_WORKER, WORKER_RANK,
GPU_PER_WORKER and DMLC_NODE_HOST environment variables, then by flags.
Arguments after the first positional argument are passed to the training
script verbatim, after every generated flag.

The launcher's exit code becomes gptlaunch's exit code.

Examples:
  gptlaunch launch
  gptlaunch -c gpt2.toml launch --workers 4 --rank 1 --host 10.0.0.1
  gptlaunch launch --dry-run
  gptlaunch launch --ledger runs.db -- --seed 1234`

const launchShortDesc string = "Run the distributed pretraining launcher"

type launchCommander struct {
	host    string
	port    int
	workers int
	rank    int
	gpus    int

	allowBatchMismatch bool
	dryRun             bool
	ledgerPath         string

	// runner is replaced in tests.
	runner *launch.Runner
}

func NewLaunchCmd() *cobra.Command {
	return newLaunchCmd(&launchCommander{})
}

func newLaunchCmd(cmder *launchCommander) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "launch [flags] [-- training args...]",
		Short: launchShortDesc,
		Long:  launchLongDesc,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVar(&cmder.host, "host", "", "Worker-0 host, used as the master address")
	cmd.Flags().IntVar(&cmder.port, "port", 0, "Base RPC port; the master listens on port+2")
	cmd.Flags().IntVar(&cmder.workers, "workers", 0, "Number of worker nodes")
	cmd.Flags().IntVar(&cmder.rank, "rank", 0, "This worker's rank")
	cmd.Flags().IntVar(&cmder.gpus, "gpus", 0, "GPUs per worker")
	cmd.Flags().BoolVar(&cmder.allowBatchMismatch, "allow-batch-mismatch", false, "Warn instead of failing when the batch sizes disagree")
	cmd.Flags().BoolVar(&cmder.dryRun, "dry-run", false, "Print the launch plan instead of running it")
	cmd.Flags().StringVar(&cmder.ledgerPath, "ledger", "", "SQLite file to record the launch in (default: config ledger)")

	// Everything from the first positional argument on belongs to the
	// training script.
	cmd.Flags().SetInterspersed(false)

	return cmd
}

func (c *launchCommander) run(ctx context.Context, cmd *cobra.Command, passthrough []string) error {
	logger := cliconfig.Logger(cmd)
	defer logger.Sync()

	cfg, err := cliconfig.LoadConfig(cmd)
	if err != nil {
		return err
	}
	c.applyFlags(cmd, cfg)

	plan, err := (&launch.Composer{Logger: logger}).Compose(cfg, passthrough)
	if err != nil {
		return fmt.Errorf("could not compose launch: %w", err)
	}

	out := cmd.OutOrStdout()
	if c.dryRun {
		return render.NewPrinter(out, render.IsTerminal(out)).Text(plan)
	}

	var (
		store  ledger.Storer
		record *ledger.Record
	)
	if path := cliconfig.ResolveLedgerPath(c.ledgerPath, cfg); path != "" {
		store, err = cliconfig.OpenLedger(path)
		if err != nil {
			return err
		}
		defer store.Close()

		var isNew bool
		record, isNew, err = ledger.Append(ctx, store, ledger.Content{
			Argv:      plan.Argv,
			Env:       plan.Environ(),
			WorldSize: plan.WorldSize,
			NodeRank:  plan.NodeRank,
		})
		if err != nil {
			return fmt.Errorf("could not record launch: %w", err)
		}
		logger.Info("recorded launch",
			zap.String("hash", record.ShortHash()),
			zap.Bool("new", isNew),
			zap.String("ledger", path),
		)
	}

	runner := c.runner
	if runner == nil {
		runner = &launch.Runner{
			Stdin:  cmd.InOrStdin(),
			Stdout: out,
			Stderr: cmd.ErrOrStderr(),
			Logger: logger,
		}
	}

	started := time.Now()
	code, runErr := runner.Run(ctx, plan)

	if record != nil && code >= 0 {
		run := ledger.Run{
			Hash:      record.Hash,
			StartedAt: started.UTC(),
			Duration:  time.Since(started),
			ExitCode:  code,
		}
		if err := store.AddRun(context.WithoutCancel(ctx), run); err != nil {
			logger.Warn("could not record run", zap.Error(err))
		}
	}

	if runErr != nil {
		return runErr
	}
	if code != 0 {
		return &launch.ExitCodeError{Code: code}
	}
	return nil
}

// applyFlags overrides cfg with the flags the user actually set.
func (c *launchCommander) applyFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("host") {
		cfg.Topology.Host = c.host
	}
	if flags.Changed("port") {
		cfg.Topology.Port = c.port
	}
	if flags.Changed("workers") {
		cfg.Topology.Workers = c.workers
	}
	if flags.Changed("rank") {
		cfg.Topology.Rank = c.rank
	}
	if flags.Changed("gpus") {
		cfg.Topology.GPUsPerWorker = c.gpus
	}
	if flags.Changed("allow-batch-mismatch") {
		cfg.AllowBatchMismatch = c.allowBatchMismatch
	}
}
