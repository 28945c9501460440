package historycmder

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/papercomputeco/gptlaunch/cmd/gptlaunch/cliconfig"
	"github.com/papercomputeco/gptlaunch/pkg/ledger"
	"github.com/papercomputeco/gptlaunch/pkg/render"
)

const historyLongDesc string = `List the launches recorded in the ledger.

Every launch run with a ledger stores its command line and environment
as a content-addressed record. Relaunching an unchanged plan adds a run
to the current record; a changed plan becomes a new record whose parent
is the previous one.

Given a hash (or a unique prefix of one), prints that record in full
followed by its ancestors.

Examples:
  gptlaunch history --ledger runs.db
  gptlaunch history --ledger runs.db 3f9a2c`

const historyShortDesc string = "List recorded launches"

type historyCommander struct {
	ledgerPath string
}

func NewHistoryCmd() *cobra.Command {
	cmder := &historyCommander{}

	cmd := &cobra.Command{
		Use:   "history [hash]",
		Short: historyShortDesc,
		Long:  historyLongDesc,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			hash := ""
			if len(args) == 1 {
				hash = args[0]
			}
			return cmder.run(cmd.Context(), cmd, hash)
		},
	}

	cmd.Flags().StringVarP(&cmder.ledgerPath, "ledger", "l", "", "SQLite ledger file (default: config ledger)")

	return cmd
}

func (c *historyCommander) run(ctx context.Context, cmd *cobra.Command, hash string) error {
	cfg, err := cliconfig.LoadConfig(cmd)
	if err != nil {
		return err
	}

	path := cliconfig.ResolveLedgerPath(c.ledgerPath, cfg)
	if path == "" {
		return errors.New("no ledger configured, pass --ledger or set ledger in the config")
	}

	store, err := cliconfig.OpenExistingLedger(path)
	if err != nil {
		return err
	}
	defer store.Close()

	out := cmd.OutOrStdout()
	printer := render.NewPrinter(out, render.IsTerminal(out))

	records, err := store.List(ctx)
	if err != nil {
		return fmt.Errorf("could not list ledger records: %w", err)
	}

	if hash == "" {
		entries := make([]render.HistoryEntry, 0, len(records))
		for _, r := range records {
			runs, err := store.Runs(ctx, r.Hash)
			if err != nil {
				return fmt.Errorf("could not list runs of %s: %w", r.ShortHash(), err)
			}
			entries = append(entries, render.HistoryEntry{Record: r, Runs: runs})
		}
		return printer.History(entries)
	}

	full, err := resolveHash(records, hash)
	if err != nil {
		return err
	}

	chain, err := store.Ancestry(ctx, full)
	if err != nil {
		return fmt.Errorf("could not walk ledger from %s: %w", hash, err)
	}

	runs, err := store.Runs(ctx, full)
	if err != nil {
		return fmt.Errorf("could not list runs of %s: %w", hash, err)
	}
	if err := printer.Record(render.HistoryEntry{Record: chain[0], Runs: runs}); err != nil {
		return err
	}

	if len(chain) > 1 {
		fmt.Fprintln(out)
		ancestors := make([]render.HistoryEntry, 0, len(chain)-1)
		for _, r := range chain[1:] {
			runs, err := store.Runs(ctx, r.Hash)
			if err != nil {
				return fmt.Errorf("could not list runs of %s: %w", r.ShortHash(), err)
			}
			ancestors = append(ancestors, render.HistoryEntry{Record: r, Runs: runs})
		}
		return printer.History(ancestors)
	}
	return nil
}

// resolveHash expands a hash prefix to the one record it names.
func resolveHash(records []*ledger.Record, prefix string) (string, error) {
	var match string
	for _, r := range records {
		if !strings.HasPrefix(r.Hash, prefix) {
			continue
		}
		if match != "" {
			return "", fmt.Errorf("hash prefix %s is ambiguous", prefix)
		}
		match = r.Hash
	}
	if match == "" {
		return "", ledger.ErrNotFound{Hash: prefix}
	}
	return match, nil
}
