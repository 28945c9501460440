package rendercmder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/papercomputeco/gptlaunch/cmd/gptlaunch/cliconfig"
	"github.com/papercomputeco/gptlaunch/pkg/config"
	"github.com/papercomputeco/gptlaunch/pkg/launch"
	"github.com/papercomputeco/gptlaunch/pkg/render"
)

const renderLongDesc string = `Print the composed launch plan without running it.

Formats:
  text   sectioned summary of topology, environment, command and config
  shell  POSIX script exporting the environment and exec'ing the launcher
  json   the plan as JSON

With --watch the plan is printed again every time the config file
changes, until interrupted.

Examples:
  gptlaunch -c gpt2.toml render
  gptlaunch -c gpt2.toml render --format shell > launch.sh
  gptlaunch -c gpt2.toml render --watch`

const renderShortDesc string = "Print the launch plan"

type renderCommander struct {
	format string
	watch  bool
}

func NewRenderCmd() *cobra.Command {
	cmder := &renderCommander{}

	cmd := &cobra.Command{
		Use:   "render [-- training args...]",
		Short: renderShortDesc,
		Long:  renderLongDesc,
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmder.run(cmd.Context(), cmd, args)
		},
	}

	cmd.Flags().StringVarP(&cmder.format, "format", "f", render.FormatText,
		"Output format: "+strings.Join(render.Formats, ", "))
	cmd.Flags().BoolVarP(&cmder.watch, "watch", "w", false, "Re-render when the config file changes")
	cmd.Flags().SetInterspersed(false)

	return cmd
}

func (c *renderCommander) run(ctx context.Context, cmd *cobra.Command, passthrough []string) error {
	if !slices.Contains(render.Formats, c.format) {
		return fmt.Errorf("unknown format %q, expected one of %s", c.format, strings.Join(render.Formats, ", "))
	}

	path := cliconfig.ConfigPath(cmd)
	if c.watch && path == "" {
		return errors.New("--watch needs a config file (--config)")
	}

	logger := cliconfig.Logger(cmd)
	defer logger.Sync()

	out := cmd.OutOrStdout()
	printer := render.NewPrinter(out, c.format == render.FormatText && render.IsTerminal(out))
	composer := &launch.Composer{Logger: logger}

	cfg, err := cliconfig.LoadConfig(cmd)
	if err != nil {
		return err
	}
	if err := c.print(printer, composer, cfg, passthrough); err != nil {
		return err
	}

	if !c.watch {
		return nil
	}

	logger.Info("watching for config changes", zap.String("path", path))
	return config.Watch(ctx, path, logger, func(cfg *config.Config, err error) {
		if err == nil {
			io.WriteString(out, "\n")
			err = c.print(printer, composer, cfg, passthrough)
		}
		if err != nil {
			logger.Error("could not render updated config", zap.Error(err))
		}
	})
}

func (c *renderCommander) print(p *render.Printer, composer *launch.Composer, cfg *config.Config, passthrough []string) error {
	plan, err := composer.Compose(cfg, passthrough)
	if err != nil {
		return fmt.Errorf("could not compose launch: %w", err)
	}
	return p.Plan(plan, c.format)
}
