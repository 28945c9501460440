package launch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/papercomputeco/gptlaunch/pkg/config"
)

// DefaultGracePeriod is how long a cancelled launch may take to exit after
// SIGTERM before it is killed.
const DefaultGracePeriod = 10 * time.Second

// StartError means the launcher process could not be started at all, e.g.
// the executable is missing.
type StartError struct {
	Command string
	Err     error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("could not start %s: %v", e.Command, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// ExitCodeError carries a non-zero subprocess exit code up to main.
type ExitCodeError struct {
	Code int
}

func (e *ExitCodeError) Error() string {
	return fmt.Sprintf("launcher exited with code %d", e.Code)
}

// Runner starts a plan as a single blocking subprocess.
type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer

	// Setenv applies one variable to the current process. Defaults to os.Setenv.
	Setenv func(key, value string) error

	// GracePeriod defaults to DefaultGracePeriod.
	GracePeriod time.Duration

	Logger *zap.Logger
}

// NewRunner returns a Runner wired to the process stdio.
func NewRunner(logger *zap.Logger) *Runner {
	return &Runner{
		Stdin:  os.Stdin,
		Stdout: os.Stdout,
		Stderr: os.Stderr,
		Logger: logger,
	}
}

// Run exports the plan environment, starts the launcher and waits for it.
// The subprocess exit code is returned unchanged with a nil error. A
// launcher that never starts yields -1 and a *StartError.
func (r *Runner) Run(ctx context.Context, plan *Plan) (int, error) {
	logger := r.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if plan == nil || len(plan.Argv) == 0 {
		return -1, fmt.Errorf("empty launch plan")
	}

	setenv := r.Setenv
	if setenv == nil {
		setenv = os.Setenv
	}
	for _, e := range plan.Env {
		if !config.ValidEnvName(e.Name) {
			return -1, fmt.Errorf("could not set %q: not a valid variable name", e.Name)
		}
	}
	for _, e := range plan.Env {
		if err := setenv(e.Name, e.Value); err != nil {
			return -1, fmt.Errorf("could not set %s: %w", e.Name, err)
		}
		logger.Debug("exported", zap.String("name", e.Name), zap.String("value", e.Value))
	}

	cmd := exec.CommandContext(ctx, plan.Argv[0], plan.Argv[1:]...)
	cmd.Env = mergeEnv(os.Environ(), plan.Environ())
	cmd.Stdin = r.Stdin
	cmd.Stdout = r.Stdout
	cmd.Stderr = r.Stderr
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = r.GracePeriod
	if cmd.WaitDelay == 0 {
		cmd.WaitDelay = DefaultGracePeriod
	}

	logger.Info("starting launcher",
		zap.String("command", plan.Argv[0]),
		zap.Int("world_size", plan.WorldSize),
		zap.Int("node_rank", plan.NodeRank),
		zap.String("master", fmt.Sprintf("%s:%d", plan.MasterAddr, plan.MasterPort)),
	)

	start := time.Now()
	if err := cmd.Start(); err != nil {
		return -1, &StartError{Command: plan.Argv[0], Err: err}
	}

	err := cmd.Wait()
	code := -1
	if cmd.ProcessState != nil {
		code = cmd.ProcessState.ExitCode()
	}
	logger.Info("launcher exited",
		zap.Int("exit_code", code),
		zap.Duration("duration", time.Since(start)),
	)

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		// I/O copy failures or WaitDelay expiry; the exit code is still
		// the best signal of what the trainer did.
		logger.Warn("launcher wait failed", zap.Error(err))
	}
	if code == -1 && ctx.Err() != nil {
		return code, ctx.Err()
	}
	return code, nil
}

// mergeEnv overlays overrides on base, replacing existing keys in place.
func mergeEnv(base, overrides []string) []string {
	index := make(map[string]int, len(base))
	out := append([]string(nil), base...)
	for i, kv := range out {
		index[envKey(kv)] = i
	}
	for _, kv := range overrides {
		k := envKey(kv)
		if i, ok := index[k]; ok {
			out[i] = kv
			continue
		}
		index[k] = len(out)
		out = append(out, kv)
	}
	return out
}

func envKey(kv string) string {
	k, _, _ := strings.Cut(kv, "=")
	return k
}
