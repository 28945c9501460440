package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/papercomputeco/gptlaunch/cmd/gptlaunch/rootcmder"
	"github.com/papercomputeco/gptlaunch/pkg/launch"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootcmder.NewRootCmd().ExecuteContext(ctx)
	stop()

	if err == nil {
		return
	}

	// The launcher already reported its own failure.
	var exit *launch.ExitCodeError
	if errors.As(err, &exit) && exit.Code > 0 {
		os.Exit(exit.Code)
	}

	fmt.Fprintln(os.Stderr, "Error:", err)
	os.Exit(1)
}
