package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/dukex/stepflow/pkg/log"
	cli "github.com/urfave/cli/v3"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	command := &cli.Command{
		Name:                  "stepflow-api",
		Usage:                 "Define orchestrations and run them against AI workers",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			RunAPICommand(),
			SeedCommand(),
		},
	}

	if err := command.Run(ctx, os.Args); err != nil {
		log.WithModule("api").Error("Command failed", "error", err)
		os.Exit(1)
	}
}
