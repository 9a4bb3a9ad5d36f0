package main

import (
	"context"
	"fmt"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/urfave/cli/v3"
)

const defaultPort = 9091

func RunAPICommand() *cli.Command {
	return &cli.Command{
		Name:    "run",
		Aliases: []string{"r"},
		Usage:   "Start the API server",
		Flags: append([]cli.Flag{
			&cli.IntFlag{
				Name:    "port",
				Aliases: []string{"p"},
				Usage:   "Port to run the API server on",
				Value:   defaultPort,
				Sources: cli.EnvVars("PORT"),
			},
		}, engineFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("api")

			logger.InfoContext(ctx, "Initializing Stepflow API")

			engine, err := cmd.NewEngine(ctx, logger, engineConfig(command))
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}

			defer func() {
				closeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
				defer cancel()

				if err := engine.Close(closeCtx); err != nil {
					logger.Error("Failed to close engine", "error", err)
				}
			}()

			if err := engine.LogEvents(ctx); err != nil {
				return err
			}

			return NewAPI(logger, engine).Start(ctx, command.Int("port"))
		},
	}
}
