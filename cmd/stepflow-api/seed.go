package main

import (
	"context"
	"fmt"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/definitions"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/urfave/cli/v3"
)

// SeedCommand creates the orchestrations declared in a YAML file, skipping names that
// already exist.
func SeedCommand() *cli.Command {
	return &cli.Command{
		Name:  "seed",
		Usage: "Create orchestrations from a YAML definitions file",
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:     "file",
				Aliases:  []string{"f"},
				Usage:    "Path to the YAML definitions file",
				Required: true,
				Sources:  cli.EnvVars("DEFINITIONS_FILE"),
			},
		}, engineFlags()...),
		Action: func(ctx context.Context, command *cli.Command) error {
			log.Setup(command.String("log-level"), command.String("log-format"))

			logger := log.WithModule("seed")

			defs, err := definitions.LoadFile(command.String("file"))
			if err != nil {
				return err
			}

			engine, err := cmd.NewEngine(ctx, logger, engineConfig(command))
			if err != nil {
				return fmt.Errorf("failed to initialize engine: %w", err)
			}

			defer func() {
				if err := engine.Close(context.WithoutCancel(ctx)); err != nil {
					logger.Error("Failed to close engine", "error", err)
				}
			}()

			result, err := definitions.Seed(ctx, logger, engine.Orchestrations, defs)
			if err != nil {
				return err
			}

			logger.InfoContext(ctx, "Seeding finished", "created", len(result.Created), "skipped", len(result.Skipped))

			return nil
		},
	}
}
