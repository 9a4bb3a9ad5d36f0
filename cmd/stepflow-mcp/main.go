// Command stepflow-mcp serves the orchestration tools over MCP stdio.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/cmd"
	"github.com/dukex/stepflow/pkg/log"
	"github.com/dukex/stepflow/pkg/tools"
	cli "github.com/urfave/cli/v3"
)

const (
	version         = "0.1.0"
	shutdownTimeout = 10 * time.Second
)

func main() {
	command := &cli.Command{
		Name:  "stepflow-mcp",
		Usage: "Expose orchestrations as MCP tools over stdio",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:     "database-url",
				Usage:    "Database connection URL for persistence (file://, postgres://, redis://)",
				Required: true,
				Sources:  cli.EnvVars("DATABASE_URL"),
			},
			&cli.StringFlag{
				Name:    "worker-url",
				Usage:   "Base URL of an OpenAI compatible chat completions endpoint",
				Value:   "https://api.openai.com/v1",
				Sources: cli.EnvVars("WORKER_URL"),
			},
			&cli.StringFlag{
				Name:    "worker-api-key",
				Usage:   "API key for the worker endpoint; echo workers are used when empty",
				Sources: cli.EnvVars("WORKER_API_KEY"),
			},
			&cli.StringFlag{
				Name:    "worker-model",
				Usage:   "Model requested from the worker endpoint",
				Value:   "gpt-4o-mini",
				Sources: cli.EnvVars("WORKER_MODEL"),
			},
			&cli.StringFlag{
				Name:    "worker-roles",
				Usage:   "Comma separated worker roles to register besides general_worker",
				Sources: cli.EnvVars("WORKER_ROLES"),
			},
			&cli.DurationFlag{
				Name:    "worker-timeout",
				Usage:   "HTTP timeout for a single worker call",
				Value:   5 * time.Minute,
				Sources: cli.EnvVars("WORKER_TIMEOUT"),
			},
			&cli.StringFlag{
				Name:    "log-level",
				Usage:   "Log level (debug, info, warn, error)",
				Value:   "warn",
				Sources: cli.EnvVars("LOG_LEVEL"),
			},
			&cli.StringFlag{
				Name:    "log-format",
				Usage:   "Log format (text, json)",
				Value:   "text",
				Sources: cli.EnvVars("LOG_FORMAT"),
			},
		},
		Action: run,
	}

	if err := command.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx context.Context, command *cli.Command) error {
	// Logs go to stderr; stdout carries the MCP protocol.
	log.Setup(command.String("log-level"), command.String("log-format"))

	logger := log.WithModule("mcp")

	var roles []string

	for _, role := range strings.Split(command.String("worker-roles"), ",") {
		if role = strings.TrimSpace(role); role != "" {
			roles = append(roles, role)
		}
	}

	engine, err := cmd.NewEngine(ctx, logger, cmd.EngineConfig{
		ServiceName: "stepflow-mcp",
		DatabaseURL: command.String("database-url"),
		Workers: cmd.WorkerConfig{
			URL:     command.String("worker-url"),
			APIKey:  command.String("worker-api-key"),
			Model:   command.String("worker-model"),
			Roles:   roles,
			Timeout: command.Duration("worker-timeout"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to initialize engine: %w", err)
	}

	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		if err := engine.Close(closeCtx); err != nil {
			logger.Error("Failed to close engine", "error", err)
		}
	}()

	return tools.NewServer(engine.Orchestrations, engine.Executions, logger, version).ServeStdio()
}
