package main

import (
	"strings"
	"time"

	"github.com/dukex/stepflow/pkg/cmd"
	cli "github.com/urfave/cli/v3"
)

// engineFlags are shared by every subcommand that needs storage or workers.
func engineFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:     "database-url",
			Usage:    "Database connection URL for persistence (file://, postgres://, redis://)",
			Required: true,
			Sources:  cli.EnvVars("DATABASE_URL"),
		},
		&cli.StringFlag{
			Name:    "event-bus",
			Usage:   "Event bus type for execution events (gochannel, kafka); empty disables events",
			Sources: cli.EnvVars("EVENT_BUS_TYPE"),
		},
		&cli.StringFlag{
			Name:    "kafka-brokers",
			Usage:   "Comma separated Kafka brokers, used with --event-bus=kafka",
			Sources: cli.EnvVars("KAFKA_BROKERS"),
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
		&cli.BoolFlag{
			Name:    "tracing",
			Usage:   "Export traces over OTLP",
			Sources: cli.EnvVars("OTEL_ENABLED"),
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level (debug, info, warn, error)",
			Value:   "info",
			Sources: cli.EnvVars("LOG_LEVEL"),
		},
		&cli.StringFlag{
			Name:    "log-format",
			Usage:   "Log format (text, json)",
			Value:   "text",
			Sources: cli.EnvVars("LOG_FORMAT"),
		},
	}
}

func engineConfig(command *cli.Command) cmd.EngineConfig {
	return cmd.EngineConfig{
		ServiceName:  "stepflow-api",
		DatabaseURL:  command.String("database-url"),
		EventBus:     command.String("event-bus"),
		KafkaBrokers: command.String("kafka-brokers"),
		Tracing:      command.Bool("tracing"),
		Workers: cmd.WorkerConfig{
			URL:     command.String("worker-url"),
			APIKey:  command.String("worker-api-key"),
			Model:   command.String("worker-model"),
			Roles:   splitList(command.String("worker-roles")),
			Timeout: command.Duration("worker-timeout"),
		},
	}
}

func splitList(raw string) []string {
	var items []string

	for _, item := range strings.Split(raw, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}

	return items
}
