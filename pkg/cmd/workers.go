package cmd

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/dukex/stepflow/pkg/models"
	"github.com/dukex/stepflow/pkg/workers"
)

// WorkerConfig describes the model endpoint shared by every role.
type WorkerConfig struct {
	URL    string
	APIKey string
	Model  string
	Roles  []string
	// Timeout bounds a single model call.
	Timeout time.Duration
}

// NewWorkerRegistry registers one worker per role plus the general worker. Without an
// API key every role gets an echo worker, which is enough for local runs.
func NewWorkerRegistry(logger *slog.Logger, config WorkerConfig) *workers.Registry {
	registry := workers.NewRegistry(logger)

	roles := append([]string{models.DefaultRole}, config.Roles...)

	var client *http.Client
	if config.APIKey != "" {
		client = &http.Client{Timeout: config.Timeout}
	}

	for _, role := range roles {
		if role == "" {
			continue
		}

		if client == nil {
			registry.Register(role, workers.Echo(role))

			continue
		}

		registry.Register(role, workers.NewOpenAIWorker(client, config.APIKey, config.Model, config.URL, systemPrompt(role)))
	}

	return registry
}

func systemPrompt(role string) string {
	if role == models.DefaultRole {
		return "You are a general purpose worker. Complete the task described by the JSON input and answer with the result only."
	}

	return "You are the " + role + " worker. Complete the task described by the JSON input and answer with the result only."
}
