package workers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

const defaultOpenAIURL = "https://api.openai.com/v1/chat/completions"

var errEmptyCompletion = errors.New("completion returned no choices")

// OpenAIWorker calls an OpenAI compatible chat completions endpoint.
type OpenAIWorker struct {
	client       *http.Client
	apiKey       string
	model        string
	baseURL      string
	systemPrompt string
}

// NewOpenAIWorker creates a worker. An empty baseURL targets the OpenAI API; other
// base URLs get /chat/completions appended when missing.
func NewOpenAIWorker(client *http.Client, apiKey, model, baseURL, systemPrompt string) *OpenAIWorker {
	if client == nil {
		client = http.DefaultClient
	}

	if model == "" {
		model = "gpt-4o-mini"
	}

	if baseURL == "" {
		baseURL = defaultOpenAIURL
	} else if !strings.HasSuffix(baseURL, "/chat/completions") {
		baseURL = strings.TrimSuffix(baseURL, "/") + "/chat/completions"
	}

	return &OpenAIWorker{
		client:       client,
		apiKey:       apiKey,
		model:        model,
		baseURL:      baseURL,
		systemPrompt: systemPrompt,
	}
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (w *OpenAIWorker) Invoke(ctx context.Context, prompt string) (string, error) {
	messages := make([]chatMessage, 0, 2)
	if w.systemPrompt != "" {
		messages = append(messages, chatMessage{Role: "system", Content: w.systemPrompt})
	}

	messages = append(messages, chatMessage{Role: "user", Content: prompt})

	body, err := json.Marshal(chatRequest{Model: w.model, Messages: messages})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.baseURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")

	if w.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+w.apiKey)
	}

	resp, err := w.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("API error %d: %s", resp.StatusCode, string(respBody))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", fmt.Errorf("parse response: %w", err)
	}

	if parsed.Error != nil {
		return "", fmt.Errorf("API error: %s", parsed.Error.Message)
	}

	if len(parsed.Choices) == 0 {
		return "", errEmptyCompletion
	}

	return parsed.Choices[0].Message.Content, nil
}
