// Package llm wraps the chat-completions gateway every reasoning node talks
// to, plus the JSON-output contract for structured responses.
package llm

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	openai "github.com/sashabaranov/go-openai"

	"github.com/legalkit/lexor/pkg/config"
)

// Request is a single chat-completion exchange.
type Request struct {
	System      string
	User        string
	Temperature float32
	MaxTokens   int
	// JSONOnly asks the gateway for a bare JSON object response.
	JSONOnly bool
}

// Client is the completion surface the pipeline depends on. Implementations
// must be safe for concurrent use: agents and experts fan out on one client.
type Client interface {
	Complete(ctx context.Context, req Request) (string, error)
	Embed(ctx context.Context, text string) ([]float32, error)
}

// OpenAIClient talks to any chat-completions compatible gateway.
type OpenAIClient struct {
	client         *openai.Client
	model          string
	embeddingModel string
	seed           int
	logger         *slog.Logger
}

// NewOpenAIClient builds the gateway client from configuration. The API key
// is read from the environment variable the config names; a key is optional
// when a custom base URL points at a local gateway.
func NewOpenAIClient(cfg *config.LLMConfig, emb *config.EmbeddingConfig) (*OpenAIClient, error) {
	apiKey := os.Getenv(cfg.APIKeyEnv)
	if apiKey == "" && cfg.BaseURL == "" {
		return nil, fmt.Errorf("LLM API key not set (env %s)", cfg.APIKeyEnv)
	}

	clientConfig := openai.DefaultConfig(apiKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	logger := slog.With("component", "llm")
	logger.Info("Initializing LLM gateway client",
		"model", cfg.Model, "embedding_model", emb.Model, "base_url", cfg.BaseURL)

	return &OpenAIClient{
		client:         openai.NewClientWithConfig(clientConfig),
		model:          cfg.Model,
		embeddingModel: emb.Model,
		seed:           cfg.Seed,
		logger:         logger,
	}, nil
}

// Complete runs one chat completion and returns the raw assistant text.
func (c *OpenAIClient) Complete(ctx context.Context, req Request) (string, error) {
	messages := make([]openai.ChatCompletionMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role: openai.ChatMessageRoleSystem, Content: req.System,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role: openai.ChatMessageRoleUser, Content: req.User,
	})

	chatReq := openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	}
	if c.seed != 0 {
		seed := c.seed
		chatReq.Seed = &seed
	}
	if req.JSONOnly {
		chatReq.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.client.CreateChatCompletion(ctx, chatReq)
	if err != nil {
		return "", fmt.Errorf("chat completion failed: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion returned no choices")
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed returns the embedding vector for one text.
func (c *OpenAIClient) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := c.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: []string{text},
		Model: openai.EmbeddingModel(c.embeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("embedding failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("embedding returned no data")
	}
	return resp.Data[0].Embedding, nil
}
