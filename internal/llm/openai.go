package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/sashabaranov/go-openai"
)

const providerOpenAI = "openai"

// OpenAIConfig configures an OpenAI-compatible chat-completion client.
type OpenAIConfig struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// OpenAIClient implements Client against an OpenAI-compatible endpoint.
type OpenAIClient struct {
	client *openai.Client
}

// NewOpenAIClient builds a client; the API key is required.
func NewOpenAIClient(cfg OpenAIConfig) (*OpenAIClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("llm: openai api key is required")
	}
	oc := openai.DefaultConfig(cfg.APIKey)
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		oc.BaseURL = strings.TrimRight(base, "/")
	}
	if cfg.HTTPClient != nil {
		oc.HTTPClient = cfg.HTTPClient
	}
	return &OpenAIClient{client: openai.NewClientWithConfig(oc)}, nil
}

// Complete sends one chat completion request.
func (c *OpenAIClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	if strings.TrimSpace(req.Model) == "" {
		return CompletionResult{}, errors.New("llm: openai model is required")
	}

	messages := make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case RoleSystem, RoleUser, RoleAssistant:
		default:
			return CompletionResult{}, fmt.Errorf("llm: unsupported role %q", msg.Role)
		}
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		})
	}

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       req.Model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return CompletionResult{}, liftOpenAIError(err)
	}

	if len(resp.Choices) == 0 {
		return CompletionResult{}, nil
	}
	return CompletionResult{Text: resp.Choices[0].Message.Content}, nil
}

func liftOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &APIError{Provider: providerOpenAI, StatusCode: apiErr.HTTPStatusCode, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &APIError{Provider: providerOpenAI, StatusCode: reqErr.HTTPStatusCode, Err: err}
	}
	return err
}
