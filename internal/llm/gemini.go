package llm

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
)

const (
	providerGemini     = "gemini"
	defaultGeminiModel = "gemini-2.5-flash"

	// Gemini rejects histories that open with a model turn.
	geminiLeadInPrompt = "財務分析について教えてください"
)

// GeminiClient implements Client using Google's Gemini API.
type GeminiClient struct {
	client       *genai.Client
	defaultModel string
}

// NewGeminiClient creates a new Gemini client. defaultModel is used when a
// request does not name one.
func NewGeminiClient(ctx context.Context, apiKey, defaultModel string, opts ...option.ClientOption) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, errors.New("llm: gemini api key is required")
	}
	if strings.TrimSpace(defaultModel) == "" {
		defaultModel = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)...)
	if err != nil {
		return nil, fmt.Errorf("llm: failed to create gemini client: %w", err)
	}
	return &GeminiClient{client: client, defaultModel: defaultModel}, nil
}

// Complete sends the last message of the request with the earlier turns as chat history.
func (c *GeminiClient) Complete(ctx context.Context, req CompletionRequest) (CompletionResult, error) {
	system, history, last, err := splitGeminiMessages(req.Messages)
	if err != nil {
		return CompletionResult{}, err
	}

	modelID := req.Model
	if strings.TrimSpace(modelID) == "" {
		modelID = c.defaultModel
	}
	model := c.client.GenerativeModel(modelID)
	if req.Temperature >= 0 {
		model.SetTemperature(req.Temperature)
	}
	if req.MaxTokens > 0 {
		model.SetMaxOutputTokens(int32(req.MaxTokens))
	}
	if system != "" {
		model.SystemInstruction = genai.NewUserContent(genai.Text(system))
	}

	cs := model.StartChat()
	cs.History = history

	resp, err := cs.SendMessage(ctx, genai.Text(last))
	if err != nil {
		return CompletionResult{}, liftGeminiError(err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return CompletionResult{}, nil
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return CompletionResult{Text: strings.TrimSpace(text.String())}, nil
}

// Close releases resources held by the Gemini client.
func (c *GeminiClient) Close() error {
	if c.client != nil {
		return c.client.Close()
	}
	return nil
}

// splitGeminiMessages folds system messages into one instruction, maps the
// remaining turns to Gemini roles and separates the final user turn.
func splitGeminiMessages(msgs []ChatMessage) (string, []*genai.Content, string, error) {
	var system []string
	var turns []ChatMessage
	for _, msg := range msgs {
		content := strings.TrimSpace(msg.Content)
		if content == "" {
			continue
		}
		switch msg.Role {
		case RoleSystem:
			system = append(system, content)
		case RoleUser, RoleAssistant:
			turns = append(turns, ChatMessage{Role: msg.Role, Content: content})
		default:
			return "", nil, "", fmt.Errorf("llm: unsupported role %q", msg.Role)
		}
	}
	if len(turns) == 0 {
		return "", nil, "", errors.New("llm: gemini requires at least one message")
	}
	if turns[0].Role == RoleAssistant {
		turns = append([]ChatMessage{{Role: RoleUser, Content: geminiLeadInPrompt}}, turns...)
	}

	history := make([]*genai.Content, 0, len(turns)-1)
	for _, turn := range turns[:len(turns)-1] {
		role := "user"
		if turn.Role == RoleAssistant {
			role = "model"
		}
		history = append(history, &genai.Content{
			Role:  role,
			Parts: []genai.Part{genai.Text(turn.Content)},
		})
	}
	return strings.Join(system, "\n\n"), history, turns[len(turns)-1].Content, nil
}

func liftGeminiError(err error) error {
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		return &APIError{Provider: providerGemini, StatusCode: gerr.Code, Err: err}
	}
	return err
}
