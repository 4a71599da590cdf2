package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/antoniostano/botfleet/internal/store"
)

// OpenAIClient calls the OpenAI chat-completion API with the agent's own
// credentials and generation parameters.
type OpenAIClient struct {
	model   string
	baseURL string
	timeout time.Duration
}

func NewOpenAIClient(model, baseURL string) *OpenAIClient {
	if strings.TrimSpace(model) == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		model:   model,
		baseURL: strings.TrimSpace(baseURL),
		timeout: 60 * time.Second,
	}
}

func (c *OpenAIClient) Complete(ctx context.Context, agent store.Agent, history []store.ChatMessage, input string) (string, error) {
	apiKey := strings.TrimSpace(agent.APIKey)
	if apiKey == "" {
		return "", ErrMissingAPIKey
	}

	// Keys are per-agent, so the upstream client is built per call; the
	// config is a plain struct and the transport is the shared default.
	cfg := openai.DefaultConfig(apiKey)
	if c.baseURL != "" {
		cfg.BaseURL = c.baseURL
	}
	client := openai.NewClientWithConfig(cfg)

	messages := make([]openai.ChatCompletionMessage, 0, len(history)*2+2)
	if strings.TrimSpace(agent.Instruction) != "" {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    openai.ChatMessageRoleSystem,
			Content: agent.Instruction,
		})
	}
	for _, turn := range Turns(history) {
		messages = append(messages, openai.ChatCompletionMessage{
			Role:    turn.Role,
			Content: turn.Content,
		})
	}
	messages = append(messages, openai.ChatCompletionMessage{
		Role:    openai.ChatMessageRoleUser,
		Content: input,
	})

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.model,
		Messages:    messages,
		Temperature: agent.Temperature,
		MaxTokens:   agent.MaxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("chat completion: empty choices in response")
	}

	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}
