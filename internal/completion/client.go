package completion

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/antoniostano/botfleet/internal/store"
)

// Turn is one conversational entry in the prompt sent upstream.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Client turns (agent config, history, new message) into reply text.
type Client interface {
	Complete(ctx context.Context, agent store.Agent, history []store.ChatMessage, input string) (string, error)
}

// Config controls client construction.
type Config struct {
	Mode    string
	Model   string
	BaseURL string
}

func NewClient(cfg Config) (Client, error) {
	mode := strings.ToLower(strings.TrimSpace(cfg.Mode))
	if mode == "" {
		mode = "openai"
	}

	switch mode {
	case "openai":
		return NewOpenAIClient(cfg.Model, cfg.BaseURL), nil
	case "mock":
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unsupported completion mode %q", cfg.Mode)
	}
}

var ErrMissingAPIKey = errors.New("agent has no API key configured")

// Turns converts stored exchanges into alternating user/assistant entries,
// preserving insertion order.
func Turns(history []store.ChatMessage) []Turn {
	out := make([]Turn, 0, len(history)*2)
	for _, m := range history {
		out = append(out,
			Turn{Role: RoleUser, Content: m.UserMessage},
			Turn{Role: RoleAssistant, Content: m.BotResponse},
		)
	}
	return out
}
