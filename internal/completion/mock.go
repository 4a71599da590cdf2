package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/botfleet/internal/store"
)

// MockClient provides deterministic local replies when no upstream is
// configured.
type MockClient struct{}

func NewMockClient() *MockClient { return &MockClient{} }

func (c *MockClient) Complete(ctx context.Context, agent store.Agent, history []store.ChatMessage, input string) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	default:
	}

	base := strings.TrimSpace(input)
	if base == "" {
		base = "I am listening."
	}
	if len(history) == 0 {
		return fmt.Sprintf("[%s] I heard you: %s", agent.Name, base), nil
	}
	last := history[len(history)-1]
	return fmt.Sprintf("[%s] I heard you: %s\nEarlier you said: %s", agent.Name, base, last.UserMessage), nil
}
