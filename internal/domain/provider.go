package domain

import "context"

// Completer is the port to the upstream completion API. Implementations
// receive the full combined message list (system prompt already first) and
// return the generated assistant text.
type Completer interface {
	Complete(ctx context.Context, messages []ChatMessage) (string, error)
	Name() string
	Healthy(ctx context.Context) error
}
