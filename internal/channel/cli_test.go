package channel

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"

	"belezabot/internal/chat"
	"belezabot/internal/domain"
	"belezabot/internal/persona"
)

type replyRelay struct {
	reply string
}

func (r *replyRelay) Send(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	return r.reply, nil
}

// syncBuffer guards the output buffer against the spinner goroutine.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newCLIStore(reply string) *chat.Store {
	return chat.NewStore(chat.StoreConfig{
		Relay:   &replyRelay{reply: reply},
		Persona: &persona.Persona{SystemPrompt: "test", Greetings: []string{"welcome to the clinic"}},
		Logger:  slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})),
	})
}

func TestCLIRun_GreetsAndEchoesReply(t *testing.T) {
	out := &syncBuffer{}
	store := newCLIStore("Botox reduces wrinkles.")
	cli := NewCLI(CLIConfig{
		Store: store,
		In:    strings.NewReader("What is Botox?\n/quit\n"),
		Out:   out,
	})

	if err := cli.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	output := out.String()
	if !strings.Contains(output, "welcome to the clinic") {
		t.Errorf("greeting not printed: %q", output)
	}
	if !strings.Contains(output, "Botox reduces wrinkles.") {
		t.Errorf("assistant reply not printed: %q", output)
	}

	msgs := store.Messages()
	if len(msgs) != 3 { // greeting + user + assistant
		t.Errorf("transcript length: got %d", len(msgs))
	}
}

func TestCLIRun_ClearRestartsConversation(t *testing.T) {
	out := &syncBuffer{}
	store := newCLIStore("ok")
	cli := NewCLI(CLIConfig{
		Store: store,
		In:    strings.NewReader("hello\n/clear\n/quit\n"),
		Out:   out,
	})

	if err := cli.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	msgs := store.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected only the fresh greeting after clear, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleAssistant {
		t.Errorf("fresh transcript should open with a greeting: %+v", msgs[0])
	}
}

func TestCLIRun_EOFExitsCleanly(t *testing.T) {
	cli := NewCLI(CLIConfig{
		Store: newCLIStore("ok"),
		In:    strings.NewReader(""),
		Out:   &syncBuffer{},
	})
	if err := cli.Run(context.Background()); err != nil {
		t.Errorf("EOF should not be an error: %v", err)
	}
}
