package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"belezabot/internal/domain"
	"belezabot/internal/persona"
)

// fakeRelay routes Send through a configurable function.
type fakeRelay struct {
	fn func(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

func (f *fakeRelay) Send(ctx context.Context, messages []domain.ChatMessage) (string, error) {
	return f.fn(ctx, messages)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(fn func(ctx context.Context, messages []domain.ChatMessage) (string, error)) *Store {
	n := 0
	return NewStore(StoreConfig{
		Relay:   &fakeRelay{fn: fn},
		Persona: &persona.Persona{SystemPrompt: "test", Greetings: []string{"greet-a", "greet-b"}},
		Now:     func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) },
		NewID: func() string {
			n++
			return fmt.Sprintf("msg_%d", n)
		},
		Logger: testLogger(),
	})
}

func TestSendMessage_AppendsUserAndAssistant(t *testing.T) {
	s := newTestStore(func(ctx context.Context, messages []domain.ChatMessage) (string, error) {
		return "Botox reduces wrinkles.", nil
	})

	reply, ok := s.SendMessage(context.Background(), "What is Botox?")
	if !ok {
		t.Fatal("completed round trip must report true")
	}
	if reply.Role != domain.RoleAssistant || reply.Content != "Botox reduces wrinkles." {
		t.Errorf("returned message: %+v", reply)
	}

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected exactly 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != domain.RoleUser || msgs[0].Content != "What is Botox?" {
		t.Errorf("user message: %+v", msgs[0])
	}
	if msgs[1].Role != domain.RoleAssistant || msgs[1].Content != "Botox reduces wrinkles." {
		t.Errorf("assistant message: %+v", msgs[1])
	}
	if msgs[0].ID == msgs[1].ID {
		t.Error("message ids must be unique")
	}
	if s.IsBusy() {
		t.Error("busy must be false at rest")
	}
}

func TestSendMessage_EmptyInputIsNoOp(t *testing.T) {
	called := false
	s := newTestStore(func(ctx context.Context, messages []domain.ChatMessage) (string, error) {
		called = true
		return "", nil
	})

	if _, ok := s.SendMessage(context.Background(), ""); ok {
		t.Error("empty input must report a no-op")
	}
	if _, ok := s.SendMessage(context.Background(), "   \t\n"); ok {
		t.Error("whitespace input must report a no-op")
	}

	if called {
		t.Error("relay must not be called for empty input")
	}
	if len(s.Messages()) != 0 {
		t.Errorf("messages must be unchanged, got %d", len(s.Messages()))
	}
	if s.IsBusy() {
		t.Error("busy must be unchanged")
	}
}

func TestSendMessage_BusyGuardRejectsConcurrentCalls(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	calls := 0
	s := newTestStore(func(ctx context.Context, messages []domain.ChatMessage) (string, error) {
		calls++
		close(entered)
		<-release
		return "done", nil
	})

	go s.SendMessage(context.Background(), "first")
	<-entered

	if !s.IsBusy() {
		t.Error("busy must be true while a round trip is outstanding")
	}

	// Second call while busy: must no-op without touching the transcript,
	// and report the rejection so callers never mistake the first round
	// trip's reply for their own.
	if _, ok := s.SendMessage(context.Background(), "second"); ok {
		t.Error("send during an outstanding round trip must report a no-op")
	}
	if got := len(s.Messages()); got != 1 {
		t.Errorf("concurrent send must not append, transcript has %d", got)
	}

	close(release)
	waitFor(t, func() bool { return !s.IsBusy() })

	if calls != 1 {
		t.Errorf("relay called %d times, want 1", calls)
	}
	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages after completion, got %d", len(msgs))
	}
	if msgs[1].Content != "done" {
		t.Errorf("assistant message: %+v", msgs[1])
	}
}

func TestSendMessage_FailureBecomesAssistantMessage(t *testing.T) {
	s := newTestStore(func(ctx context.Context, messages []domain.ChatMessage) (string, error) {
		return "", errors.New("Rate limit exceeded. Try again in a moment.")
	})

	s.SendMessage(context.Background(), "hello")

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	last := msgs[1]
	if last.Role != domain.RoleAssistant {
		t.Errorf("failure must surface as assistant message, got role %s", last.Role)
	}
	if !strings.Contains(last.Content, "Rate limit exceeded") {
		t.Errorf("failure text must embed the reason: %q", last.Content)
	}
	if s.IsBusy() {
		t.Error("busy must be restored after failure")
	}
}

func TestSendMessage_RelayPanicIsContained(t *testing.T) {
	s := newTestStore(func(ctx context.Context, messages []domain.ChatMessage) (string, error) {
		panic("transport exploded")
	})

	s.SendMessage(context.Background(), "hello") // must not panic the caller

	msgs := s.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if !strings.Contains(msgs[1].Content, "transport exploded") {
		t.Errorf("panic reason must surface: %q", msgs[1].Content)
	}
	if s.IsBusy() {
		t.Error("busy must be restored after panic")
	}
}

func TestSendMessage_PostsFullHistoryInOrder(t *testing.T) {
	var got []domain.ChatMessage
	s := newTestStore(func(ctx context.Context, messages []domain.ChatMessage) (string, error) {
		got = messages
		return "reply", nil
	})

	s.Append(domain.RoleAssistant, "welcome")
	s.SendMessage(context.Background(), "first question")

	if len(got) != 2 {
		t.Fatalf("expected 2 wire messages, got %d", len(got))
	}
	if got[0].Role != domain.RoleAssistant || got[0].Content != "welcome" {
		t.Errorf("wire[0]: %+v", got[0])
	}
	if got[1].Role != domain.RoleUser || got[1].Content != "first question" {
		t.Errorf("wire[1]: %+v", got[1])
	}
}

func TestSendMessage_TrimsInput(t *testing.T) {
	s := newTestStore(func(ctx context.Context, messages []domain.ChatMessage) (string, error) {
		return "ok", nil
	})
	s.SendMessage(context.Background(), "  hello  ")
	msgs := s.Messages()
	if msgs[0].Content != "hello" {
		t.Errorf("content: got %q", msgs[0].Content)
	}
}

func TestSetPanelOpen_SeedsExactlyOneGreeting(t *testing.T) {
	s := newTestStore(func(ctx context.Context, messages []domain.ChatMessage) (string, error) {
		return "ok", nil
	})

	s.SetPanelOpen(true)
	if got := len(s.Messages()); got != 1 {
		t.Fatalf("expected 1 greeting, got %d", got)
	}
	first, _ := s.LastMessage()
	if first.Role != domain.RoleAssistant || first.Content != "greet-a" {
		t.Errorf("greeting: %+v", first)
	}

	// Close and reopen with history present: no second greeting.
	s.SetPanelOpen(false)
	s.SetPanelOpen(true)
	if got := len(s.Messages()); got != 1 {
		t.Errorf("reopen must not greet again, got %d messages", got)
	}

	// Clear then reopen: a fresh empty-to-open transition greets once more,
	// rotating to the next text.
	s.Clear()
	s.SetPanelOpen(false)
	s.SetPanelOpen(true)
	msgs := s.Messages()
	if len(msgs) != 1 {
		t.Fatalf("expected 1 greeting after clear, got %d", len(msgs))
	}
	if msgs[0].Content != "greet-b" {
		t.Errorf("greeting should rotate: %q", msgs[0].Content)
	}
}

func TestAppend_UsesInjectedClockAndIDs(t *testing.T) {
	s := newTestStore(nil)
	msg := s.Append(domain.RoleUser, "hi")
	if msg.ID != "msg_1" {
		t.Errorf("id: got %q", msg.ID)
	}
	if !msg.Timestamp.Equal(time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp: got %v", msg.Timestamp)
	}
}

func TestMessages_ReturnsCopy(t *testing.T) {
	s := newTestStore(nil)
	s.Append(domain.RoleUser, "hi")
	msgs := s.Messages()
	msgs[0].Content = "mutated"
	if got := s.Messages()[0].Content; got != "hi" {
		t.Errorf("store transcript mutated through copy: %q", got)
	}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}
