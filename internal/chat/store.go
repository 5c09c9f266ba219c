// Package chat holds the client side of the conversation: an in-memory
// store owning the transcript, busy flag, and panel state, plus the HTTP
// client it uses to reach the relay. The store is the sole writer of
// conversation state.
package chat

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"belezabot/internal/domain"
	"belezabot/internal/persona"
)

// Relay is the transport the store uses for a send round trip.
type Relay interface {
	Send(ctx context.Context, messages []domain.ChatMessage) (string, error)
}

// Store is a conversation state container. All methods are safe for
// concurrent use; at most one SendMessage round trip is in flight at a time.
type Store struct {
	mu        sync.Mutex
	messages  []domain.Message
	panelOpen bool
	busy      bool
	greetIdx  int

	relay   Relay
	persona *persona.Persona
	now     func() time.Time
	newID   func() string
	logger  *slog.Logger
}

// StoreConfig wires the store's dependencies. Relay is required; the clock
// and id generator default to the real ones and exist so tests can
// substitute fakes.
type StoreConfig struct {
	Relay   Relay
	Persona *persona.Persona
	Now     func() time.Time
	NewID   func() string
	Logger  *slog.Logger
}

func NewStore(cfg StoreConfig) *Store {
	if cfg.Persona == nil {
		cfg.Persona = persona.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return "msg_" + uuid.NewString() }
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Store{
		relay:   cfg.Relay,
		persona: cfg.Persona,
		now:     cfg.Now,
		newID:   cfg.NewID,
		logger:  cfg.Logger,
	}
}

// Append creates a message with a fresh id and current timestamp and adds it
// to the transcript.
func (s *Store) Append(role domain.Role, content string) domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendLocked(role, content)
}

func (s *Store) appendLocked(role domain.Role, content string) domain.Message {
	msg := domain.Message{
		ID:        s.newID(),
		Role:      role,
		Content:   content,
		Timestamp: s.now(),
	}
	s.messages = append(s.messages, msg)
	return msg
}

// SetPanelOpen records panel visibility. Opening onto an empty transcript
// seeds exactly one greeting; the emptiness guard makes re-opens and
// re-mounts idempotent.
func (s *Store) SetPanelOpen(open bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.panelOpen = open
	if open && len(s.messages) == 0 {
		s.appendLocked(domain.RoleAssistant, s.persona.Greeting(s.greetIdx))
		s.greetIdx++
	}
}

// SendMessage runs one full round trip: append the user message, post the
// whole history to the relay, and append the reply. It never returns an
// error; every failure (network, relay error body, panic) becomes a visible
// assistant message, because the transcript is the UI's only error surface.
// The returned message is the assistant entry this call appended, and the
// bool reports whether a round trip ran at all: empty input and calls while
// one is outstanding are no-ops reported as false. Callers must branch on
// that result rather than inspect the transcript, which a concurrent send
// may have grown in the meantime.
func (s *Store) SendMessage(ctx context.Context, userText string) (domain.Message, bool) {
	trimmed := strings.TrimSpace(userText)

	s.mu.Lock()
	if trimmed == "" || s.busy {
		s.mu.Unlock()
		return domain.Message{}, false
	}
	s.appendLocked(domain.RoleUser, trimmed)
	s.busy = true
	wire := make([]domain.ChatMessage, len(s.messages))
	for i, m := range s.messages {
		wire[i] = m.Wire()
	}
	s.mu.Unlock()

	// The relay call happens outside the lock; the busy flag keeps the
	// history from interleaving with a second send.
	reply, err := s.callRelay(ctx, wire)

	s.mu.Lock()
	defer s.mu.Unlock()
	var msg domain.Message
	if err != nil {
		s.logger.Warn("chat send failed", "err", err)
		msg = s.appendLocked(domain.RoleAssistant, "Error: "+err.Error())
	} else {
		msg = s.appendLocked(domain.RoleAssistant, reply)
	}
	s.busy = false
	return msg, true
}

// callRelay isolates the transport call so that even a panicking Relay
// implementation resolves into an error instead of escaping SendMessage.
func (s *Store) callRelay(ctx context.Context, wire []domain.ChatMessage) (reply string, err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("relay call panicked: %v", rec)
		}
	}()
	return s.relay.Send(ctx, wire)
}

// Clear drops the transcript. The next empty-to-open transition greets
// again, rotating to the next greeting text.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = nil
}

// Messages returns a copy of the transcript in insertion order.
func (s *Store) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.messages))
	copy(out, s.messages)
	return out
}

// LastMessage returns the most recent message, if any.
func (s *Store) LastMessage() (domain.Message, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.messages) == 0 {
		return domain.Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

func (s *Store) IsBusy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.busy
}

func (s *Store) IsPanelOpen() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.panelOpen
}
