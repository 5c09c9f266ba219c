package channel

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"belezabot/internal/chat"
	"belezabot/internal/domain"
	"belezabot/internal/metrics"
)

const (
	telegramMaxMsgLen      = 4000
	telegramMaxSendRetries = 3
)

// Telegram long-polls the Bot API and keeps one conversation store per
// Telegram chat, so each visitor gets their own transcript and greeting.
type Telegram struct {
	token     string
	allowFrom []int64 // empty = allow all
	parseMode string

	bot      *tgbotapi.BotAPI
	newStore func() *chat.Store
	logger   *slog.Logger

	stores   map[int64]*chat.Store
	storesMu sync.Mutex
}

type TelegramConfig struct {
	Token     string
	AllowFrom []string // user IDs as strings
	ParseMode string
	NewStore  func() *chat.Store
	Logger    *slog.Logger
}

func NewTelegram(cfg TelegramConfig) *Telegram {
	var allowed []int64
	for _, s := range cfg.AllowFrom {
		if id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64); err == nil {
			allowed = append(allowed, id)
		}
	}
	if cfg.ParseMode == "" {
		cfg.ParseMode = "Markdown"
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Telegram{
		token:     cfg.Token,
		allowFrom: allowed,
		parseMode: cfg.ParseMode,
		newStore:  cfg.NewStore,
		logger:    cfg.Logger,
		stores:    make(map[int64]*chat.Store),
	}
}

func (t *Telegram) Name() string { return "telegram" }

// Start connects to Telegram and polls for updates until ctx is cancelled.
func (t *Telegram) Start(ctx context.Context) error {
	bot, err := tgbotapi.NewBotAPI(t.token)
	if err != nil {
		return fmt.Errorf("telegram bot init: %w", err)
	}
	t.bot = bot
	t.logger.Info("telegram bot connected",
		"username", bot.Self.UserName,
		"id", bot.Self.ID,
	)

	u := tgbotapi.NewUpdate(0)
	u.Timeout = 30
	updates := bot.GetUpdatesChan(u)

	t.logger.Info("telegram polling started")

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("telegram channel stopping")
			bot.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			t.handleUpdate(ctx, update)
		}
	}
}

func (t *Telegram) handleUpdate(ctx context.Context, update tgbotapi.Update) {
	if update.Message == nil || update.Message.From == nil || update.Message.Chat == nil {
		return
	}

	userID := update.Message.From.ID
	chatID := update.Message.Chat.ID

	if !t.isAllowed(userID) {
		t.logger.Warn("unauthorized telegram user",
			"user_id", userID,
			"username", update.Message.From.UserName,
		)
		t.sendMessage(chatID, "Unauthorized. Your user ID is not in the allow list.")
		return
	}

	text := strings.TrimSpace(update.Message.Text)
	if text == "" {
		return
	}

	if update.Message.IsCommand() {
		t.handleCommand(chatID, update.Message)
		return
	}

	store := t.storeFor(chatID)
	metrics.TelegramMessages.Inc()
	t.logger.Info("telegram message received",
		"user_id", userID,
		"chat_id", chatID,
		"text_len", len(text),
	)

	typing := tgbotapi.NewChatAction(chatID, tgbotapi.ChatTyping)
	_, _ = t.bot.Send(typing)

	// A round trip per chat runs in its own goroutine; the store's busy
	// flag rejects sends that arrive before the previous reply lands, and
	// SendMessage reports the rejection so the visitor is told to wait.
	go func() {
		reply, ok := store.SendMessage(ctx, text)
		if !ok {
			t.sendMessage(chatID, "One moment, I am still answering your previous message.")
			return
		}
		t.sendMessage(chatID, reply.Content)
	}()
}

// storeFor returns the chat's store, creating it on first contact. Creation
// marks the panel open so the store seeds its greeting.
func (t *Telegram) storeFor(chatID int64) *chat.Store {
	t.storesMu.Lock()
	defer t.storesMu.Unlock()
	store, ok := t.stores[chatID]
	if !ok {
		store = t.newStore()
		store.SetPanelOpen(true)
		t.stores[chatID] = store
		metrics.ActiveChats.Set(int64(len(t.stores)))
	}
	return store
}

func (t *Telegram) handleCommand(chatID int64, msg *tgbotapi.Message) {
	switch msg.Command() {
	case "start":
		store := t.storeFor(chatID)
		if greeting, ok := store.LastMessage(); ok && greeting.Role == domain.RoleAssistant {
			t.sendMessage(chatID, greeting.Content)
		}
		t.sendMessage(chatID, "Just send me a message about our treatments.\n\nCommands:\n/clear - Start a new conversation\n/help - Show this message")
	case "help":
		t.sendMessage(chatID, "Send me any question about treatments, prices or appointments and I will answer.\n\nCommands:\n/clear - Start a new conversation\n/status - Bot status")
	case "status":
		t.sendMessage(chatID, fmt.Sprintf("Online\n\nBot: @%s\nYour ID: %d\nChat ID: %d", t.bot.Self.UserName, msg.From.ID, chatID))
	case "clear":
		store := t.storeFor(chatID)
		store.Clear()
		store.SetPanelOpen(false)
		store.SetPanelOpen(true)
		t.sendMessage(chatID, "Conversation cleared.")
		if greeting, ok := store.LastMessage(); ok {
			t.sendMessage(chatID, greeting.Content)
		}
	default:
		t.sendMessage(chatID, "Unknown command. Type /help for available commands.")
	}
}

func (t *Telegram) isAllowed(userID int64) bool {
	if len(t.allowFrom) == 0 {
		return true
	}
	for _, id := range t.allowFrom {
		if id == userID {
			return true
		}
	}
	return false
}

func (t *Telegram) sendMessage(chatID int64, text string) {
	// Telegram caps messages at 4096 chars; split on newlines where possible.
	const maxLen = telegramMaxMsgLen
	for len(text) > 0 {
		chunk := text
		if len(chunk) > maxLen {
			cutAt := strings.LastIndex(chunk[:maxLen], "\n")
			if cutAt < maxLen/2 {
				cutAt = maxLen
			}
			chunk = text[:cutAt]
			text = text[cutAt:]
		} else {
			text = ""
		}

		t.sendChunk(chatID, chunk)
	}
}

// sendChunk sends one chunk, falling back to plain text on parse errors and
// backing off on rate limits.
func (t *Telegram) sendChunk(chatID int64, text string) {
	const maxRetries = telegramMaxSendRetries

	for attempt := 0; attempt <= maxRetries; attempt++ {
		msg := tgbotapi.NewMessage(chatID, text)
		if attempt == 0 && t.parseMode != "" {
			msg.ParseMode = t.parseMode
		}

		_, err := t.bot.Send(msg)
		if err == nil {
			return
		}

		errStr := err.Error()

		if strings.Contains(errStr, "Too Many Requests") || strings.Contains(errStr, "429") {
			retryAfter := time.Duration(attempt+1) * 3 * time.Second
			t.logger.Warn("telegram rate limited, backing off",
				"retry_after", retryAfter, "attempt", attempt+1,
			)
			time.Sleep(retryAfter)
			continue
		}

		if attempt == 0 && msg.ParseMode != "" &&
			strings.Contains(errStr, "can't parse entities") {
			t.logger.Warn("telegram markdown parse error, retrying as plain text",
				"err", err, "parseMode", t.parseMode,
			)
			plainMsg := tgbotapi.NewMessage(chatID, text)
			if _, err2 := t.bot.Send(plainMsg); err2 == nil {
				return
			}
		}

		if attempt < maxRetries {
			backoff := time.Duration(attempt+1) * time.Second
			t.logger.Warn("telegram send error, retrying", "err", err, "backoff", backoff)
			time.Sleep(backoff)
			continue
		}

		t.logger.Error("telegram send failed after retries", "err", err, "attempts", maxRetries+1)
	}
}
