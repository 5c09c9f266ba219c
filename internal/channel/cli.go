// Package channel contains the conversation frontends. Each channel owns
// one conversation store per live chat and renders its transcript; the
// store does all the talking to the relay.
package channel

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"belezabot/internal/chat"
)

// CLI is an interactive terminal chat backed by a single conversation store.
type CLI struct {
	store  *chat.Store
	logger *slog.Logger
	in     io.Reader
	out    io.Writer

	thinking  bool
	thinkMu   sync.Mutex
	thinkStop chan struct{}
}

type CLIConfig struct {
	Store  *chat.Store
	Logger *slog.Logger
	In     io.Reader
	Out    io.Writer
}

func NewCLI(cfg CLIConfig) *CLI {
	if cfg.In == nil {
		cfg.In = os.Stdin
	}
	if cfg.Out == nil {
		cfg.Out = os.Stdout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &CLI{
		store:  cfg.Store,
		logger: cfg.Logger,
		in:     cfg.In,
		out:    cfg.Out,
	}
}

// Run drives the REPL until EOF, /quit, or context cancellation.
func (c *CLI) Run(ctx context.Context) error {
	// Opening the terminal counts as opening the panel: the store seeds
	// the greeting.
	c.store.SetPanelOpen(true)
	if greeting, ok := c.store.LastMessage(); ok {
		c.printAssistant(greeting.Content)
	}

	_, _ = fmt.Fprintln(c.out, "Type your message and press Enter. /clear restarts, /quit exits.")
	_, _ = fmt.Fprint(c.out, "You> ")

	scanner := bufio.NewScanner(c.in)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return err
			}
			return nil // EOF
		}

		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		case "/quit", "/exit", "/q":
			c.logger.Info("user requested quit")
			return nil
		case "/clear":
			c.store.Clear()
			c.store.SetPanelOpen(false)
			c.store.SetPanelOpen(true)
			if greeting, ok := c.store.LastMessage(); ok {
				c.printAssistant(greeting.Content)
			}
			_, _ = fmt.Fprint(c.out, "You> ")
			continue
		}

		c.startThinking()
		reply, ok := c.store.SendMessage(ctx, line)
		c.stopThinking()

		if ok {
			c.printAssistant(reply.Content)
		}
		_, _ = fmt.Fprint(c.out, "You> ")
	}
}

func (c *CLI) printAssistant(content string) {
	_, _ = fmt.Fprintln(c.out, "\r\033[K")
	_, _ = fmt.Fprintln(c.out, content)
	_, _ = fmt.Fprintln(c.out, "")
}

func (c *CLI) startThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if c.thinking {
		return
	}
	c.thinking = true
	c.thinkStop = make(chan struct{})
	go func(stop chan struct{}) {
		frames := []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}
		i := 0
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				fmt.Fprintf(c.out, "\r%s Thinking...", frames[i%len(frames)])
				i++
			}
		}
	}(c.thinkStop)
}

func (c *CLI) stopThinking() {
	c.thinkMu.Lock()
	defer c.thinkMu.Unlock()
	if !c.thinking {
		return
	}
	c.thinking = false
	close(c.thinkStop)
}
