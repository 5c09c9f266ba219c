package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"belezabot/internal/channel"
	"belezabot/internal/chat"
	"belezabot/internal/config"
	"belezabot/internal/domain"
	"belezabot/internal/persona"
	"belezabot/internal/provider"
	"belezabot/internal/relay"
	"belezabot/internal/usage"
)

var (
	version    = "0.1.0"
	logger     *slog.Logger
	configPath string // overridable via --config flag
)

func main() {
	logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	root := &cobra.Command{
		Use:   "belezabot",
		Short: "Belezabot: beauty clinic chat assistant",
		Long:  "Belezabot relays clinic visitor conversations to an OpenAI-compatible API with the clinic persona attached, and serves them over HTTP, terminal, and Telegram.",
	}

	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to config.json (default: ~/.belezabot/config.json)")

	root.AddCommand(initCmd())
	root.AddCommand(serveCmd())
	root.AddCommand(chatCmd())
	root.AddCommand(statusCmd())
	root.AddCommand(statsCmd())
	root.AddCommand(configCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

// resolveConfigPath returns the config path from --config flag or default.
func resolveConfigPath() string {
	if configPath != "" {
		return configPath
	}
	return config.DefaultConfigPath()
}

// loadConfig loads the config file, falling back to defaults plus
// environment overrides when no file exists yet.
func loadConfig() *config.Config {
	cfgPath := resolveConfigPath()
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Warn("config not found, using defaults", "path", cfgPath, "err", err)
		cfg = config.Defaults()
		config.ApplyEnv(cfg)
	}
	return cfg
}

// setupLogger rebuilds the process logger from the configured level and
// optional log file.
func setupLogger(cfg *config.Config) error {
	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.General.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	out := os.Stderr
	if cfg.General.LogFile != "" {
		f, err := os.OpenFile(cfg.General.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = f
	}
	logger = slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			if _, err := os.Stat(cfgPath); err == nil {
				return fmt.Errorf("config already exists at %s", cfgPath)
			}
			if err := os.MkdirAll(config.DefaultConfigDir(), 0o755); err != nil {
				return err
			}
			cfg := config.Defaults()
			if err := config.Save(cfgPath, cfg); err != nil {
				return err
			}
			logger.Info("initialized", "config", cfgPath)
			logger.Info("set upstream.apiKey (or OPENAI_API_KEY) before running serve")
			return nil
		},
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the chat relay server (plus Telegram if enabled)",
		RunE:  runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	if err := setupLogger(cfg); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pers, err := persona.Load(cfg.Persona.Path)
	if err != nil {
		return fmt.Errorf("load persona: %w", err)
	}

	completer := provider.NewOpenAI(provider.OpenAIConfig{
		APIKey:      cfg.Upstream.APIKey,
		APIBase:     cfg.Upstream.APIBase,
		Model:       cfg.Upstream.Model,
		MaxTokens:   cfg.Upstream.MaxTokens,
		Temperature: cfg.Upstream.Temperature,
		Timeout:     time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
		Logger:      logger,
	})

	if cfg.Upstream.APIKey == "" {
		logger.Warn("no API key configured, chat requests will be rejected",
			"hint", "set upstream.apiKey or OPENAI_API_KEY")
	} else if err := completer.Healthy(ctx); err != nil {
		logger.Warn("upstream unhealthy at startup", "provider", completer.Name(), "err", err)
	} else {
		logger.Info("upstream healthy", "provider", completer.Name())
	}

	var usageStore *usage.Store
	if cfg.Usage.Enabled {
		usageStore, err = usage.NewStore(cfg.Usage.DBPath, logger)
		if err != nil {
			return fmt.Errorf("usage store: %w", err)
		}
		defer usageStore.Close()

		if pruned, err := usageStore.Prune(ctx, cfg.Usage.RetentionDays); err != nil {
			logger.Warn("usage prune failed", "err", err)
		} else if pruned > 0 {
			logger.Info("usage entries pruned", "count", pruned)
		}
	}

	metricsEndpoint := ""
	if cfg.Metrics.Enabled {
		metricsEndpoint = cfg.Metrics.Endpoint
	}

	srv := relay.NewServer(relay.ServerConfig{
		Host:                 cfg.Server.Host,
		Port:                 cfg.Server.Port,
		Completer:            completer,
		Persona:              pers,
		CredentialConfigured: cfg.Upstream.APIKey != "",
		Environment:          cfg.General.Environment,
		Version:              version,
		MetricsEndpoint:      metricsEndpoint,
		Usage:                usageStore,
		Logger:               logger,
	})

	if cfg.Channels.Telegram.Enabled && cfg.Channels.Telegram.Token != "" {
		relayURL := fmt.Sprintf("http://localhost:%d", cfg.Server.Port)
		client := chat.NewClient(chat.ClientConfig{BaseURL: relayURL, Logger: logger})
		tg := channel.NewTelegram(channel.TelegramConfig{
			Token:     cfg.Channels.Telegram.Token,
			AllowFrom: cfg.Channels.Telegram.AllowFrom,
			ParseMode: cfg.Channels.Telegram.ParseMode,
			NewStore: func() *chat.Store {
				return chat.NewStore(chat.StoreConfig{
					Relay:   client,
					Persona: pers,
					Logger:  logger,
				})
			},
			Logger: logger,
		})
		go func() {
			if err := tg.Start(ctx); err != nil {
				logger.Error("telegram channel error", "err", err)
			}
		}()
		logger.Info("telegram channel enabled")
	}

	logger.Info("relay starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"environment", cfg.General.Environment,
	)
	return srv.Start(ctx)
}

func chatCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive chat against a running relay",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if err := setupLogger(cfg); err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			pers, err := persona.Load(cfg.Persona.Path)
			if err != nil {
				return fmt.Errorf("load persona: %w", err)
			}

			client := chat.NewClient(chat.ClientConfig{BaseURL: serverURL, Logger: logger})
			store := chat.NewStore(chat.StoreConfig{
				Relay:   client,
				Persona: pers,
				Logger:  logger,
			})

			cli := channel.NewCLI(channel.CLIConfig{Store: store, Logger: logger})
			return cli.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", chat.DefaultRelayURL, "relay base URL")
	return cmd
}

func statusCmd() *cobra.Command {
	var serverURL string
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show relay health",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			client := chat.NewClient(chat.ClientConfig{BaseURL: serverURL, Logger: logger})
			status, err := client.Health(ctx)
			if err != nil {
				return fmt.Errorf("relay not reachable at %s: %w", serverURL, err)
			}
			printHealth(os.Stdout, status)
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "server", chat.DefaultRelayURL, "relay base URL")
	return cmd
}

func printHealth(w io.Writer, status *domain.HealthStatus) {
	fmt.Fprintf(w, "ok:                   %v\n", status.OK)
	fmt.Fprintf(w, "timestamp:            %s\n", status.Timestamp)
	fmt.Fprintf(w, "uptime:               %.0fs\n", status.UptimeSeconds)
	fmt.Fprintf(w, "credentialConfigured: %v\n", status.CredentialConfigured)
	if status.Environment != "" {
		fmt.Fprintf(w, "environment:          %s\n", status.Environment)
	}
	if status.Version != "" {
		fmt.Fprintf(w, "version:              %s\n", status.Version)
	}
}

func statsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Summarize recorded request accounting",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := loadConfig()
			if !cfg.Usage.Enabled {
				return fmt.Errorf("usage accounting is disabled in config")
			}
			store, err := usage.NewStore(cfg.Usage.DBPath, logger)
			if err != nil {
				return fmt.Errorf("usage store: %w", err)
			}
			defer store.Close()

			summary, err := store.Summarize(context.Background())
			if err != nil {
				return fmt.Errorf("summarize: %w", err)
			}
			fmt.Printf("total requests: %d\n", summary.Total)
			fmt.Printf("avg latency:    %.0fms\n", summary.AvgLatencyMs)
			if len(summary.ByOutcome) > 0 {
				fmt.Println("by outcome:")
				for outcome, n := range summary.ByOutcome {
					fmt.Printf("  %-16s %d\n", outcome, n)
				}
			}
			if len(summary.ByChannel) > 0 {
				fmt.Println("by channel:")
				for ch, n := range summary.ByChannel {
					fmt.Printf("  %-16s %d\n", ch, n)
				}
			}
			return nil
		},
	}
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "View and modify configuration",
		Long:  "Get, set, and show configuration values. Changes are saved to the config file.",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "get [path]",
		Short: "Get a config value (e.g. upstream.model)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			val, err := config.GetByPath(cfg, args[0])
			if err != nil {
				return err
			}
			data, _ := json.MarshalIndent(val, "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "set [path] [value]",
		Short: "Set a config value (e.g. upstream.model gpt-4o-mini)",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := config.SetByPath(cfg, args[0], args[1]); err != nil {
				return fmt.Errorf("set value: %w", err)
			}
			if err := config.Validate(cfg); err != nil {
				return fmt.Errorf("invalid config: %w", err)
			}
			if err := config.Save(cfgPath, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}
			logger.Info("config updated", "path", args[0], "value", args[1], "file", cfgPath)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show the full config with secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			data, _ := json.MarshalIndent(config.Sanitize(cfg), "", "  ")
			fmt.Println(string(data))
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List all config paths with current values, secrets masked",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(resolveConfigPath())
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			paths := config.ListPaths(config.Sanitize(cfg))
			keys := make([]string, 0, len(paths))
			for k := range paths {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			for _, k := range keys {
				fmt.Printf("%s = %v\n", k, paths[k])
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show config file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(resolveConfigPath())
		},
	})

	return cmd
}
