package config

import "path/filepath"

// Defaults returns the default configuration. The upstream API key is left
// empty on purpose: deployments supply it via OPENAI_API_KEY.
func Defaults() *Config {
	return &Config{
		General: GeneralConfig{
			LogLevel:    "info",
			Environment: "development",
		},
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 3001,
		},
		Upstream: UpstreamConfig{
			APIBase:        "https://api.openai.com/v1",
			Model:          "gpt-3.5-turbo",
			MaxTokens:      500,
			Temperature:    0.7,
			TimeoutSeconds: 30,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Enabled:   false,
				ParseMode: "Markdown",
			},
		},
		Usage: UsageConfig{
			Enabled:       true,
			DBPath:        filepath.Join(DefaultConfigDir(), "usage.db"),
			RetentionDays: 90,
		},
		Metrics: MetricsConfig{
			Enabled:  false,
			Endpoint: "/metrics",
		},
	}
}
