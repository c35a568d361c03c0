package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	API        APIConfig        `mapstructure:"api"`
	Completion CompletionConfig `mapstructure:"completion"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	History    HistoryConfig    `mapstructure:"history"`
	Voice      VoiceConfig      `mapstructure:"voice"`
	Output     OutputConfig     `mapstructure:"output"`
	Usage      UsageConfig      `mapstructure:"usage"`
	Twitch     TwitchConfig     `mapstructure:"twitch"`
	Storage    StorageConfig    `mapstructure:"storage"`
	RateLimit  RateLimitConfig  `mapstructure:"rate_limit"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type BotConfig struct {
	// Persona is the static system-context text prepended to every request.
	Persona string `mapstructure:"persona"`
	// SecretPassphrase derives the key that encrypts the API key at rest.
	SecretPassphrase string `mapstructure:"secret_passphrase"`
}

type APIConfig struct {
	Port int `mapstructure:"port"`
}

type CompletionConfig struct {
	Model string `mapstructure:"model"`
	// Endpoint is the full chat-completions URL.
	Endpoint string `mapstructure:"endpoint"`
	APIKey   string `mapstructure:"api_key"`
	// MaxResponseChars is appended to the prompt as a length instruction.
	MaxResponseChars int           `mapstructure:"max_response_chars"`
	Timeout          time.Duration `mapstructure:"timeout"`
}

type ModerationConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	RebukeEnabled bool   `mapstructure:"rebuke_enabled"`
	Model         string `mapstructure:"model"`
	Endpoint      string `mapstructure:"endpoint"`
	// Thresholds maps classifier category to a raw threshold string.
	// Unparsable values fall back to the per-category default.
	Thresholds map[string]string `mapstructure:"thresholds"`
}

type HistoryConfig struct {
	MaxChatHistory   int `mapstructure:"max_chat_history"`
	MaxPromptHistory int `mapstructure:"max_prompt_history"`
}

type VoiceConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	VoiceID string `mapstructure:"voice_id"`
}

type OutputConfig struct {
	// PostToChat controls whether replies (and rebukes) reach chat at all.
	PostToChat bool          `mapstructure:"post_to_chat"`
	CleanMode  string        `mapstructure:"clean_mode"`
	Webhook    WebhookConfig `mapstructure:"webhook"`
	Discord    DiscordConfig `mapstructure:"discord"`
}

type WebhookConfig struct {
	URL string `mapstructure:"url"`
	// Mode is one of disabled, clean, full, default.
	Mode string `mapstructure:"mode"`
}

type DiscordConfig struct {
	Enabled    bool   `mapstructure:"enabled"`
	WebhookURL string `mapstructure:"webhook_url"`
}

type UsageConfig struct {
	// Token cost rates in currency units per million tokens.
	InputRatePerMillion  float64 `mapstructure:"input_rate_per_million"`
	OutputRatePerMillion float64 `mapstructure:"output_rate_per_million"`
	WindowDays           int     `mapstructure:"window_days"`
}

type TwitchConfig struct {
	Broadcaster string        `mapstructure:"broadcaster"`
	ClientID    string        `mapstructure:"client_id"`
	Token       string        `mapstructure:"token"`
	CacheTTL    time.Duration `mapstructure:"cache_ttl"`
}

type StorageConfig struct {
	Type   string       `mapstructure:"type"`
	Redis  RedisConfig  `mapstructure:"redis"`
	Memory MemoryConfig `mapstructure:"memory"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type MemoryConfig struct {
	DefaultExpiration time.Duration `mapstructure:"default_expiration"`
	CleanupInterval   time.Duration `mapstructure:"cleanup_interval"`
}

type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	Burst             int  `mapstructure:"burst"`
}

type LoggingConfig struct {
	Level  string     `mapstructure:"level"`
	Format string     `mapstructure:"format"`
	Output string     `mapstructure:"output"`
	File   FileConfig `mapstructure:"file"`
}

type FileConfig struct {
	Path       string `mapstructure:"path"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
}

type MonitoringConfig struct {
	Metrics MetricsConfig `mapstructure:"metrics"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

type I18nConfig struct {
	DefaultLanguage string   `mapstructure:"default_language"`
	Languages       []string `mapstructure:"languages"`
}

const (
	DefaultCompletionEndpoint = "https://api.openai.com/v1/chat/completions"
	DefaultModerationEndpoint = "https://api.openai.com/v1/moderations"
	DefaultModerationModel    = "omni-moderation-latest"
	DefaultMaxResponseChars   = 500
	DefaultMaxChatHistory     = 20
	DefaultMaxPromptHistory   = 10
	DefaultUsageWindowDays    = 30
	DefaultInputRate          = 2.5
	DefaultOutputRate         = 10.0
)

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.SetEnvPrefix("")
	viper.BindEnv("completion.api_key", "OPENAI_API_KEY")
	viper.BindEnv("twitch.client_id", "TWITCH_CLIENT_ID")
	viper.BindEnv("twitch.token", "TWITCH_TOKEN")
	viper.BindEnv("storage.redis.addr", "REDIS_ADDR")
	viper.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("output.discord.webhook_url", "DISCORD_WEBHOOK_URL")
	viper.BindEnv("bot.secret_passphrase", "BOT_SECRET_PASSPHRASE")

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validateConfig(&config); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("api.port", 8080)
	viper.SetDefault("completion.endpoint", DefaultCompletionEndpoint)
	viper.SetDefault("completion.max_response_chars", DefaultMaxResponseChars)
	viper.SetDefault("completion.timeout", 2*time.Minute)
	viper.SetDefault("moderation.endpoint", DefaultModerationEndpoint)
	viper.SetDefault("moderation.model", DefaultModerationModel)
	viper.SetDefault("history.max_chat_history", DefaultMaxChatHistory)
	viper.SetDefault("history.max_prompt_history", DefaultMaxPromptHistory)
	viper.SetDefault("usage.input_rate_per_million", DefaultInputRate)
	viper.SetDefault("usage.output_rate_per_million", DefaultOutputRate)
	viper.SetDefault("usage.window_days", DefaultUsageWindowDays)
	viper.SetDefault("output.clean_mode", "off")
	viper.SetDefault("output.webhook.mode", "disabled")
	viper.SetDefault("twitch.cache_ttl", 5*time.Minute)
	viper.SetDefault("storage.type", "memory")
	viper.SetDefault("storage.memory.default_expiration", 24*time.Hour)
	viper.SetDefault("storage.memory.cleanup_interval", 10*time.Minute)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("i18n.default_language", "en")
	viper.SetDefault("i18n.languages", []string{"en"})
}

func validateConfig(cfg *Config) error {
	if cfg.Completion.Model == "" {
		return fmt.Errorf("completion model is required")
	}
	if cfg.Completion.APIKey == "" {
		return fmt.Errorf("completion API key is required")
	}
	if cfg.History.MaxChatHistory <= 0 {
		return fmt.Errorf("history.max_chat_history must be positive")
	}
	if cfg.History.MaxPromptHistory <= 0 {
		return fmt.Errorf("history.max_prompt_history must be positive")
	}
	switch strings.ToLower(cfg.Output.Webhook.Mode) {
	case "disabled", "clean", "full", "default":
	default:
		return fmt.Errorf("unknown webhook mode: %s", cfg.Output.Webhook.Mode)
	}
	if cfg.Output.Webhook.Mode != "disabled" && cfg.Output.Webhook.URL == "" {
		return fmt.Errorf("webhook URL is required when webhook mode is enabled")
	}
	return nil
}
