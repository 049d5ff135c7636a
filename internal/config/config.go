package config

import (
	"fmt"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Bot        BotConfig        `mapstructure:"bot"`
	OpenAI     OpenAIConfig     `mapstructure:"openai"`
	Search     SearchConfig     `mapstructure:"search"`
	Storage    StorageConfig    `mapstructure:"storage"`
	Limits     LimitsConfig     `mapstructure:"limits"`
	Moderation ModerationConfig `mapstructure:"moderation"`
	ImageQuota ImageQuotaConfig `mapstructure:"image_quota"`
	Rules      RulesConfig      `mapstructure:"rules"`
	Webhook    WebhookConfig    `mapstructure:"webhook"`
	Logging    LoggingConfig    `mapstructure:"logging"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

type BotConfig struct {
	// Name is matched as a whole word to address the bot in group chats
	Name          string        `mapstructure:"name"`
	CommandPrefix string        `mapstructure:"command_prefix"`
	SystemPrompt  string        `mapstructure:"system_prompt"`
	TypingDelay   time.Duration `mapstructure:"typing_delay"`
	// MentionAllTrigger fires the mention-all short-circuit in group chats
	MentionAllTrigger string `mapstructure:"mention_all_trigger"`
	// DeviceStorePath is the sqlite file backing the WhatsApp session
	DeviceStorePath string `mapstructure:"device_store_path"`
}

type OpenAIConfig struct {
	APIKey         string        `mapstructure:"api_key"`
	BaseURL        string        `mapstructure:"base_url"`
	Model          string        `mapstructure:"model"`
	ImageModel     string        `mapstructure:"image_model"`
	ImageSize      string        `mapstructure:"image_size"`
	Temperature    float64       `mapstructure:"temperature"`
	MaxTokens      int           `mapstructure:"max_tokens"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MaxRetries     int           `mapstructure:"max_retries"`
	// RequestsPerMinute throttles outbound API calls client-side
	RequestsPerMinute int `mapstructure:"requests_per_minute"`
}

type SearchConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

type StorageConfig struct {
	Type  string      `mapstructure:"type"`
	File  FileStorage `mapstructure:"file"`
	Redis RedisConfig `mapstructure:"redis"`
}

type FileStorage struct {
	Dir string `mapstructure:"dir"`
	// FlushInterval debounces response-log writes
	FlushInterval time.Duration `mapstructure:"flush_interval"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

type LimitsConfig struct {
	MaxMessageLength     int           `mapstructure:"max_message_length"`
	MaxSavedHistory      int           `mapstructure:"max_saved_history"`
	MaxSavedQuickReplies int           `mapstructure:"max_saved_quick_replies"`
	MaxSavedResponses    int           `mapstructure:"max_saved_responses"`
	ContextLimit         int           `mapstructure:"context_limit"`
	Cooldown             time.Duration `mapstructure:"cooldown"`
}

type ModerationConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Model    string        `mapstructure:"model"`
	CacheTTL time.Duration `mapstructure:"cache_ttl"`
	CacheMax int           `mapstructure:"cache_max"`
}

type ImageQuotaConfig struct {
	Limit  int           `mapstructure:"limit"`
	Window time.Duration `mapstructure:"window"`
}

type RulesConfig struct {
	PredefinedFile string `mapstructure:"predefined_file"`
	GeneralFile    string `mapstructure:"general_file"`
}

type WebhookConfig struct {
	Enabled     bool   `mapstructure:"enabled"`
	Port        int    `mapstructure:"port"`
	VerifyToken string `mapstructure:"verify_token"`
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
	Directory       string   `mapstructure:"directory"`
}

// LoadConfig loads configuration from file and environment variables
func LoadConfig(configPath string) (*Config, error) {
	viper.SetConfigFile(configPath)
	viper.SetConfigType("yaml")

	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	viper.BindEnv("openai.api_key", "OPENAI_API_KEY")
	viper.BindEnv("openai.base_url", "OPENAI_BASE_URL")
	viper.BindEnv("search.api_key", "SEARCH_API_KEY")
	viper.BindEnv("storage.redis.addr", "REDIS_ADDR")
	viper.BindEnv("storage.redis.password", "REDIS_PASSWORD")
	viper.BindEnv("webhook.verify_token", "WEBHOOK_VERIFY_TOKEN")

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
	viper.SetDefault("bot.command_prefix", "!")
	viper.SetDefault("bot.typing_delay", 2*time.Second)
	viper.SetDefault("bot.mention_all_trigger", "@everyone")
	viper.SetDefault("bot.device_store_path", "data/whatsapp.db")
	viper.SetDefault("openai.base_url", "https://api.openai.com/v1")
	viper.SetDefault("openai.model", "gpt-4o-mini")
	viper.SetDefault("openai.image_model", "dall-e-3")
	viper.SetDefault("openai.image_size", "1024x1024")
	viper.SetDefault("openai.temperature", 0.7)
	viper.SetDefault("openai.max_tokens", 1024)
	viper.SetDefault("openai.request_timeout", 30*time.Second)
	viper.SetDefault("openai.max_retries", 3)
	viper.SetDefault("openai.requests_per_minute", 60)
	viper.SetDefault("storage.type", "file")
	viper.SetDefault("storage.file.dir", "data")
	viper.SetDefault("storage.file.flush_interval", 2*time.Second)
	viper.SetDefault("limits.max_message_length", 1000)
	viper.SetDefault("limits.max_saved_history", 30)
	viper.SetDefault("limits.max_saved_quick_replies", 20)
	viper.SetDefault("limits.max_saved_responses", 100)
	viper.SetDefault("limits.context_limit", 10)
	viper.SetDefault("limits.cooldown", 3*time.Second)
	viper.SetDefault("moderation.enabled", true)
	viper.SetDefault("moderation.model", "omni-moderation-latest")
	viper.SetDefault("moderation.cache_ttl", 10*time.Minute)
	viper.SetDefault("moderation.cache_max", 1000)
	viper.SetDefault("image_quota.limit", 3)
	viper.SetDefault("image_quota.window", 24*time.Hour)
	viper.SetDefault("rules.predefined_file", "configs/rules/predefined.json")
	viper.SetDefault("rules.general_file", "configs/rules/general.json")
	viper.SetDefault("webhook.port", 8080)
	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "text")
	viper.SetDefault("logging.output", "stdout")
	viper.SetDefault("monitoring.metrics.path", "/metrics")
	viper.SetDefault("monitoring.metrics.port", 9090)
	viper.SetDefault("i18n.default_language", "en")
	viper.SetDefault("i18n.languages", []string{"en"})
	viper.SetDefault("i18n.directory", "configs/i18n")
}

// validateConfig refuses to run half-configured: a missing credential or
// bot identity is the only fatal error class.
func validateConfig(cfg *Config) error {
	if cfg.Bot.Name == "" {
		return fmt.Errorf("bot name is required")
	}
	if cfg.OpenAI.APIKey == "" {
		return fmt.Errorf("openai api key is required")
	}
	if cfg.Webhook.Enabled && cfg.Webhook.VerifyToken == "" {
		return fmt.Errorf("webhook verify token is required when webhook is enabled")
	}
	return nil
}
