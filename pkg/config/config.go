package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Database     DatabaseConfig     `mapstructure:"database"`
	Redis        RedisConfig        `mapstructure:"redis"`
	NATS         NATSConfig         `mapstructure:"nats"`
	LLM          LLMConfig          `mapstructure:"llm"`
	OpenAI       OpenAIConfig       `mapstructure:"openai"`
	Anthropic    AnthropicConfig    `mapstructure:"anthropic"`
	Telegram     TelegramConfig     `mapstructure:"telegram"`
	Conversation ConversationConfig `mapstructure:"conversation"`
	Log          LogConfig          `mapstructure:"log"`
}

type ServerConfig struct {
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

type DatabaseConfig struct {
	Driver      string `mapstructure:"driver"`
	Host        string `mapstructure:"host"`
	Port        int    `mapstructure:"port"`
	User        string `mapstructure:"user"`
	Password    string `mapstructure:"password"`
	DBName      string `mapstructure:"dbname"`
	SSLMode     string `mapstructure:"sslmode"`
	Path        string `mapstructure:"path"`
	UseInMemory bool   `mapstructure:"use_in_memory"`
}

// RedisConfig enables bearer-token auth when URL is set
type RedisConfig struct {
	URL      string        `mapstructure:"url"`
	TokenTTL time.Duration `mapstructure:"token_ttl"`
}

// NATSConfig enables report publishing when URL is set
type NATSConfig struct {
	URL           string        `mapstructure:"url"`
	ReportSubject string        `mapstructure:"report_subject"`
	Timeout       time.Duration `mapstructure:"timeout"`
}

type LLMConfig struct {
	// Provider is openai, anthropic or none
	Provider string        `mapstructure:"provider"`
	Timeout  time.Duration `mapstructure:"timeout"`
}

type OpenAIConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	BaseURL     string  `mapstructure:"base_url"`
	Model       string  `mapstructure:"model"`
	VisionModel string  `mapstructure:"vision_model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type AnthropicConfig struct {
	APIKey      string  `mapstructure:"api_key"`
	Model       string  `mapstructure:"model"`
	MaxTokens   int     `mapstructure:"max_tokens"`
	Temperature float64 `mapstructure:"temperature"`
}

type TelegramConfig struct {
	Token string `mapstructure:"token"`
}

type ConversationConfig struct {
	HistoryLimit int `mapstructure:"history_limit"`
	TopTopics    int `mapstructure:"top_topics"`
}

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

const envPrefix = "CAREBOT"

func parseDatabaseURL(dbURL string) (DatabaseConfig, error) {
	u, err := url.Parse(dbURL)
	if err != nil {
		return DatabaseConfig{}, err
	}

	password, _ := u.User.Password()
	port := 5432 // default PostgreSQL port
	if u.Port() != "" {
		fmt.Sscanf(u.Port(), "%d", &port)
	}

	sslMode := u.Query().Get("sslmode")
	if sslMode == "" {
		sslMode = "disable"
	}

	return DatabaseConfig{
		Driver:   "postgres",
		Host:     u.Hostname(),
		Port:     port,
		User:     u.User.Username(),
		Password: password,
		DBName:   strings.TrimPrefix(u.Path, "/"),
		SSLMode:  sslMode,
	}, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 60*time.Second)

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.password", "")
	v.SetDefault("database.dbname", "carebot")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.path", "carebot.db")
	v.SetDefault("database.use_in_memory", false)

	v.SetDefault("redis.url", "")
	v.SetDefault("redis.token_ttl", 24*time.Hour)

	v.SetDefault("nats.url", "")
	v.SetDefault("nats.report_subject", "carebot.reports")
	v.SetDefault("nats.timeout", 5*time.Second)

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.timeout", 30*time.Second)

	v.SetDefault("openai.api_key", "")
	v.SetDefault("openai.base_url", "")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.vision_model", "gpt-4o-mini")
	v.SetDefault("openai.max_tokens", 300)
	v.SetDefault("openai.temperature", 0.7)

	v.SetDefault("anthropic.api_key", "")
	v.SetDefault("anthropic.model", "claude-3-5-haiku-latest")
	v.SetDefault("anthropic.max_tokens", 300)
	v.SetDefault("anthropic.temperature", 0.7)

	v.SetDefault("telegram.token", "")

	v.SetDefault("conversation.history_limit", 20)
	v.SetDefault("conversation.top_topics", 5)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.development", false)
}

// LoadConfig reads defaults, then the YAML file, then the environment.
// With an empty path a config.yaml in the working directory is used if present.
func LoadConfig(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	// Enable environment variable support: CAREBOT_SERVER_PORT overrides server.port
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Legacy deployment variables, read without the prefix
	for key, env := range map[string]string{
		"legacy.database_url":      "DATABASE_URL",
		"legacy.telegram_token":    "TELEGRAM_TOKEN",
		"legacy.openai_api_key":    "OPENAI_API_KEY",
		"legacy.anthropic_api_key": "ANTHROPIC_API_KEY",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			var notFound viper.ConfigFileNotFoundError
			if !errors.As(err, &notFound) {
				return nil, fmt.Errorf("failed to read config: %w", err)
			}
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	// Check for DATABASE_URL environment variable
	if dbURL := v.GetString("legacy.database_url"); dbURL != "" {
		dbConfig, err := parseDatabaseURL(dbURL)
		if err != nil {
			return nil, fmt.Errorf("failed to parse DATABASE_URL: %v", err)
		}
		config.Database = dbConfig
	}

	if token := v.GetString("legacy.telegram_token"); token != "" {
		config.Telegram.Token = token
	}

	if apiKey := v.GetString("legacy.openai_api_key"); apiKey != "" {
		config.OpenAI.APIKey = apiKey
	}

	if apiKey := v.GetString("legacy.anthropic_api_key"); apiKey != "" {
		config.Anthropic.APIKey = apiKey
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &config, nil
}

func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "openai", "anthropic", "none":
	default:
		return fmt.Errorf("unsupported llm provider %q", c.LLM.Provider)
	}

	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	if c.Server.Port <= 0 {
		return fmt.Errorf("server port must be positive")
	}
	return nil
}
