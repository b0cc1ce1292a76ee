package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig             `mapstructure:"server"`
	Log       LogConfig                `mapstructure:"log"`
	Database  DatabaseConfig           `mapstructure:"database"`
	GitHub    GitHubConfig             `mapstructure:"github"`
	Monitor   MonitorConfig            `mapstructure:"monitor"`
	Templates TemplatesConfig          `mapstructure:"templates"`
	Telegram  TelegramConfig           `mapstructure:"telegram"`
	Webhooks  map[string]WebhookConfig `mapstructure:"webhooks"`
	Gmail     GmailConfig              `mapstructure:"gmail"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port         string        `mapstructure:"port"`
	ReadTimeout  time.Duration `mapstructure:"read_timeout"`
	WriteTimeout time.Duration `mapstructure:"write_timeout"`
}

// LogConfig holds logging configuration
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// DatabaseConfig holds database connection configuration
type DatabaseConfig struct {
	Driver   string `mapstructure:"driver"`
	Path     string `mapstructure:"path"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	DBName   string `mapstructure:"dbname"`
}

// GitHubConfig holds feed client configuration
type GitHubConfig struct {
	Token             string        `mapstructure:"token"`
	APIURL            string        `mapstructure:"api_url"`
	FeedURL           string        `mapstructure:"feed_url"`
	APITimeout        time.Duration `mapstructure:"api_timeout"`
	UserAgent         string        `mapstructure:"user_agent"`
	Source            string        `mapstructure:"source"`
	RequestsPerSecond float64       `mapstructure:"requests_per_second"`
}

// MonitorConfig holds polling and delivery configuration
type MonitorConfig struct {
	Accounts            []string      `mapstructure:"accounts"`
	Destinations        []string      `mapstructure:"destinations"`
	CheckInterval       time.Duration `mapstructure:"check_interval"`
	ErrorBackoff        time.Duration `mapstructure:"error_backoff"`
	EventLimit          int           `mapstructure:"event_limit"`
	RetentionDays       int           `mapstructure:"retention_days"`
	CleanupSchedule     string        `mapstructure:"cleanup_schedule"`
	DeliveryDelay       time.Duration `mapstructure:"delivery_delay"`
	ImageNotification   bool          `mapstructure:"image_notification"`
	StartupNotification bool          `mapstructure:"startup_notification"`
	LegacyIDFile        string        `mapstructure:"legacy_id_file"`
}

// TemplatesConfig holds notification template overrides. Events maps an
// event type to template keys ("template", "commit_message" or an action).
// Event types listed in Disabled are never rendered.
type TemplatesConfig struct {
	Header   string                       `mapstructure:"header"`
	Events   map[string]map[string]string `mapstructure:"events"`
	Disabled []string                     `mapstructure:"disabled"`
}

// TelegramConfig holds Telegram Bot API configuration
type TelegramConfig struct {
	Token  string `mapstructure:"token"`
	APIURL string `mapstructure:"api_url"`
}

// WebhookConfig holds a named webhook destination
type WebhookConfig struct {
	URL    string `mapstructure:"url"`
	Secret string `mapstructure:"secret"`
}

// GmailConfig holds Gmail API configuration for e-mail destinations
type GmailConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	RefreshToken string `mapstructure:"refresh_token"`
	UserEmail    string `mapstructure:"user_email"`
}

// LoadConfig loads configuration from environment variables and config file
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	// Environment variables override config file
	v.AutomaticEnv()
	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("error unmarshaling config: %w", err)
	}
	cfg.Monitor.Accounts = splitList(cfg.Monitor.Accounts)
	cfg.Monitor.Destinations = splitList(cfg.Monitor.Destinations)
	cfg.Templates.Disabled = splitList(cfg.Templates.Disabled)

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")

	v.SetDefault("log.level", "info")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "data/relay.db")
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 3306)

	v.SetDefault("github.api_url", "https://api.github.com")
	v.SetDefault("github.feed_url", "https://github.com")
	v.SetDefault("github.api_timeout", "10s")
	v.SetDefault("github.user_agent", "Github-Activity-Relay/1.0.0")
	v.SetDefault("github.source", "api")
	v.SetDefault("github.requests_per_second", 1.0)

	v.SetDefault("monitor.check_interval", "300s")
	v.SetDefault("monitor.error_backoff", "60s")
	v.SetDefault("monitor.event_limit", 2)
	v.SetDefault("monitor.retention_days", 7)
	v.SetDefault("monitor.cleanup_schedule", "@every 24h")
	v.SetDefault("monitor.delivery_delay", "1s")
	v.SetDefault("monitor.image_notification", false)
	v.SetDefault("monitor.startup_notification", true)

	v.SetDefault("templates.header", "{{.Username}} has new activity!")

	v.SetDefault("telegram.api_url", "https://api.telegram.org")
}

// bindEnvVars binds environment variables to configuration keys
func bindEnvVars(v *viper.Viper) {
	// Server
	v.BindEnv("server.port", "SERVER_PORT")
	v.BindEnv("server.read_timeout", "SERVER_READ_TIMEOUT")
	v.BindEnv("server.write_timeout", "SERVER_WRITE_TIMEOUT")
	v.BindEnv("log.level", "LOG_LEVEL")

	// Database
	v.BindEnv("database.driver", "DB_DRIVER")
	v.BindEnv("database.path", "DB_PATH")
	v.BindEnv("database.host", "DB_HOST")
	v.BindEnv("database.port", "DB_PORT")
	v.BindEnv("database.user", "DB_USER")
	v.BindEnv("database.password", "DB_PASSWORD")
	v.BindEnv("database.dbname", "DB_NAME")

	// GitHub
	v.BindEnv("github.token", "GITHUB_TOKEN")
	v.BindEnv("github.api_url", "GITHUB_API_URL")
	v.BindEnv("github.api_timeout", "GITHUB_API_TIMEOUT")
	v.BindEnv("github.source", "GITHUB_SOURCE")

	// Monitor
	v.BindEnv("monitor.accounts", "MONITOR_ACCOUNTS")
	v.BindEnv("monitor.destinations", "MONITOR_DESTINATIONS")
	v.BindEnv("monitor.check_interval", "MONITOR_CHECK_INTERVAL")
	v.BindEnv("monitor.event_limit", "MONITOR_EVENT_LIMIT")
	v.BindEnv("monitor.retention_days", "MONITOR_RETENTION_DAYS")
	v.BindEnv("monitor.delivery_delay", "MONITOR_DELIVERY_DELAY")
	v.BindEnv("templates.header", "TEMPLATES_HEADER")
	v.BindEnv("templates.disabled", "TEMPLATES_DISABLED")

	// Transports
	v.BindEnv("telegram.token", "TELEGRAM_TOKEN")
	v.BindEnv("gmail.client_id", "GMAIL_CLIENT_ID")
	v.BindEnv("gmail.client_secret", "GMAIL_CLIENT_SECRET")
	v.BindEnv("gmail.refresh_token", "GMAIL_REFRESH_TOKEN")
	v.BindEnv("gmail.user_email", "GMAIL_USER_EMAIL")
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// GetDSN returns the database connection string
func (c *DatabaseConfig) GetDSN() string {
	if c.Driver == "sqlite" {
		return c.Path
	}
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?charset=utf8mb4&parseTime=True&loc=UTC",
		c.User, c.Password, c.Host, c.Port, c.DBName)
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}

	switch c.Database.Driver {
	case "sqlite":
		if c.Database.Path == "" {
			return fmt.Errorf("database path is required for sqlite")
		}
	case "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.DBName == "" {
			return fmt.Errorf("database host, user, and dbname are required")
		}
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}

	switch c.GitHub.Source {
	case "api", "atom":
	default:
		return fmt.Errorf("unsupported github source %q", c.GitHub.Source)
	}

	if c.Monitor.CheckInterval <= 0 {
		return fmt.Errorf("monitor check interval must be greater than 0")
	}
	if c.Monitor.ErrorBackoff <= 0 {
		return fmt.Errorf("monitor error backoff must be greater than 0")
	}
	if c.Monitor.RetentionDays <= 0 {
		return fmt.Errorf("monitor retention days must be greater than 0")
	}
	if c.Monitor.DeliveryDelay < 0 {
		return fmt.Errorf("monitor delivery delay must not be negative")
	}

	return nil
}
