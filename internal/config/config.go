package config

import (
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Config holds all application configuration
type Config struct {
	TelegramBotToken string `mapstructure:"telegram_bot_token"`
	// SuperAdminID is the only identity allowed to grant the admin role.
	SuperAdminID int64 `mapstructure:"super_admin_id"`

	// Transport
	Mode          string `mapstructure:"mode"` // polling, webhook
	WebhookURL    string `mapstructure:"webhook_url"`
	WebhookSecret string `mapstructure:"webhook_secret"`
	Port          string `mapstructure:"port"`
	JWTSecret     string `mapstructure:"jwt_secret"`

	// Data storage
	StoreDriver string `mapstructure:"store_driver"` // postgres, sqlite, firestore, memory
	DatabaseURL string `mapstructure:"database_url"`
	SQLitePath  string `mapstructure:"sqlite_path"`

	// Roster sessions live in Redis when configured, otherwise in memory.
	RedisURL   string        `mapstructure:"redis_url"`
	SessionTTL time.Duration `mapstructure:"session_ttl"`

	Firebase     FirebaseConfig     `mapstructure:"firebase"`
	Escalation   EscalationConfig   `mapstructure:"escalation"`
	Notification NotificationConfig `mapstructure:"notification"`

	LogLevel string `mapstructure:"log_level"`
}

type FirebaseConfig struct {
	CredentialsFile string `mapstructure:"credentials_file"`
	ProjectID       string `mapstructure:"project_id"`
	PushEnabled     bool   `mapstructure:"push_enabled"`
}

type EscalationConfig struct {
	ReminderAfter time.Duration `mapstructure:"reminder_after"`
	EscalateAfter time.Duration `mapstructure:"escalate_after"`
	SweepInterval time.Duration `mapstructure:"sweep_interval"`
	Timezone      string        `mapstructure:"timezone"`
}

type NotificationConfig struct {
	Workers   int `mapstructure:"workers"`
	QueueSize int `mapstructure:"queue_size"`
}

// Location resolves the timezone used to decide "today" for rosters.
func (e EscalationConfig) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(e.Timezone)
}

// App holds the global config instance
var App Config

// LoadConfig loads configuration from file and environment variables
func LoadConfig(path string) error {
	// .env is optional; production injects real env vars
	if err := godotenv.Load(); err == nil {
		log.Println("✅ Loaded .env file")
	}

	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("mode", "polling")
	v.SetDefault("store_driver", "postgres")
	v.SetDefault("sqlite_path", "./data/oncall.db")
	v.SetDefault("session_ttl", "0s")
	v.SetDefault("escalation.reminder_after", "60s")
	v.SetDefault("escalation.escalate_after", "5m")
	v.SetDefault("escalation.sweep_interval", "1m")
	v.SetDefault("escalation.timezone", "UTC")
	v.SetDefault("notification.workers", 4)
	v.SetDefault("notification.queue_size", 256)
	v.SetDefault("log_level", "info")

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.AddConfigPath("./config")
		v.AddConfigPath(".")
		v.SetConfigName("bot.config")
		v.SetConfigType("yaml")
	}

	v.SetEnvPrefix("oncall")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	_ = v.BindEnv("telegram_bot_token", "TELEGRAM_BOT_TOKEN")
	_ = v.BindEnv("super_admin_id", "AUTHORIZED_TELEGRAM_ID")
	_ = v.BindEnv("mode", "BOT_MODE")
	_ = v.BindEnv("webhook_url", "WEBHOOK_URL")
	_ = v.BindEnv("webhook_secret", "WEBHOOK_SECRET")
	_ = v.BindEnv("port", "PORT")
	_ = v.BindEnv("jwt_secret", "JWT_SECRET")

	_ = v.BindEnv("store_driver", "STORE_DRIVER")
	_ = v.BindEnv("database_url", "DATABASE_URL")
	_ = v.BindEnv("sqlite_path", "SQLITE_PATH")
	_ = v.BindEnv("redis_url", "REDIS_URL")
	_ = v.BindEnv("session_ttl", "SESSION_TTL")

	_ = v.BindEnv("firebase.credentials_file", "GOOGLE_APPLICATION_CREDENTIALS")
	_ = v.BindEnv("firebase.project_id", "FIREBASE_PROJECT_ID")
	_ = v.BindEnv("firebase.push_enabled", "FCM_PUSH_ENABLED")

	_ = v.BindEnv("escalation.reminder_after", "REMINDER_AFTER")
	_ = v.BindEnv("escalation.escalate_after", "ESCALATE_AFTER")
	_ = v.BindEnv("escalation.sweep_interval", "ESCALATION_SWEEP_INTERVAL")
	_ = v.BindEnv("escalation.timezone", "ROSTER_TIMEZONE")

	_ = v.BindEnv("notification.workers", "NOTIFICATION_WORKERS")
	_ = v.BindEnv("notification.queue_size", "NOTIFICATION_QUEUE_SIZE")
	_ = v.BindEnv("log_level", "LOG_LEVEL")

	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			log.Println("ℹ️  No config file found, using defaults and environment variables")
		} else {
			return err
		}
	} else {
		log.Printf("✅ Loaded config from: %s", v.ConfigFileUsed())
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return err
	}
	App = cfg

	setEnvIfEmpty("DATABASE_URL", App.DatabaseURL)
	setEnvIfEmpty("GOOGLE_APPLICATION_CREDENTIALS", App.Firebase.CredentialsFile)

	return nil
}

// Validate checks settings that the bot cannot start without.
func (c Config) Validate() error {
	if c.TelegramBotToken == "" {
		return fmt.Errorf("telegram_bot_token is required")
	}
	switch c.Mode {
	case "polling":
	case "webhook":
		if c.WebhookURL == "" || c.WebhookSecret == "" {
			return fmt.Errorf("webhook mode requires webhook_url and webhook_secret")
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if err := c.ValidateStore(); err != nil {
		return err
	}
	if c.Escalation.ReminderAfter <= 0 || c.Escalation.EscalateAfter <= c.Escalation.ReminderAfter {
		return fmt.Errorf("escalation.reminder_after must be positive and before escalation.escalate_after")
	}
	if _, err := c.Escalation.Location(); err != nil {
		return fmt.Errorf("invalid escalation.timezone: %w", err)
	}
	return nil
}

// ValidateStore checks only the storage settings, for commands that never talk to the chat API.
func (c Config) ValidateStore() error {
	switch c.StoreDriver {
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("database_url is required for the postgres store")
		}
	case "sqlite":
		if c.SQLitePath == "" {
			return fmt.Errorf("sqlite_path is required for the sqlite store")
		}
	case "firestore":
		if c.Firebase.ProjectID == "" && c.Firebase.CredentialsFile == "" {
			return fmt.Errorf("firestore store requires firebase.project_id or firebase.credentials_file")
		}
	case "memory":
	default:
		return fmt.Errorf("unknown store_driver %q", c.StoreDriver)
	}
	return nil
}

func setEnvIfEmpty(key, value string) {
	if value != "" && os.Getenv(key) == "" {
		os.Setenv(key, value)
	}
}
