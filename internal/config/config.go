package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultTickMs           = 1000
	DefaultReminderSchedule = "0 0 9 * * *"
	DefaultHost             = "127.0.0.1"
	DefaultPort             = 18791
	DefaultDBName           = "focusdo.db"
)

type Config struct {
	Store    StoreConfig    `json:"store"`
	Timer    TimerConfig    `json:"timer"`
	Reminder ReminderConfig `json:"reminder"`
	Notify   NotifyConfig   `json:"notify"`
}

type StoreConfig struct {
	DBPath string `json:"dbPath"`
}

type TimerConfig struct {
	TickMs int `json:"tickMs"`
}

type ReminderConfig struct {
	Enabled  bool   `json:"enabled"`
	Schedule string `json:"schedule"` // cron expression with a seconds field
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	WebUI    WebUIConfig    `json:"webui"`
}

type TelegramConfig struct {
	Enabled bool   `json:"enabled"`
	Token   string `json:"token"`
	ChatID  int64  `json:"chatId"`
	Proxy   string `json:"proxy,omitempty"`
}

type WebUIConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
}

func DefaultConfig() *Config {
	return &Config{
		Store: StoreConfig{
			DBPath: filepath.Join(ConfigDir(), DefaultDBName),
		},
		Timer: TimerConfig{
			TickMs: DefaultTickMs,
		},
		Reminder: ReminderConfig{
			Enabled:  false,
			Schedule: DefaultReminderSchedule,
		},
		Notify: NotifyConfig{
			WebUI: WebUIConfig{
				Host: DefaultHost,
				Port: DefaultPort,
			},
		},
	}
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".focusdo")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if dbPath := os.Getenv("FOCUSDO_DB_PATH"); dbPath != "" {
		cfg.Store.DBPath = dbPath
	}
	if tick := os.Getenv("FOCUSDO_TICK_MS"); tick != "" {
		if parsed, err := strconv.Atoi(tick); err == nil {
			cfg.Timer.TickMs = parsed
		}
	}
	if enabled := os.Getenv("FOCUSDO_REMINDER_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Reminder.Enabled = parsed
		}
	}
	if schedule := os.Getenv("FOCUSDO_REMINDER_SCHEDULE"); schedule != "" {
		cfg.Reminder.Schedule = schedule
	}
	if token := os.Getenv("FOCUSDO_TELEGRAM_TOKEN"); token != "" {
		cfg.Notify.Telegram.Token = token
	}
	if chatID := os.Getenv("FOCUSDO_TELEGRAM_CHAT_ID"); chatID != "" {
		if parsed, err := strconv.ParseInt(chatID, 10, 64); err == nil {
			cfg.Notify.Telegram.ChatID = parsed
		}
	}
	if enabled := os.Getenv("FOCUSDO_WEBUI_ENABLED"); enabled != "" {
		if parsed, err := strconv.ParseBool(enabled); err == nil {
			cfg.Notify.WebUI.Enabled = parsed
		}
	}
	if port := os.Getenv("FOCUSDO_WEBUI_PORT"); port != "" {
		if parsed, err := strconv.Atoi(port); err == nil {
			cfg.Notify.WebUI.Port = parsed
		}
	}

	if cfg.Store.DBPath == "" {
		cfg.Store.DBPath = DefaultConfig().Store.DBPath
	}
	if cfg.Timer.TickMs <= 0 {
		cfg.Timer.TickMs = DefaultTickMs
	}
	if cfg.Reminder.Schedule == "" {
		cfg.Reminder.Schedule = DefaultReminderSchedule
	}
	if cfg.Notify.WebUI.Host == "" {
		cfg.Notify.WebUI.Host = DefaultHost
	}
	if cfg.Notify.WebUI.Port == 0 {
		cfg.Notify.WebUI.Port = DefaultPort
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	dir := ConfigDir()
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	return os.WriteFile(ConfigPath(), data, 0644)
}
