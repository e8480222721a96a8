package config

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	mlog "github.com/zanotrade/marketbot/log"
	"github.com/zanotrade/marketbot/venue"
)

type AppConfig struct {
	WalletURL string
	DaemonURL string
	APIToken  string

	VenueURL  string
	PairsPath string

	StoragePath  string
	PingInterval time.Duration

	TelegramBotToken      string
	TelegramAdminUsername string

	LogLevel      string
	LogFormatJSON bool
	LogGroups     []string
}

func DefaultConfig() AppConfig {
	return AppConfig{
		VenueURL:     venue.DefaultBaseURL,
		PairsPath:    "config/config.json",
		StoragePath:  "marketbot.sqlite3",
		PingInterval: 15 * time.Second,
		LogLevel:     "info",
	}
}

// NewConfigFlagSet declares the flags against the provided struct but does not parse.
func NewConfigFlagSet(cfg *AppConfig) *pflag.FlagSet {
	fs := pflag.NewFlagSet("marketbot", pflag.ContinueOnError)
	fs.SortFlags = false

	fs.StringVar(&cfg.WalletURL, "wallet-url", cfg.WalletURL, "simplewallet JSON-RPC URL (env: SIMPLEWALLET_URL)")
	fs.StringVar(&cfg.DaemonURL, "daemon-url", cfg.DaemonURL, "zanod JSON-RPC URL (env: ZANOD_URL)")
	fs.StringVar(&cfg.APIToken, "api-token", cfg.APIToken, "shared secret for wallet access tokens (env: API_TOKEN)")

	fs.StringVar(&cfg.VenueURL, "venue-url", cfg.VenueURL, "trade server base URL (env: CUSTOM_SERVER)")
	fs.StringVar(&cfg.PairsPath, "pairs-config", cfg.PairsPath, "pair configuration JSON file (env: MARKETBOT_PAIRS_CONFIG)")

	fs.StringVar(&cfg.StoragePath, "storage-path", cfg.StoragePath, "sqlite storage path (env: MARKETBOT_STORAGE_PATH)")
	fs.DurationVar(&cfg.PingInterval, "ping-interval", cfg.PingInterval, "activity ping interval (env: ACTIVITY_PING_INTERVAL)")

	fs.StringVar(&cfg.TelegramBotToken, "telegram-bot-token", cfg.TelegramBotToken, "Telegram bot token, empty disables notifications (env: TELEGRAM_BOT_TOKEN)")
	fs.StringVar(&cfg.TelegramAdminUsername, "telegram-admin", cfg.TelegramAdminUsername, "Telegram username allowed to enroll chats (env: TELEGRAM_ADMIN_USERNAME)")

	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level (env: MARKETBOT_LOG_LEVEL)")
	fs.BoolVar(&cfg.LogFormatJSON, "log-json", cfg.LogFormatJSON, "Emit logs as JSON (env: MARKETBOT_LOG_JSON)")
	fs.StringSliceVar(&cfg.LogGroups, "log-groups", cfg.LogGroups, "Limit console logs to these components, empty logs all (env: MARKETBOT_LOG_GROUPS)")

	return fs
}

// ApplyEnvDefaults inspects flags that were left at their zero value and pulls from env.
func ApplyEnvDefaults(fs *pflag.FlagSet, cfg *AppConfig) error {
	flagSet := map[string]struct{}{}
	fs.Visit(func(f *pflag.Flag) { flagSet[f.Name] = struct{}{} })

	setString := func(name, envKey string, target *string) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok && v != "" {
			*target = v
		}
	}
	setDuration := func(name, envKey string, target *time.Duration) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok {
			if parsed, err := time.ParseDuration(v); err == nil {
				*target = parsed
			} else if seconds, err := strconv.Atoi(v); err == nil {
				// Bare numbers are seconds, the form older deployments use.
				*target = time.Duration(seconds) * time.Second
			}
		}
	}
	setBool := func(name, envKey string, target *bool) {
		if _, ok := flagSet[name]; ok {
			return
		}
		if v, ok := os.LookupEnv(envKey); ok {
			if parsed, err := strconv.ParseBool(v); err == nil {
				*target = parsed
			}
		}
	}

	setString("wallet-url", "SIMPLEWALLET_URL", &cfg.WalletURL)
	setString("daemon-url", "ZANOD_URL", &cfg.DaemonURL)
	setString("api-token", "API_TOKEN", &cfg.APIToken)

	setString("venue-url", "CUSTOM_SERVER", &cfg.VenueURL)
	setString("pairs-config", "MARKETBOT_PAIRS_CONFIG", &cfg.PairsPath)

	setString("storage-path", "MARKETBOT_STORAGE_PATH", &cfg.StoragePath)
	setDuration("ping-interval", "ACTIVITY_PING_INTERVAL", &cfg.PingInterval)

	setString("telegram-bot-token", "TELEGRAM_BOT_TOKEN", &cfg.TelegramBotToken)
	setString("telegram-admin", "TELEGRAM_ADMIN_USERNAME", &cfg.TelegramAdminUsername)

	setString("log-level", "MARKETBOT_LOG_LEVEL", &cfg.LogLevel)
	setBool("log-json", "MARKETBOT_LOG_JSON", &cfg.LogFormatJSON)
	if _, ok := flagSet["log-groups"]; !ok {
		if v, ok := os.LookupEnv("MARKETBOT_LOG_GROUPS"); ok && v != "" {
			cfg.LogGroups = strings.Split(v, ",")
		}
	}

	// Legacy deployments configure the wallet by port only.
	if cfg.WalletURL == "" {
		if port, ok := os.LookupEnv("SIMPLEWALLET_PORT"); ok && port != "" {
			cfg.WalletURL = "http://127.0.0.1:" + port
		}
	}
	return nil
}

func ValidateConfig(cfg AppConfig) error {
	var missing []string
	if cfg.WalletURL == "" {
		missing = append(missing, "wallet-url")
	}
	if cfg.DaemonURL == "" {
		missing = append(missing, "daemon-url")
	}
	if cfg.PairsPath == "" {
		missing = append(missing, "pairs-config")
	}
	if cfg.TelegramBotToken != "" && cfg.TelegramAdminUsername == "" {
		missing = append(missing, "telegram-admin")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required config: %s", strings.Join(missing, ", "))
	}
	return nil
}

func GetLogHandler(cfg AppConfig) slog.Handler {
	var level slog.Level
	if cfg.LogLevel == "" {
		level = slog.LevelInfo
	} else if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
		log.Printf("unknown log level %q, defaulting to info", cfg.LogLevel)
	}

	handlerOpts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.LogFormatJSON {
		handler = slog.NewJSONHandler(os.Stderr, handlerOpts)
	} else {
		handler = slog.NewTextHandler(os.Stderr, handlerOpts)
	}

	// Scopes the console to the named components; the sqlite sink still
	// receives everything.
	return mlog.NewGroupFilterHandler(handler, cfg.LogGroups)
}
