package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken string        `yaml:"discord_token"`
	DatabasePath string        `yaml:"database_path"`
	LogLevel     string        `yaml:"log_level"`
	Premium      PremiumConfig `yaml:"premium"`
	API          APIConfig     `yaml:"api"`
	Status       StatusConfig  `yaml:"status"`
}

// PremiumConfig carries the identifiers and tuning knobs of the entitlement
// engine. GuildID is the single designated premium guild; RoleID is the role
// the sync pass converges; GlobalRoleIDs is the allow-list of roles in that
// guild whose members hold global premium.
type PremiumConfig struct {
	GuildID          string        `yaml:"guild_id"`
	RoleID           string        `yaml:"role_id"`
	GlobalRoleIDs    []string      `yaml:"global_role_ids"`
	OperatorRoleID   string        `yaml:"operator_role_id"`
	DefaultDays      int           `yaml:"default_days"`
	SyncInterval     time.Duration `yaml:"sync_interval"`
	RoleSyncInterval time.Duration `yaml:"role_sync_interval"`
	BatchSize        int           `yaml:"batch_size"`
	BatchDelay       time.Duration `yaml:"batch_delay"`
}

type APIConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type StatusConfig struct {
	Interval time.Duration   `yaml:"interval"`
	Monitors []MonitorConfig `yaml:"monitors"`
}

type MonitorConfig struct {
	Name      string `yaml:"name"`
	URL       string `yaml:"url"`
	ChannelID string `yaml:"channel_id"`
}

func DefaultConfig() Config {
	return Config{
		DatabasePath: "/data/veebee.db",
		LogLevel:     "info",
		Premium: PremiumConfig{
			DefaultDays:      30,
			SyncInterval:     time.Hour,
			RoleSyncInterval: 5 * time.Minute,
			BatchSize:        100,
			BatchDelay:       time.Second,
		},
		API: APIConfig{Enabled: false, Addr: ":3000"},
		Status: StatusConfig{
			Interval: 5 * time.Minute,
		},
	}
}

func Load() (Config, error) {
	cfg := DefaultConfig()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, err
		}
	}

	applyEnv(&cfg)
	if cfg.DiscordToken == "" {
		return Config{}, errors.New("DISCORD_TOKEN is required")
	}
	if cfg.Premium.GuildID == "" {
		return Config{}, errors.New("premium guild_id is required")
	}
	if cfg.Premium.RoleID == "" {
		return Config{}, errors.New("premium role_id is required")
	}
	normalizePremium(&cfg.Premium)

	return cfg, nil
}

func normalizePremium(cfg *PremiumConfig) {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 100
	}
	if cfg.BatchDelay <= 0 {
		cfg.BatchDelay = time.Second
	}
	if cfg.DefaultDays <= 0 {
		cfg.DefaultDays = 30
	}
	if cfg.SyncInterval <= 0 {
		cfg.SyncInterval = time.Hour
	}
	if cfg.RoleSyncInterval <= 0 {
		cfg.RoleSyncInterval = 5 * time.Minute
	}
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.DatabasePath = envString("DATABASE_PATH", cfg.DatabasePath)
	cfg.LogLevel = envString("LOG_LEVEL", cfg.LogLevel)
	cfg.Premium.GuildID = envString("PREMIUM_GUILD_ID", cfg.Premium.GuildID)
	cfg.Premium.RoleID = envString("PREMIUM_ROLE_ID", cfg.Premium.RoleID)
	if value := os.Getenv("PREMIUM_GLOBAL_ROLE_IDS"); value != "" {
		cfg.Premium.GlobalRoleIDs = splitList(value)
	}
	cfg.Premium.OperatorRoleID = envString("PREMIUM_OPERATOR_ROLE_ID", cfg.Premium.OperatorRoleID)
	cfg.Premium.DefaultDays = envInt("PREMIUM_DEFAULT_DAYS", cfg.Premium.DefaultDays)
	cfg.Premium.BatchSize = envInt("PREMIUM_BATCH_SIZE", cfg.Premium.BatchSize)
	cfg.API.Enabled = envBool("API_ENABLED", cfg.API.Enabled)
	cfg.API.Addr = envString("API_ADDR", cfg.API.Addr)
}

func BuildLogger(level string) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.Encoding = "json"
	cfg.EncoderConfig.TimeKey = "time"
	cfg.EncoderConfig.MessageKey = "message"
	cfg.EncoderConfig.LevelKey = "level"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	lvl := strings.ToLower(level)
	switch lvl {
	case "debug", "info", "warn", "error":
		cfg.Level = zap.NewAtomicLevelAt(parseLevel(lvl))
	default:
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	return cfg.Build()
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

func envString(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if value := os.Getenv(key); value != "" {
		lower := strings.ToLower(value)
		return lower == "1" || lower == "true" || lower == "yes"
	}
	return fallback
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
