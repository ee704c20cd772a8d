package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"bastion/internal/privileges"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	"gopkg.in/yaml.v3"
)

type Config struct {
	DiscordToken  string           `yaml:"discord_token"`
	GuildID       string           `yaml:"guild_id"`
	Prefix        string           `yaml:"prefix"`
	RanksPath     string           `yaml:"ranks_path"`
	RetentionDays int              `yaml:"retention_days"`
	Database      DatabaseConfig   `yaml:"database"`
	Log           LogConfig        `yaml:"log"`
	Health        HealthConfig     `yaml:"health"`
	Moderation    ModerationConfig `yaml:"moderation"`
	Schedule      ScheduleConfig   `yaml:"schedule"`
	RateLimit     RateLimitConfig  `yaml:"rate_limit"`
	Notifications NotifyConfig     `yaml:"notifications"`
}

type DatabaseConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

type LogConfig struct {
	Level string `yaml:"level"`
	// File, when set, receives a rotated copy of the log.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

type HealthConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type ModerationConfig struct {
	GuildName             string `yaml:"guild_name"`
	MutedRoleID           string `yaml:"muted_role_id"`
	NotifyTargets         bool   `yaml:"notify_targets"`
	ConfirmTimeoutSeconds int    `yaml:"confirm_timeout_seconds"`
	ExpirySlackMillis     int    `yaml:"expiry_slack_millis"`
}

func (m ModerationConfig) ConfirmTimeout() time.Duration {
	return time.Duration(m.ConfirmTimeoutSeconds) * time.Second
}

func (m ModerationConfig) ExpirySlack() time.Duration {
	return time.Duration(m.ExpirySlackMillis) * time.Millisecond
}

// ScheduleConfig holds cron specs for background jobs.
type ScheduleConfig struct {
	ExpirySweep  string `yaml:"expiry_sweep"`
	AuditCleanup string `yaml:"audit_cleanup"`
}

type RateLimitConfig struct {
	PerSecond float64 `yaml:"per_second"`
	Burst     int     `yaml:"burst"`
}

type NotifyConfig struct {
	LogChannelID   string      `yaml:"log_channel_id"`
	AuditToChannel bool        `yaml:"audit_to_channel"`
	EmbedColors    EmbedColors `yaml:"embed_colors"`
}

type EmbedColors struct {
	Success int `yaml:"success"`
	Info    int `yaml:"info"`
	Warning int `yaml:"warning"`
	Error   int `yaml:"error"`
}

func DefaultConfig() Config {
	return Config{
		Prefix:        "!",
		RanksPath:     "ranks.yaml",
		RetentionDays: 30,
		Database:      DatabaseConfig{Driver: "sqlite", DSN: "/data/bastion.db"},
		Log:           LogConfig{Level: "info", MaxSizeMB: 50, MaxBackups: 5, MaxAgeDays: 28},
		Health:        HealthConfig{Enabled: false, Addr: ":8080"},
		Moderation: ModerationConfig{
			NotifyTargets:         true,
			ConfirmTimeoutSeconds: 600,
			ExpirySlackMillis:     5,
		},
		Schedule: ScheduleConfig{
			ExpirySweep:  "@every 5m",
			AuditCleanup: "0 4 * * *",
		},
		RateLimit: RateLimitConfig{PerSecond: 0.5, Burst: 3},
		Notifications: NotifyConfig{
			AuditToChannel: true,
			EmbedColors: EmbedColors{
				Success: 0x22C55E,
				Info:    0x3B82F6,
				Warning: 0xF59E0B,
				Error:   0xEF4444,
			},
		},
	}
}

// Load reads .env, then the YAML file, then environment overrides. An empty
// path falls back to CONFIG_PATH and then config.yaml; a missing file is not
// an error.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg := DefaultConfig()

	if path == "" {
		path = envString("CONFIG_PATH", "config.yaml")
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return Config{}, err
	}

	applyEnv(&cfg)
	cfg.Prefix = strings.TrimSpace(cfg.Prefix)
	if cfg.Prefix == "" {
		cfg.Prefix = "!"
	}
	return cfg, nil
}

// RequireBot checks the settings only the running bot needs.
func (c Config) RequireBot() error {
	if c.DiscordToken == "" {
		return errors.New("DISCORD_TOKEN is required")
	}
	if c.GuildID == "" {
		return errors.New("GUILD_ID is required")
	}
	return nil
}

// LoadRanks reads and validates the rank table.
func LoadRanks(path string) (privileges.Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return privileges.Table{}, err
	}
	var table privileges.Table
	if err := yaml.Unmarshal(data, &table); err != nil {
		return privileges.Table{}, fmt.Errorf("parse %s: %w", path, err)
	}
	if err := table.Validate(); err != nil {
		return privileges.Table{}, fmt.Errorf("%s: %w", path, err)
	}
	return table, nil
}

func applyEnv(cfg *Config) {
	cfg.DiscordToken = envString("DISCORD_TOKEN", cfg.DiscordToken)
	cfg.GuildID = envString("GUILD_ID", cfg.GuildID)
	cfg.Prefix = envString("COMMAND_PREFIX", cfg.Prefix)
	cfg.RanksPath = envString("RANKS_PATH", cfg.RanksPath)
	cfg.RetentionDays = envInt("RETENTION_DAYS", cfg.RetentionDays)
	cfg.Database.Driver = envString("DATABASE_DRIVER", cfg.Database.Driver)
	cfg.Database.DSN = envString("DATABASE_DSN", cfg.Database.DSN)
	cfg.Log.Level = envString("LOG_LEVEL", cfg.Log.Level)
	cfg.Log.File = envString("LOG_FILE", cfg.Log.File)
	cfg.Health.Enabled = envBool("HEALTH_ENABLED", cfg.Health.Enabled)
	cfg.Health.Addr = envString("HEALTH_ADDR", cfg.Health.Addr)
	cfg.Moderation.MutedRoleID = envString("MUTED_ROLE_ID", cfg.Moderation.MutedRoleID)
	cfg.Moderation.NotifyTargets = envBool("NOTIFY_TARGETS", cfg.Moderation.NotifyTargets)
	cfg.Moderation.ConfirmTimeoutSeconds = envInt("CONFIRM_TIMEOUT_SECONDS", cfg.Moderation.ConfirmTimeoutSeconds)
	cfg.Moderation.ExpirySlackMillis = envInt("EXPIRY_SLACK_MILLIS", cfg.Moderation.ExpirySlackMillis)
	cfg.Schedule.ExpirySweep = envString("EXPIRY_SWEEP_SCHEDULE", cfg.Schedule.ExpirySweep)
	cfg.Schedule.AuditCleanup = envString("AUDIT_CLEANUP_SCHEDULE", cfg.Schedule.AuditCleanup)
	cfg.RateLimit.PerSecond = envFloat("RATE_LIMIT_PER_SECOND", cfg.RateLimit.PerSecond)
	cfg.RateLimit.Burst = envInt("RATE_LIMIT_BURST", cfg.RateLimit.Burst)
	cfg.Notifications.LogChannelID = envString("LOG_CHANNEL_ID", cfg.Notifications.LogChannelID)
	cfg.Notifications.AuditToChannel = envBool("AUDIT_TO_CHANNEL", cfg.Notifications.AuditToChannel)
}

// BuildLogger returns a JSON production logger, teed into a rotated file when
// one is configured.
func BuildLogger(cfg LogConfig) (*zap.Logger, error) {
	zcfg := zap.NewProductionConfig()
	zcfg.Encoding = "json"
	zcfg.EncoderConfig.TimeKey = "time"
	zcfg.EncoderConfig.MessageKey = "message"
	zcfg.EncoderConfig.LevelKey = "level"
	zcfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zcfg.Level = zap.NewAtomicLevelAt(parseLevel(strings.ToLower(cfg.Level)))

	if cfg.File == "" {
		return zcfg.Build()
	}

	encoder := zapcore.NewJSONEncoder(zcfg.EncoderConfig)
	rotator := &lumberjack.Logger{
		Filename:   cfg.File,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   true,
	}
	core := zapcore.NewTee(
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), zcfg.Level),
		zapcore.NewCore(encoder, zapcore.AddSync(rotator), zcfg.Level),
	)
	return zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel)), nil
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

func envFloat(key string, fallback float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
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
