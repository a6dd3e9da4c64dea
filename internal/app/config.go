package app

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

// Config represents the runtime configuration for the OTPDeck backend.
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Vault      VaultConfig      `mapstructure:"vault"`
	Backup     BackupConfig     `mapstructure:"backup"`
	Auth       AuthConfig       `mapstructure:"auth"`
	Stream     StreamConfig     `mapstructure:"stream"`
	Monitoring MonitoringConfig `mapstructure:"monitoring"`
	I18n       I18nConfig       `mapstructure:"i18n"`
}

// ServerConfig configures the HTTP server. OTPDeck is a personal vault, so
// the listener binds loopback unless configured otherwise.
type ServerConfig struct {
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	LogLevel  string `mapstructure:"log_level"`
	LogFormat string `mapstructure:"log_format"`
}

// Address returns the host:port pair the server listens on.
func (s ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// DatabaseConfig selects the storage backend. sqlite is the default and the
// expected choice; postgres and mysql exist for shared or managed setups.
type DatabaseConfig struct {
	Driver   string       `mapstructure:"driver"`
	Path     string       `mapstructure:"path"`
	DSN      string       `mapstructure:"dsn"`
	Postgres DBAuthConfig `mapstructure:"postgres"`
	MySQL    DBAuthConfig `mapstructure:"mysql"`
}

// DBAuthConfig holds connection credentials for the hosted drivers.
type DBAuthConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Database string `mapstructure:"database"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// VaultConfig carries the master key material for entry encryption.
type VaultConfig struct {
	EncryptionKey string `mapstructure:"encryption_key"`
	Algorithm     string `mapstructure:"algorithm"`
	DefaultIssuer string `mapstructure:"default_issuer"`
}

// BackupConfig controls automatic vault snapshots and the audit retention
// job that runs on the same scheduler.
type BackupConfig struct {
	Enabled            bool   `mapstructure:"enabled"`
	Directory          string `mapstructure:"directory"`
	Schedule           string `mapstructure:"schedule"`
	Keep               int    `mapstructure:"keep"`
	AuditRetentionDays int    `mapstructure:"audit_retention_days"`
}

// AuthConfig captures the optional passphrase lock.
type AuthConfig struct {
	Passphrase PassphraseSettings `mapstructure:"passphrase"`
	JWT        JWTSettings        `mapstructure:"jwt"`
	Lockout    LockoutSettings    `mapstructure:"lockout"`
}

// PassphraseSettings holds the bcrypt hash of the unlock passphrase. The
// vault is unlocked for everyone on the host when no hash is configured.
type PassphraseSettings struct {
	Hash string `mapstructure:"hash"`
}

// Required reports whether unlocking is enforced.
func (p PassphraseSettings) Required() bool {
	return strings.TrimSpace(p.Hash) != ""
}

// JWTSettings configures unlock tokens. TTL doubles as the auto-lock
// timeout: once the token expires the vault is locked again.
type JWTSettings struct {
	Secret string        `mapstructure:"secret"`
	Issuer string        `mapstructure:"issuer"`
	TTL    time.Duration `mapstructure:"ttl"`
}

// LockoutSettings throttles repeated unlock failures.
type LockoutSettings struct {
	Threshold int           `mapstructure:"threshold"`
	Duration  time.Duration `mapstructure:"duration"`
}

// StreamConfig controls the WebSocket countdown stream.
type StreamConfig struct {
	Enabled  bool          `mapstructure:"enabled"`
	Interval time.Duration `mapstructure:"interval"`
}

// MonitoringConfig enables health checks and metrics.
type MonitoringConfig struct {
	Prometheus PrometheusConfig `mapstructure:"prometheus"`
	Health     HealthConfig     `mapstructure:"health_check"`
}

// PrometheusConfig toggles metrics endpoints.
type PrometheusConfig struct {
	Enabled  bool   `mapstructure:"enabled"`
	Endpoint string `mapstructure:"endpoint"`
}

// HealthConfig toggles health endpoints.
type HealthConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// I18nConfig selects the default interface language.
type I18nConfig struct {
	DefaultLanguage string `mapstructure:"default_language"`
}

// LoadConfig reads config.yaml from the given search paths, falling back to
// ./config, then layers OTPDECK_* environment variables on top. A missing
// file is not an error; the defaults describe a working local install.
func LoadConfig(paths ...string) (*Config, error) {
	v := viper.NewWithOptions(viper.ExperimentalBindStruct())
	v.SetConfigName("config")
	v.SetConfigType("yaml")

	// Explicit paths win over the local fallback directory.
	for _, path := range paths {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("./config")

	setDefaults(v)

	v.SetEnvPrefix("OTPDECK")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("config: read %s: %w", v.ConfigFileUsed(), err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, decodeHook()); err != nil {
		return nil, fmt.Errorf("config: decode: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", 8420)
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_format", "json")

	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", "./data/otpdeck.sqlite")

	v.SetDefault("vault.algorithm", "aes-256-gcm")
	v.SetDefault("vault.default_issuer", "OTPDeck")

	v.SetDefault("backup.enabled", true)
	v.SetDefault("backup.directory", "./data/snapshots")
	v.SetDefault("backup.schedule", "@hourly")
	v.SetDefault("backup.keep", 10)
	v.SetDefault("backup.audit_retention_days", 90)

	v.SetDefault("auth.jwt.issuer", "otpdeck")
	v.SetDefault("auth.jwt.ttl", "5m")
	v.SetDefault("auth.lockout.threshold", 5)
	v.SetDefault("auth.lockout.duration", "15m")

	v.SetDefault("stream.enabled", true)
	v.SetDefault("stream.interval", "1s")

	v.SetDefault("monitoring.prometheus.enabled", true)
	v.SetDefault("monitoring.prometheus.endpoint", "/metrics")
	v.SetDefault("monitoring.health_check.enabled", true)

	v.SetDefault("i18n.default_language", "zh-TW")
}

func decodeHook() viper.DecoderConfigOption {
	return viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	))
}
