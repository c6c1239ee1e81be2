package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const envPrefix = "VILLAOPS"

// Config holds runtime settings for the villaops binaries.
type Config struct {
	HTTPAddr        string        `mapstructure:"http_addr"`
	GRPCAddr        string        `mapstructure:"grpc_addr"`
	PublicURL       string        `mapstructure:"public_url"`
	PGDSN           string        `mapstructure:"pg_dsn"`
	RedisAddr       string        `mapstructure:"redis_addr"`
	RedisPassword   string        `mapstructure:"redis_password"`
	RedisDB         int           `mapstructure:"redis_db"`
	AuthSecret      string        `mapstructure:"auth_secret"`
	AccessTTL       time.Duration `mapstructure:"access_ttl"`
	RefreshTTL      time.Duration `mapstructure:"refresh_ttl"`
	ResetTTL        time.Duration `mapstructure:"reset_ttl"`
	ResetURL        string        `mapstructure:"reset_url"`
	AllowSignup     bool          `mapstructure:"allow_signup"`
	SignupRole      string        `mapstructure:"signup_role"`
	MaxLoginFails   int64         `mapstructure:"max_login_failures"`
	LockoutWindow   time.Duration `mapstructure:"lockout_window"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
	AuthRateRPS     float64       `mapstructure:"auth_rate_rps"`
	AuthRateBurst   int           `mapstructure:"auth_rate_burst"`
	EscalationCron  string        `mapstructure:"escalation_cron"`
	SMTPHost        string        `mapstructure:"smtp_host"`
	SMTPPort        int           `mapstructure:"smtp_port"`
	SMTPUsername    string        `mapstructure:"smtp_username"`
	SMTPPassword    string        `mapstructure:"smtp_password"`
	MailFrom        string        `mapstructure:"mail_from"`
	MailFromName    string        `mapstructure:"mail_from_name"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http_addr", ":8080")
	v.SetDefault("grpc_addr", ":9090")
	v.SetDefault("public_url", "http://localhost:8080")
	v.SetDefault("pg_dsn", "")
	v.SetDefault("redis_addr", "")
	v.SetDefault("redis_password", "")
	v.SetDefault("redis_db", 0)
	v.SetDefault("auth_secret", "")
	v.SetDefault("access_ttl", 15*time.Minute)
	v.SetDefault("refresh_ttl", 30*24*time.Hour)
	v.SetDefault("reset_ttl", 30*time.Minute)
	v.SetDefault("reset_url", "")
	v.SetDefault("allow_signup", false)
	v.SetDefault("signup_role", "external_partner")
	v.SetDefault("max_login_failures", 5)
	v.SetDefault("lockout_window", 15*time.Minute)
	v.SetDefault("cors_origins", []string{"*"})
	v.SetDefault("auth_rate_rps", 5.0)
	v.SetDefault("auth_rate_burst", 10)
	v.SetDefault("escalation_cron", "@every 15m")
	v.SetDefault("smtp_host", "")
	v.SetDefault("smtp_port", 587)
	v.SetDefault("smtp_username", "")
	v.SetDefault("smtp_password", "")
	v.SetDefault("mail_from", "")
	v.SetDefault("mail_from_name", "villaops")
	v.SetDefault("shutdown_timeout", 10*time.Second)
}

// Load reads defaults, then the optional file named by VILLAOPS_CONFIG,
// then VILLAOPS_* environment variables.
func Load() (Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path := strings.TrimSpace(v.GetString("config")); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	cfg.CORSOrigins = splitList(strings.Join(cfg.CORSOrigins, ","))
	return cfg, cfg.Validate()
}

// Validate checks values that have no safe default.
func (c Config) Validate() error {
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 {
		return errors.New("config: token ttls must be positive")
	}
	if c.AuthSecret != "" && len(c.AuthSecret) < 16 {
		return errors.New("config: auth_secret must be at least 16 bytes")
	}
	if c.SMTPHost != "" && c.MailFrom == "" {
		return errors.New("config: mail_from is required when smtp_host is set")
	}
	return nil
}

func splitList(raw string) []string {
	var out []string
	for _, p := range strings.Split(raw, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
