// Package config loads server configuration from an optional YAML file and
// BLOG_* environment variables.
//
// Precedence, highest first:
//
//	BLOG_AUTH_SECRET=...        environment (dots in keys become underscores)
//	auth.secret: ...            config file
//	SetDefault("auth.secret")   built-in default
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/sakif/social-blog/internal/service"
)

// Config is the full server configuration.
type Config struct {
	HTTP      HTTPConfig
	DB        DBConfig
	Auth      AuthConfig
	App       AppConfig
	Log       LogConfig
	Redis     RedisConfig
	RateLimit RateLimitConfig
	SMTP      SMTPConfig
	GitHub    GitHubConfig
}

type HTTPConfig struct {
	Port int
}

type DBConfig struct {
	Path string
}

type AuthConfig struct {
	Secret     string
	SessionTTL time.Duration
	// TokenTTL is the lifetime of confirm, reset and change-email tokens.
	TokenTTL   time.Duration
	BcryptCost int
}

type AppConfig struct {
	AdminEmail        string
	PostsPerPage      int
	FollowersPerPage  int
	MailSubjectPrefix string
	BaseURL           string
}

type LogConfig struct {
	Level string
}

// SlogLevel parses Level ("debug", "info", "warn", "error"). Anything
// unrecognised means info.
func (l LogConfig) SlogLevel() slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(l.Level)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// RedisConfig is optional. An empty Addr disables the rate limiter and the
// single-use token ledger.
type RedisConfig struct {
	Addr     string
	Password string
}

type RateLimitConfig struct {
	Rate  float64 // tokens per second
	Burst float64
}

// SMTPConfig is optional. An empty Host makes the mailer log messages
// instead of sending them.
type SMTPConfig struct {
	Host string
	Port int
	User string
	Pass string
	From string
}

type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	CallbackURL  string
}

// Enabled reports whether GitHub sign-in routes should be mounted.
func (g GitHubConfig) Enabled() bool {
	return g.ClientID != "" && g.ClientSecret != ""
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", 8080)
	v.SetDefault("db.path", "data/blog.db")
	v.SetDefault("auth.secret", "")
	v.SetDefault("auth.session_ttl", 24*time.Hour)
	v.SetDefault("auth.token_ttl", time.Hour)
	v.SetDefault("auth.bcrypt_cost", 12)
	v.SetDefault("app.admin_email", "")
	v.SetDefault("app.posts_per_page", 20)
	v.SetDefault("app.followers_per_page", 50)
	v.SetDefault("app.mail_subject_prefix", "[Blog]")
	v.SetDefault("app.base_url", "http://localhost:8080")
	v.SetDefault("log.level", "info")
	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("ratelimit.rate", 0.2)
	v.SetDefault("ratelimit.burst", 5)
	v.SetDefault("smtp.host", "")
	v.SetDefault("smtp.port", 587)
	v.SetDefault("smtp.user", "")
	v.SetDefault("smtp.pass", "")
	v.SetDefault("smtp.from", "")
	v.SetDefault("github.client_id", "")
	v.SetDefault("github.client_secret", "")
	v.SetDefault("github.callback_url", "")
}

// Load reads path (if non-empty) and the environment. A missing file at
// an explicit path is an error; Load("") uses defaults and environment only.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("BLOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg := &Config{
		HTTP: HTTPConfig{Port: v.GetInt("http.port")},
		DB:   DBConfig{Path: v.GetString("db.path")},
		Auth: AuthConfig{
			Secret:     v.GetString("auth.secret"),
			SessionTTL: v.GetDuration("auth.session_ttl"),
			TokenTTL:   v.GetDuration("auth.token_ttl"),
			BcryptCost: v.GetInt("auth.bcrypt_cost"),
		},
		App: AppConfig{
			AdminEmail:        v.GetString("app.admin_email"),
			PostsPerPage:      v.GetInt("app.posts_per_page"),
			FollowersPerPage:  v.GetInt("app.followers_per_page"),
			MailSubjectPrefix: v.GetString("app.mail_subject_prefix"),
			BaseURL:           strings.TrimRight(v.GetString("app.base_url"), "/"),
		},
		Log: LogConfig{Level: v.GetString("log.level")},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
		},
		RateLimit: RateLimitConfig{
			Rate:  v.GetFloat64("ratelimit.rate"),
			Burst: v.GetFloat64("ratelimit.burst"),
		},
		SMTP: SMTPConfig{
			Host: v.GetString("smtp.host"),
			Port: v.GetInt("smtp.port"),
			User: v.GetString("smtp.user"),
			Pass: v.GetString("smtp.pass"),
			From: v.GetString("smtp.from"),
		},
		GitHub: GitHubConfig{
			ClientID:     v.GetString("github.client_id"),
			ClientSecret: v.GetString("github.client_secret"),
			CallbackURL:  v.GetString("github.callback_url"),
		},
	}
	if cfg.GitHub.CallbackURL == "" {
		cfg.GitHub.CallbackURL = cfg.App.BaseURL + "/auth/github/callback"
	}
	return cfg, nil
}

// Validate reports the first setting the server cannot start with.
func (c *Config) Validate() error {
	if len(c.Auth.Secret) < 16 {
		return errors.New("config: auth.secret must be at least 16 characters (set BLOG_AUTH_SECRET)")
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		return fmt.Errorf("config: http.port %d out of range", c.HTTP.Port)
	}
	if c.App.PostsPerPage <= 0 || c.App.PostsPerPage > service.MaxPerPage {
		return fmt.Errorf("config: app.posts_per_page must be between 1 and %d", service.MaxPerPage)
	}
	if c.App.FollowersPerPage <= 0 || c.App.FollowersPerPage > service.MaxPerPage {
		return fmt.Errorf("config: app.followers_per_page must be between 1 and %d", service.MaxPerPage)
	}
	if c.Auth.SessionTTL <= 0 || c.Auth.TokenTTL <= 0 {
		return errors.New("config: auth.session_ttl and auth.token_ttl must be positive")
	}
	if c.RateLimit.Rate <= 0 || c.RateLimit.Burst < 1 {
		return errors.New("config: ratelimit.rate must be positive and ratelimit.burst at least 1")
	}
	return nil
}
