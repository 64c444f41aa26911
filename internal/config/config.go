package config

import (
	"fmt"
	"net"
	"net/url"
	"os"
	"time"

	"github.com/goccy/go-yaml"
)

// Config holds the application configuration
type Config struct {
	App       AppConfig       `yaml:"app"`
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Database  DatabaseConfig  `yaml:"database"`
	Redis     RedisConfig     `yaml:"redis"`
	Deploy    DeployConfig    `yaml:"deploy"`
	RateLimit RateLimitConfig `yaml:"ratelimit"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// AppConfig holds app-specific configuration
type AppConfig struct {
	Name string `yaml:"name"`
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Host           string   `yaml:"host"`
	Port           int      `yaml:"port"`
	Domain         string   `yaml:"domain"`
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// AuthConfig holds session and provisioning-token configuration.
// SessionTTL bounds the user cookie lifetime; AdminSessionTTL is the
// absolute lifetime of an admin session pair.
type AuthConfig struct {
	SessionTTL      time.Duration `yaml:"session_ttl"`
	AdminSessionTTL time.Duration `yaml:"admin_session_ttl"`
	TokenTTL        time.Duration `yaml:"token_ttl"`
	CookieDomain    string        `yaml:"cookie_domain"`
	TokenIssuer     string        `yaml:"token_issuer"`
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
}

// RedisConfig holds Redis connection configuration. When Enabled is
// false the broadcast channel falls back to an in-process
// implementation, which is only valid for a single instance.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// DeployConfig holds the external job-execution endpoints.
// TunnelURLTemplate receives the account id and job slot, in that
// order, e.g. "https://%s-job%d.tunnel.example.net/shutdown".
type DeployConfig struct {
	RunnerBaseURL     string        `yaml:"runner_base_url"`
	RunnerToken       string        `yaml:"runner_token"`
	TunnelURLTemplate string        `yaml:"tunnel_url_template"`
	CallTimeout       time.Duration `yaml:"call_timeout"`
}

// RateLimitConfig holds the login-gate and per-IP throttle settings.
// Store selects the attempt-counter backing: "memory" (single
// instance only), "postgres" or "redis" (shared across instances).
type RateLimitConfig struct {
	Store          string        `yaml:"store"`
	Window         time.Duration `yaml:"window"`
	MaxAttempts    int           `yaml:"max_attempts"`
	LogoutCooldown time.Duration `yaml:"logout_cooldown"`
	IPRate         float64       `yaml:"ip_rate"`
	IPBurst        int           `yaml:"ip_burst"`
}

// MetricsConfig holds the Prometheus side-listener settings
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// LoggingConfig holds logging-specific configuration
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Load reads configuration from a YAML file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.applyDefaults()

	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Auth.SessionTTL == 0 {
		c.Auth.SessionTTL = 30 * 24 * time.Hour
	}
	if c.Auth.AdminSessionTTL == 0 {
		c.Auth.AdminSessionTTL = 30 * time.Minute
	}
	if c.Auth.TokenTTL == 0 {
		c.Auth.TokenTTL = 90 * 24 * time.Hour
	}
	if c.Deploy.CallTimeout == 0 {
		c.Deploy.CallTimeout = 10 * time.Second
	}
	if c.RateLimit.Store == "" {
		c.RateLimit.Store = "memory"
	}
	if c.RateLimit.Window == 0 {
		c.RateLimit.Window = time.Minute
	}
	if c.RateLimit.MaxAttempts == 0 {
		c.RateLimit.MaxAttempts = 3
	}
	if c.RateLimit.LogoutCooldown == 0 {
		c.RateLimit.LogoutCooldown = 30 * time.Second
	}
	if c.RateLimit.IPRate == 0 {
		c.RateLimit.IPRate = 2
	}
	if c.RateLimit.IPBurst == 0 {
		c.RateLimit.IPBurst = 10
	}
	if c.Metrics.Port == 0 {
		c.Metrics.Port = 9091
	}
}

// Address returns the server address in the format "host:port"
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// Address returns the Redis address in the format "host:port"
func (r *RedisConfig) Address() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// quoteDSNValue quotes a DSN value if it contains spaces or special characters.
// Single quotes inside the value are escaped by doubling them.
func quoteDSNValue(value string) string {
	needsQuoting := false
	for _, r := range value {
		if r == ' ' || r == '\'' || r == '\\' || r == '=' {
			needsQuoting = true
			break
		}
		if !((r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') ||
			r == '.' || r == '-' || r == '_' || r == '/' || r == '@' || r == ':') {
			needsQuoting = true
			break
		}
	}

	if !needsQuoting {
		return value
	}

	escaped := ""
	for _, r := range value {
		if r == '\'' {
			escaped += "''"
		} else {
			escaped += string(r)
		}
	}

	return "'" + escaped + "'"
}

// DSN returns the database connection string
func (d *DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		quoteDSNValue(d.Host),
		d.Port,
		quoteDSNValue(d.User),
		quoteDSNValue(d.Password),
		quoteDSNValue(d.DBName),
		quoteDSNValue(d.SSLMode),
	)
}

// URL returns the database connection URL in postgres:// format for golang-migrate
func (d *DatabaseConfig) URL() string {
	userInfo := url.UserPassword(d.User, d.Password)
	host := net.JoinHostPort(d.Host, fmt.Sprintf("%d", d.Port))

	u := &url.URL{
		Scheme:   "postgres",
		User:     userInfo,
		Host:     host,
		Path:     "/" + d.DBName,
		RawQuery: fmt.Sprintf("sslmode=%s&search_path=public", url.QueryEscape(d.SSLMode)),
	}

	return u.String()
}
