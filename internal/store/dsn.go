package store

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultPoolSize       = 10
	MaxPoolSize           = 50
	DefaultSSLMode        = "require"
	DefaultDatabase       = "neondb"
	DefaultConnectTimeout = 30 * time.Second
)

var sslModes = map[string]bool{
	"disable": true, "allow": true, "prefer": true,
	"require": true, "verify-ca": true, "verify-full": true,
}

// ConnConfig holds validated Postgres connection settings.
type ConnConfig struct {
	Host           string
	Port           int
	User           string
	Password       string
	Database       string
	SSLMode        string
	ChannelBinding bool
	PoolSize       int
	ConnectTimeout time.Duration
}

// ParseConnConfig validates a postgresql:// URL and pool settings. A zero
// poolSize selects DefaultPoolSize and an empty sslMode selects the URL's
// sslmode parameter, falling back to DefaultSSLMode.
func ParseConnConfig(rawURL string, poolSize int, sslMode string) (ConnConfig, error) {
	if strings.TrimSpace(rawURL) == "" {
		return ConnConfig{}, &ConfigurationError{Field: "url", Reason: "database URL is required"}
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ConnConfig{}, &ConfigurationError{Field: "url", Reason: err.Error()}
	}
	if u.Scheme != "postgresql" && u.Scheme != "postgres" {
		return ConnConfig{}, &ConfigurationError{Field: "url", Reason: "connection string must use postgresql:// scheme"}
	}
	if u.Hostname() == "" {
		return ConnConfig{}, &ConfigurationError{Field: "url", Reason: "host is required"}
	}
	if u.User == nil || u.User.Username() == "" {
		return ConnConfig{}, &ConfigurationError{Field: "url", Reason: "user is required"}
	}
	password, ok := u.User.Password()
	if !ok || password == "" {
		return ConnConfig{}, &ConfigurationError{Field: "url", Reason: "password is required"}
	}

	cfg := ConnConfig{
		Host:           u.Hostname(),
		Port:           5432,
		User:           u.User.Username(),
		Password:       password,
		Database:       strings.TrimPrefix(u.Path, "/"),
		PoolSize:       poolSize,
		ConnectTimeout: DefaultConnectTimeout,
	}
	if p := u.Port(); p != "" {
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 || n > 65535 {
			return ConnConfig{}, &ConfigurationError{Field: "url", Reason: fmt.Sprintf("invalid port %q", p)}
		}
		cfg.Port = n
	}
	if cfg.Database == "" {
		cfg.Database = DefaultDatabase
	}

	q := u.Query()
	cfg.ChannelBinding = strings.EqualFold(q.Get("channel_binding"), "require")
	cfg.SSLMode = strings.ToLower(strings.TrimSpace(sslMode))
	if cfg.SSLMode == "" {
		cfg.SSLMode = strings.ToLower(q.Get("sslmode"))
	}
	if cfg.SSLMode == "" {
		cfg.SSLMode = DefaultSSLMode
	}
	if !sslModes[cfg.SSLMode] {
		return ConnConfig{}, &ConfigurationError{Field: "ssl_mode", Reason: fmt.Sprintf("unsupported sslmode %q", cfg.SSLMode)}
	}

	if cfg.PoolSize == 0 {
		cfg.PoolSize = DefaultPoolSize
	}
	if cfg.PoolSize < 1 || cfg.PoolSize > MaxPoolSize {
		return ConnConfig{}, &ConfigurationError{Field: "pool_size", Reason: fmt.Sprintf("must be between 1 and %d, got %d", MaxPoolSize, cfg.PoolSize)}
	}
	return cfg, nil
}

// DSN renders the key/value connection string understood by lib/pq.
// channel_binding is not forwarded since lib/pq would send it to the server as
// a runtime parameter.
func (c ConnConfig) DSN() string {
	timeout := c.ConnectTimeout
	if timeout <= 0 {
		timeout = DefaultConnectTimeout
	}
	parts := []string{
		"host=" + quoteDSN(c.Host),
		"port=" + strconv.Itoa(c.Port),
		"user=" + quoteDSN(c.User),
		"password=" + quoteDSN(c.Password),
		"dbname=" + quoteDSN(c.Database),
		"sslmode=" + c.SSLMode,
		"connect_timeout=" + strconv.Itoa(int(timeout.Seconds())),
	}
	return strings.Join(parts, " ")
}

// Redacted renders the connection target without credentials, for logs.
func (c ConnConfig) Redacted() string {
	return fmt.Sprintf("postgresql://%s@%s:%d/%s?sslmode=%s", c.User, c.Host, c.Port, c.Database, c.SSLMode)
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}
