package store

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseConnConfigDefaults(t *testing.T) {
	cfg, err := ParseConnConfig("postgresql://agent:pw@ep-cool-darkness.us-east-2.aws.neon.tech/?channel_binding=require", 0, "")
	require.NoError(t, err)
	require.Equal(t, "ep-cool-darkness.us-east-2.aws.neon.tech", cfg.Host)
	require.Equal(t, 5432, cfg.Port)
	require.Equal(t, "neondb", cfg.Database)
	require.Equal(t, "require", cfg.SSLMode)
	require.Equal(t, DefaultPoolSize, cfg.PoolSize)
	require.True(t, cfg.ChannelBinding)
	require.Equal(t, 30*time.Second, cfg.ConnectTimeout)
}

func TestParseConnConfigExplicitValues(t *testing.T) {
	cfg, err := ParseConnConfig("postgres://agent:pw@db.local:6543/reports?sslmode=disable", 25, "")
	require.NoError(t, err)
	require.Equal(t, 6543, cfg.Port)
	require.Equal(t, "reports", cfg.Database)
	require.Equal(t, "disable", cfg.SSLMode)
	require.Equal(t, 25, cfg.PoolSize)
	require.False(t, cfg.ChannelBinding)

	cfg, err = ParseConnConfig("postgres://agent:pw@db.local/reports?sslmode=disable", 1, "verify-full")
	require.NoError(t, err)
	require.Equal(t, "verify-full", cfg.SSLMode)
}

func TestParseConnConfigErrors(t *testing.T) {
	cases := []struct {
		name  string
		url   string
		pool  int
		ssl   string
		field string
	}{
		{"empty", "", 0, "", "url"},
		{"scheme", "mysql://a:b@h/db", 0, "", "url"},
		{"host", "postgresql://a:b@/db", 0, "", "url"},
		{"user", "postgresql://h/db", 0, "", "url"},
		{"password", "postgresql://a@h/db", 0, "", "url"},
		{"port", "postgresql://a:b@h:99999/db", 0, "", "url"},
		{"pool too big", "postgresql://a:b@h/db", 51, "", "pool_size"},
		{"pool negative", "postgresql://a:b@h/db", -1, "", "pool_size"},
		{"sslmode", "postgresql://a:b@h/db", 0, "sometimes", "ssl_mode"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := ParseConnConfig(tc.url, tc.pool, tc.ssl)
			var ce *ConfigurationError
			require.True(t, errors.As(err, &ce), "got %v", err)
			require.Equal(t, tc.field, ce.Field)
		})
	}
}

func TestConnConfigDSN(t *testing.T) {
	cfg := ConnConfig{Host: "h", Port: 5432, User: "agent", Password: "p w'x", Database: "neondb", SSLMode: "require"}
	require.Equal(t, `host=h port=5432 user=agent password='p w\'x' dbname=neondb sslmode=require connect_timeout=30`, cfg.DSN())
	require.NotContains(t, cfg.Redacted(), "p w")
}
