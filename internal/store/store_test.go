package store

import (
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"
)

const testSessionID = "AAPL_2024-05-01_1714521600"

func testConnConfig() ConnConfig {
	return ConnConfig{Host: "localhost", Port: 5432, User: "agent", Password: "secret", Database: "neondb", SSLMode: "disable", PoolSize: 4}
}

// fastRetrier keeps retry tests instant.
func fastRetrier() Retrier {
	return Retrier{MaxRetries: DefaultMaxRetries, BaseDelay: time.Microsecond, MaxDelay: time.Microsecond, Jitter: func() time.Duration { return 0 }}
}

func fixedNow() time.Time { return time.Unix(1714521600, 0) }

// newMockStore wires a Store whose pool is backed by sqlmock.
func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	s := New(testConnConfig(),
		WithOpener(func(string, string) (*sql.DB, error) { return db, nil }),
		WithRetrier(fastRetrier()),
		WithClock(fixedNow),
	)
	return s, mock
}

func TestNewWithURLRejectsBadConfig(t *testing.T) {
	_, err := NewWithURL(t.Context(), "mysql://u:p@host/db", 0, "", nil)
	require.Error(t, err)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
}

func TestStoreCloseWithoutPool(t *testing.T) {
	s := New(testConnConfig())
	require.NoError(t, s.Close())
	var nilStore *Store
	require.NoError(t, nilStore.Close())
}
