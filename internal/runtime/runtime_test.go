package runtime

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/mohammad-safakhou/tradingagents/config"
	"github.com/mohammad-safakhou/tradingagents/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap/zapcore"
)

func TestConnConfig(t *testing.T) {
	cfg := &config.Config{Storage: config.StorageConfig{Postgres: config.PostgresConfig{
		URL:            "postgresql://u:p@ep-1.neon.tech/neondb",
		PoolSize:       7,
		SSLMode:        "require",
		ChannelBinding: true,
	}}}
	cc, err := ConnConfig(cfg)
	if err != nil {
		t.Fatalf("ConnConfig: %v", err)
	}
	if cc.Host != "ep-1.neon.tech" || cc.PoolSize != 7 || !cc.ChannelBinding {
		t.Fatalf("unexpected conn config %+v", cc)
	}

	cfg.Storage.Postgres.URL = "mysql://u:p@h/db"
	_, err = ConnConfig(cfg)
	var ce *store.ConfigurationError
	if !errors.As(err, &ce) || ce.Field != "url" {
		t.Fatalf("expected url configuration error, got %v", err)
	}
	if _, err := ConnConfig(nil); err == nil {
		t.Fatal("expected error for nil config")
	}
}

func TestNewLogger(t *testing.T) {
	l, err := NewLogger(config.GeneralConfig{LogLevel: "warn"})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if l.Core().Enabled(zapcore.InfoLevel) || !l.Core().Enabled(zapcore.WarnLevel) {
		t.Fatal("expected warn level")
	}

	l, err = NewLogger(config.GeneralConfig{LogLevel: "bogus", Debug: true})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if !l.Core().Enabled(zapcore.DebugLevel) {
		t.Fatal("debug mode should enable debug level")
	}
}

func TestSetupTelemetryDisabled(t *testing.T) {
	tel, err := SetupTelemetry(t.Context(), config.TelemetryConfig{}, TelemetryOptions{})
	if err != nil {
		t.Fatalf("SetupTelemetry: %v", err)
	}
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "tradingagents_test_total", Help: "test"})
	tel.Registry().MustRegister(c)
	c.Inc()

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if body := rec.Body.String(); !strings.Contains(body, "tradingagents_test_total 1") {
		t.Fatalf("metric missing from exposition:\n%s", body)
	}
	if err := tel.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}

func TestSetupTelemetryPrometheusOnly(t *testing.T) {
	tel, err := SetupTelemetry(t.Context(), config.TelemetryConfig{Enabled: true, ServiceName: "reports-test"}, TelemetryOptions{ServiceVersion: "test"})
	if err != nil {
		t.Fatalf("SetupTelemetry: %v", err)
	}
	if err := tel.Shutdown(t.Context()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
}
