// Package server exposes stored analysis sessions over a read-only HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/mohammad-safakhou/tradingagents/config"
	"github.com/mohammad-safakhou/tradingagents/internal/retention"
	"github.com/mohammad-safakhou/tradingagents/internal/runtime"
	"github.com/mohammad-safakhou/tradingagents/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

// Version is reported in telemetry resources; set with -ldflags.
var Version = "dev"

// Deps are the collaborators of the HTTP router. Store and Telemetry may be nil.
type Deps struct {
	Config    *config.Config
	Store     *store.Store
	Telemetry *runtime.Telemetry
	Logger    *zap.Logger
}

// NewRouter builds the echo instance with middleware and routes.
func NewRouter(d Deps) (*echo.Echo, error) {
	if d.Config == nil {
		return nil, errors.New("server: config is required")
	}
	logger := d.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{Generator: uuid.NewString}))
	if t := d.Config.Server.RequestTimeout; t > 0 {
		e.Use(middleware.ContextTimeoutWithConfig(middleware.ContextTimeoutConfig{Timeout: t}))
	}
	e.HTTPErrorHandler = errorHandler(logger)

	origins := d.Config.Server.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: origins,
		AllowMethods: []string{http.MethodGet, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderContentType, echo.HeaderAuthorization},
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	if d.Telemetry != nil {
		if d.Store != nil {
			if col := d.Store.Pool.Collector(); col != nil {
				var are prometheus.AlreadyRegisteredError
				if err := d.Telemetry.Registry().Register(col); err != nil && !errors.As(err, &are) {
					logger.Warn("register pool collector", zap.Error(err))
				}
			}
		}
		e.GET("/metrics", echo.WrapHandler(d.Telemetry.Handler()))
	}

	api := e.Group("/api")
	if d.Config.Server.JWTSecret != "" {
		secret, err := runtime.LoadJWTSecret(d.Config)
		if err != nil {
			return nil, err
		}
		api.Use(runtime.EchoAuthMiddleware(secret), runtime.RequireScopes(runtime.ScopeReportsRead))
	}
	h := &ReportsHandler{}
	if d.Store != nil {
		h.Reader = d.Store.Reader
	}
	h.Register(api)
	return e, nil
}

func errorHandler(logger *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		var he *echo.HTTPError
		if errors.As(err, &he) {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		fields := []zap.Field{
			zap.Int("status", code),
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.String("remote", c.RealIP()),
			zap.String("request_id", c.Response().Header().Get(echo.HeaderXRequestID)),
			zap.Error(err),
		}
		if code >= http.StatusInternalServerError {
			logger.Error("http request failed", fields...)
		} else {
			logger.Debug("http request rejected", fields...)
		}
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"success": false, "error": map[string]string{"message": msg}})
		}
	}
}

// Run starts telemetry, the store, the optional retention sweeper and the
// HTTP listener, and blocks until ctx is cancelled or the listener fails.
// A missing or unreachable database leaves the API up in degraded mode.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	tel, err := runtime.SetupTelemetry(ctx, cfg.Telemetry, runtime.TelemetryOptions{ServiceVersion: Version, Logger: logger})
	if err != nil {
		return err
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := tel.Shutdown(sctx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	var st *store.Store
	if cfg.Storage.Postgres.Configured() {
		cc, err := runtime.ConnConfig(cfg)
		if err != nil {
			return err
		}
		st = store.New(cc, store.WithLogger(logger))
		defer st.Close()
		if _, err := st.Pool.CreatePool(ctx); err != nil {
			logger.Error("database unavailable at startup, continuing degraded", zap.Error(err))
		} else if cfg.Server.AutoMigrate {
			if err := Migrate(ctx, st.Pool, logger); err != nil {
				return err
			}
		}
		if err := startRetention(ctx, cfg, st, logger); err != nil {
			return err
		}
	} else {
		logger.Warn("no database URL configured; report endpoints will answer 503")
	}

	e, err := NewRouter(Deps{Config: cfg, Store: st, Telemetry: tel, Logger: logger})
	if err != nil {
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", zap.String("address", cfg.Server.Address))
		if err := e.Start(cfg.Server.Address); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	logger.Info("shutting down")
	return e.Shutdown(sctx)
}

func startRetention(ctx context.Context, cfg *config.Config, st *store.Store, logger *zap.Logger) error {
	if !cfg.Retention.Enabled {
		return nil
	}
	var locker retention.Locker
	if r := cfg.Storage.Redis; r.Enabled() {
		rdb, err := retention.NewRedisClient(ctx, r.Addr(), r.Password, r.DB, r.Timeout)
		if err != nil {
			return err
		}
		go func() {
			<-ctx.Done()
			_ = rdb.Close()
		}()
		locker = retention.RedisLocker{Client: rdb}
	}
	sw, err := retention.New(cfg.Retention, st.Reports, locker, logger)
	if err != nil {
		return err
	}
	logger.Info("retention sweeper enabled", zap.Int("days", cfg.Retention.Days), zap.String("schedule", cfg.Retention.Schedule), zap.Bool("redis_lock", locker != nil))
	go sw.Start(ctx)
	return nil
}
