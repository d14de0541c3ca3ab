package server

import (
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/tradingagents/internal/reports"
	"github.com/mohammad-safakhou/tradingagents/internal/store"
)

const (
	defaultSessionsLimit = 10
	maxSessionsLimit     = 100
)

var (
	tickerParam = regexp.MustCompile(`^[A-Z0-9]{1,10}$`)
	dateParam   = regexp.MustCompile(`^\d{4}-\d{2}-\d{2}$`)
)

// ReportsHandler serves the read-only report endpoints. A nil Reader means
// the database is not configured and every call answers 503.
type ReportsHandler struct {
	Reader *store.ReportReader
	Now    func() time.Time
}

func (h *ReportsHandler) Register(g *echo.Group) {
	g.GET("/database/health", h.health)
	g.GET("/sessions/:ticker", h.sessions)
	g.GET("/sessions/:ticker/:date", h.status)
	g.GET("/reports/:ticker/:date", h.sessionReports)
	g.GET("/reports/:ticker/:date/:agent", h.agentReport)
	g.GET("/final-analysis/:ticker/:date", h.finalAnalysis)
}

func (h *ReportsHandler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

func (h *ReportsHandler) health(c echo.Context) error {
	if h.Reader == nil {
		return c.JSON(http.StatusServiceUnavailable, store.ServiceHealth{
			Service: "ReportRetrievalService",
			Error:   store.ErrNotConfigured.Error(),
		})
	}
	res := h.Reader.HealthCheck(c.Request().Context())
	code := http.StatusOK
	if !res.Healthy {
		code = http.StatusServiceUnavailable
	}
	return c.JSON(code, res)
}

func (h *ReportsHandler) sessions(c echo.Context) error {
	ticker, err := tickerFrom(c)
	if err != nil {
		return h.respond(c, store.ErrorEnvelope(err, nil, h.now()))
	}
	limit := defaultSessionsLimit
	if raw := c.QueryParam("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSessionsLimit {
			return h.respond(c, store.ErrorEnvelope(&reports.ValidationError{
				Field:  "limit",
				Reason: "limit must be an integer between 1 and 100",
			}, nil, h.now()))
		}
		limit = n
	}
	if h.Reader == nil {
		return h.unavailable(c)
	}
	return h.respond(c, h.Reader.GetSessionsByTickerSafe(c.Request().Context(), ticker, limit))
}

func (h *ReportsHandler) status(c echo.Context) error {
	return h.withSession(c, func(id string) store.Envelope {
		return h.Reader.GetReportStatusSafe(c.Request().Context(), id)
	})
}

func (h *ReportsHandler) sessionReports(c echo.Context) error {
	return h.withSession(c, func(id string) store.Envelope {
		return h.Reader.GetSessionReportsSafe(c.Request().Context(), id)
	})
}

func (h *ReportsHandler) finalAnalysis(c echo.Context) error {
	return h.withSession(c, func(id string) store.Envelope {
		return h.Reader.GetFinalAnalysisSafe(c.Request().Context(), id)
	})
}

func (h *ReportsHandler) agentReport(c echo.Context) error {
	agent, err := reports.AgentTypeFromKey(c.Param("agent"))
	if err != nil {
		return h.respond(c, store.ErrorEnvelope(err, map[string]interface{}{"agent": c.Param("agent")}, h.now()))
	}
	return h.withSession(c, func(id string) store.Envelope {
		return h.Reader.GetAgentReportSafe(c.Request().Context(), id, agent.String())
	})
}

// withSession validates the ticker and date parameters, resolves the most
// recent session for them and hands its identifier to fn.
func (h *ReportsHandler) withSession(c echo.Context, fn func(sessionID string) store.Envelope) error {
	ticker, err := tickerFrom(c)
	if err != nil {
		return h.respond(c, store.ErrorEnvelope(err, nil, h.now()))
	}
	date := c.Param("date")
	if !dateParam.MatchString(date) {
		return h.respond(c, store.ErrorEnvelope(&reports.ValidationError{
			Field:  "date",
			Reason: "date must be in YYYY-MM-DD format",
		}, map[string]interface{}{"date": date}, h.now()))
	}
	if _, err := time.Parse("2006-01-02", date); err != nil {
		return h.respond(c, store.ErrorEnvelope(&reports.ValidationError{Field: "date", Reason: err.Error()}, nil, h.now()))
	}
	if h.Reader == nil {
		return h.unavailable(c)
	}
	id, found, err := h.Reader.ResolveSession(c.Request().Context(), ticker, date)
	if err != nil {
		return h.respond(c, store.ErrorEnvelope(err, map[string]interface{}{"ticker": ticker, "date": date}, h.now()))
	}
	if !found {
		return h.respond(c, store.NotFoundEnvelope("session", ticker+" on "+date, map[string]interface{}{
			"ticker": ticker,
			"date":   date,
		}, h.now()))
	}
	return h.respond(c, fn(id))
}

func tickerFrom(c echo.Context) (string, error) {
	ticker := strings.ToUpper(strings.TrimSpace(c.Param("ticker")))
	if !tickerParam.MatchString(ticker) {
		return "", &reports.ValidationError{Field: "ticker", Reason: "ticker must be 1-10 letters or digits"}
	}
	return ticker, nil
}

func (h *ReportsHandler) unavailable(c echo.Context) error {
	return h.respond(c, store.ErrorEnvelope(store.ErrNotConfigured, nil, h.now()))
}

func (h *ReportsHandler) respond(c echo.Context, env store.Envelope) error {
	return c.JSON(StatusFor(env), env)
}

// StatusFor maps an envelope to its HTTP status code.
func StatusFor(env store.Envelope) int {
	if env.Success {
		return http.StatusOK
	}
	code := env.Code()
	switch {
	case code == store.CodeValidationError:
		return http.StatusBadRequest
	case strings.HasSuffix(code, "_NOT_FOUND"):
		return http.StatusNotFound
	case code == store.CodeConnectionError, code == store.CodeRetryExhausted:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
