package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/mohammad-safakhou/tradingagents/internal/reports"
	"github.com/mohammad-safakhou/tradingagents/internal/sessionid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

const (
	DefaultSessionLimit = 50
	resolveScanLimit    = 100
)

// Pool is a Connector that can also probe its own health.
type Pool interface {
	Connector
	HealthCheck(ctx context.Context) Health
}

// ReportReader is the read path used by the dashboard API.
type ReportReader struct {
	pool   Pool
	logger *zap.Logger
	now    func() time.Time
}

// NewReportReader builds a ReportReader on top of pool.
func NewReportReader(pool Pool, opts ...Option) *ReportReader {
	o := buildOptions(opts)
	return &ReportReader{pool: pool, logger: o.logger, now: o.now}
}

// AgentReport is a single stored report.
type AgentReport struct {
	SessionID     string `json:"session_id"`
	AgentType     string `json:"agent_type"`
	Content       string `json:"content"`
	ContentLength int    `json:"content_length"`
}

// SessionReports is a session with every stored report keyed by role name.
type SessionReports struct {
	SessionID      string            `json:"session_id"`
	Ticker         string            `json:"ticker"`
	AnalysisDate   string            `json:"analysis_date"`
	CreatedAt      *time.Time        `json:"created_at"`
	UpdatedAt      *time.Time        `json:"updated_at"`
	AgentReports   map[string]string `json:"agent_reports"`
	FinalAnalysis  *string           `json:"final_analysis"`
	Recommendation *string           `json:"recommendation"`
	Summary        *ReportSummary    `json:"summary,omitempty"`
}

// ReportSummary is attached to session reports by GetSessionReportsSafe.
type ReportSummary struct {
	TotalReports     int      `json:"total_reports"`
	AvailableReports []string `json:"available_reports"`
	HasFinalAnalysis bool     `json:"has_final_analysis"`
	CompletionStatus string   `json:"completion_status"`
}

// FinalAnalysis holds the closing analysis and recommendation; either may be nil.
type FinalAnalysis struct {
	FinalAnalysis  *string `json:"final_analysis"`
	Recommendation *string `json:"recommendation"`
}

// SessionSummary is one row of a per-ticker session listing.
type SessionSummary struct {
	SessionID        string     `json:"session_id"`
	Ticker           string     `json:"ticker"`
	AnalysisDate     string     `json:"analysis_date"`
	CreatedAt        *time.Time `json:"created_at"`
	UpdatedAt        *time.Time `json:"updated_at"`
	Recommendation   *string    `json:"recommendation"`
	HasFinalAnalysis bool       `json:"has_final_analysis"`
}

// ReportStatus summarises which reports a session has.
type ReportStatus struct {
	SessionID            string   `json:"session_id"`
	AvailableReports     []string `json:"available_reports"`
	TotalReports         int      `json:"total_reports"`
	TotalPossibleReports int      `json:"total_possible_reports"`
	CompletionPercentage float64  `json:"completion_percentage"`
	HasFinalAnalysis     bool     `json:"has_final_analysis"`
	Status               string   `json:"status"`
	MissingReports       []string `json:"missing_reports"`
}

// ServiceHealth is the retrieval service health probe result.
type ServiceHealth struct {
	Service            string `json:"service"`
	Healthy            bool   `json:"healthy"`
	DatabaseConnection bool   `json:"database_connection"`
	Error              string `json:"error,omitempty"`
}

func invalidSessionID(id string) error {
	return &reports.ValidationError{Field: "session_id", Reason: fmt.Sprintf("invalid session ID format: %s", id)}
}

// SessionExists reports whether the session exists. It never fails:
// malformed identifiers and database errors are logged and yield false.
func (r *ReportReader) SessionExists(ctx context.Context, sessionID string) bool {
	ok, err := r.exists(ctx, sessionID)
	if err != nil {
		r.logger.Error("check session existence", zap.String("session_id", sessionID), zap.Error(err))
		return false
	}
	return ok
}

func (r *ReportReader) exists(ctx context.Context, sessionID string) (bool, error) {
	if !sessionid.IsValid(sessionID) {
		r.logger.Warn("invalid session ID format", zap.String("session_id", sessionID))
		return false, nil
	}
	ok, err := sessionExists(ctx, r.pool, sessionID)
	if err != nil {
		return false, r.wrap("session_exists", err)
	}
	return ok, nil
}

// GetAgentReport returns the report stored for agentType. The boolean is false
// when the session exists but the report has not been written yet.
func (r *ReportReader) GetAgentReport(ctx context.Context, sessionID, agentType string) (content string, found bool, err error) {
	ctx, done := startOp(ctx, "get_agent_report", attribute.String("session_id", sessionID), attribute.String("agent_type", agentType))
	defer func() { done(err) }()

	if !sessionid.IsValid(sessionID) {
		return "", false, invalidSessionID(sessionID)
	}
	agent, err := reports.ParseAgentType(agentType)
	if err != nil {
		return "", false, err
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return "", false, err
	}
	defer r.pool.Release(conn)

	var one int
	err = conn.QueryRowContext(ctx, `SELECT 1 FROM agent_reports WHERE session_id = $1 LIMIT 1`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, &reports.NotFoundError{Resource: "session", SessionID: sessionID}
	}
	if err != nil {
		return "", false, r.wrap("get_agent_report", err)
	}

	var col sql.NullString
	err = conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM agent_reports WHERE session_id = $1`, agent.Column()), sessionID).Scan(&col)
	if errors.Is(err, sql.ErrNoRows) {
		// deleted between the two statements
		return "", false, &reports.NotFoundError{Resource: "session", SessionID: sessionID}
	}
	if err != nil {
		return "", false, r.wrap("get_agent_report", err)
	}
	if !col.Valid || col.String == "" {
		r.logger.Debug("report not available", zap.String("session_id", sessionID), zap.String("agent_type", agentType))
		return "", false, nil
	}
	return col.String, true, nil
}

var sessionReportsQuery = fmt.Sprintf(`SELECT session_id, ticker, analysis_date, created_at, updated_at, %s, final_analysis, recommendation
FROM agent_reports WHERE session_id = $1`, strings.Join(reports.ReportColumns(), ", "))

// GetSessionReports returns the session metadata and every non-empty report.
func (r *ReportReader) GetSessionReports(ctx context.Context, sessionID string) (out SessionReports, err error) {
	ctx, done := startOp(ctx, "get_session_reports", attribute.String("session_id", sessionID))
	defer func() { done(err) }()

	if !sessionid.IsValid(sessionID) {
		return SessionReports{}, invalidSessionID(sessionID)
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return SessionReports{}, err
	}
	defer r.pool.Release(conn)

	agents := reports.AllAgentTypes()
	var (
		date             time.Time
		created, updated sql.NullTime
		finalText, rec   sql.NullString
	)
	cols := make([]sql.NullString, len(agents))
	dest := []interface{}{&out.SessionID, &out.Ticker, &date, &created, &updated}
	for i := range cols {
		dest = append(dest, &cols[i])
	}
	dest = append(dest, &finalText, &rec)

	err = conn.QueryRowContext(ctx, sessionReportsQuery, sessionID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionReports{}, &reports.NotFoundError{Resource: "session", SessionID: sessionID}
	}
	if err != nil {
		return SessionReports{}, r.wrap("get_session_reports", err)
	}
	out.AnalysisDate = date.Format("2006-01-02")
	out.CreatedAt = nullTimePtr(created)
	out.UpdatedAt = nullTimePtr(updated)
	out.FinalAnalysis = nullStringPtr(finalText)
	out.Recommendation = nullStringPtr(rec)
	out.AgentReports = make(map[string]string)
	for i, a := range agents {
		if cols[i].Valid && cols[i].String != "" {
			out.AgentReports[a.String()] = cols[i].String
		}
	}
	return out, nil
}

// GetFinalAnalysis returns the closing analysis. The boolean is false when
// neither the analysis nor the recommendation has been written.
func (r *ReportReader) GetFinalAnalysis(ctx context.Context, sessionID string) (fa FinalAnalysis, found bool, err error) {
	ctx, done := startOp(ctx, "get_final_analysis", attribute.String("session_id", sessionID))
	defer func() { done(err) }()

	if !sessionid.IsValid(sessionID) {
		return FinalAnalysis{}, false, invalidSessionID(sessionID)
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return FinalAnalysis{}, false, err
	}
	defer r.pool.Release(conn)

	var text, rec sql.NullString
	err = conn.QueryRowContext(ctx, `SELECT final_analysis, recommendation FROM agent_reports WHERE session_id = $1`, sessionID).Scan(&text, &rec)
	if errors.Is(err, sql.ErrNoRows) {
		return FinalAnalysis{}, false, &reports.NotFoundError{Resource: "session", SessionID: sessionID}
	}
	if err != nil {
		return FinalAnalysis{}, false, r.wrap("get_final_analysis", err)
	}
	fa = FinalAnalysis{FinalAnalysis: nullStringPtr(text), Recommendation: nullStringPtr(rec)}
	if fa.FinalAnalysis == nil && fa.Recommendation == nil {
		return FinalAnalysis{}, false, nil
	}
	return fa, true, nil
}

// GetSessionsByTicker lists the most recent sessions for ticker, newest first.
// A non-positive limit selects DefaultSessionLimit.
func (r *ReportReader) GetSessionsByTicker(ctx context.Context, ticker string, limit int) (out []SessionSummary, err error) {
	ctx, done := startOp(ctx, "get_sessions_by_ticker", attribute.String("ticker", ticker))
	defer func() { done(err) }()

	ticker = strings.ToUpper(strings.TrimSpace(ticker))
	if ticker == "" {
		return nil, &reports.ValidationError{Field: "ticker", Reason: "ticker must be a non-empty string"}
	}
	if limit <= 0 {
		limit = DefaultSessionLimit
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(conn)

	rows, err := conn.QueryContext(ctx, `
SELECT session_id, ticker, analysis_date, created_at, updated_at, recommendation,
       CASE WHEN final_analysis IS NOT NULL THEN true ELSE false END AS has_final_analysis
FROM agent_reports
WHERE ticker = $1
ORDER BY created_at DESC
LIMIT $2`, ticker, limit)
	if err != nil {
		return nil, r.wrap("get_sessions_by_ticker", err)
	}
	defer rows.Close()

	out = []SessionSummary{}
	for rows.Next() {
		var (
			s                SessionSummary
			date             time.Time
			created, updated sql.NullTime
			rec              sql.NullString
		)
		if err := rows.Scan(&s.SessionID, &s.Ticker, &date, &created, &updated, &rec, &s.HasFinalAnalysis); err != nil {
			return nil, r.wrap("get_sessions_by_ticker", err)
		}
		s.AnalysisDate = date.Format("2006-01-02")
		s.CreatedAt = nullTimePtr(created)
		s.UpdatedAt = nullTimePtr(updated)
		s.Recommendation = nullStringPtr(rec)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, r.wrap("get_sessions_by_ticker", err)
	}
	r.logger.Debug("listed sessions", zap.String("ticker", ticker), zap.Int("count", len(out)))
	return out, nil
}

// ResolveSession finds the most recent session for ticker on date.
func (r *ReportReader) ResolveSession(ctx context.Context, ticker, date string) (string, bool, error) {
	sessions, err := r.GetSessionsByTicker(ctx, ticker, resolveScanLimit)
	if err != nil {
		return "", false, err
	}
	for _, s := range sessions {
		if s.AnalysisDate == date {
			return s.SessionID, true, nil
		}
	}
	return "", false, nil
}

// GetAvailableReports lists the roles whose report column is non-null, in
// pipeline order.
func (r *ReportReader) GetAvailableReports(ctx context.Context, sessionID string) (out []string, err error) {
	ctx, done := startOp(ctx, "get_available_reports", attribute.String("session_id", sessionID))
	defer func() { done(err) }()

	if !sessionid.IsValid(sessionID) {
		return nil, invalidSessionID(sessionID)
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer r.pool.Release(conn)

	agents := reports.AllAgentTypes()
	flags := make([]bool, len(agents))
	dest := make([]interface{}, len(agents))
	for i := range flags {
		dest[i] = &flags[i]
	}
	exprs := make([]string, len(agents))
	for i, a := range agents {
		exprs[i] = a.Column() + " IS NOT NULL"
	}
	err = conn.QueryRowContext(ctx, fmt.Sprintf(`SELECT %s FROM agent_reports WHERE session_id = $1`, strings.Join(exprs, ", ")), sessionID).Scan(dest...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, &reports.NotFoundError{Resource: "session", SessionID: sessionID}
	}
	if err != nil {
		return nil, r.wrap("get_available_reports", err)
	}
	out = []string{}
	for i, a := range agents {
		if flags[i] {
			out = append(out, a.String())
		}
	}
	return out, nil
}

// GetReportStatus computes report completion for a session.
func (r *ReportReader) GetReportStatus(ctx context.Context, sessionID string) (ReportStatus, error) {
	available, err := r.GetAvailableReports(ctx, sessionID)
	if err != nil {
		return ReportStatus{}, err
	}
	_, hasFinal, err := r.GetFinalAnalysis(ctx, sessionID)
	if err != nil {
		return ReportStatus{}, err
	}
	total := len(reports.AllAgentTypes())
	have := make(map[string]bool, len(available))
	for _, a := range available {
		have[a] = true
	}
	missing := []string{}
	for _, a := range reports.AllAgentTypes() {
		if !have[a.String()] {
			missing = append(missing, a.String())
		}
	}
	st := ReportStatus{
		SessionID:            sessionID,
		AvailableReports:     available,
		TotalReports:         len(available),
		TotalPossibleReports: total,
		CompletionPercentage: math.Round(float64(len(available))/float64(total)*1000) / 10,
		HasFinalAnalysis:     hasFinal,
		Status:               "in_progress",
		MissingReports:       missing,
	}
	if hasFinal {
		st.Status = "complete"
	}
	return st, nil
}

// HealthCheck probes the pool and the agent_reports table.
func (r *ReportReader) HealthCheck(ctx context.Context) ServiceHealth {
	h := ServiceHealth{Service: "ReportRetrievalService"}
	db := r.pool.HealthCheck(ctx)
	h.DatabaseConnection = db.Healthy
	if !db.Healthy {
		h.Error = db.Error
		if h.Error == "" {
			h.Error = "database connection failed"
		}
		return h
	}
	conn, err := r.pool.Acquire(ctx)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	defer r.pool.Release(conn)
	var n int64
	if err := conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM agent_reports`).Scan(&n); err != nil {
		h.Error = err.Error()
		r.logger.Error("retrieval health check", zap.Error(err))
		return h
	}
	h.Healthy = true
	return h
}

// GetAgentReportSafe is GetAgentReport wrapped in an Envelope.
func (r *ReportReader) GetAgentReportSafe(ctx context.Context, sessionID, agentType string) Envelope {
	content, found, err := r.GetAgentReport(ctx, sessionID, agentType)
	if err != nil {
		return r.failure(err, map[string]interface{}{"session_id": sessionID, "agent_type": agentType})
	}
	if !found {
		return NotFoundEnvelope("report", fmt.Sprintf("%s for session %s", agentType, sessionID), map[string]interface{}{
			"session_id": sessionID,
			"agent_type": agentType,
			"reason":     "Report not yet available or analysis not completed",
		}, r.now())
	}
	return SuccessEnvelope(AgentReport{
		SessionID:     sessionID,
		AgentType:     agentType,
		Content:       content,
		ContentLength: utf8.RuneCountInString(content),
	}, fmt.Sprintf("Successfully retrieved %s report", agentType), r.now())
}

// GetSessionReportsSafe is GetSessionReports wrapped in an Envelope with a
// completion summary attached.
func (r *ReportReader) GetSessionReportsSafe(ctx context.Context, sessionID string) Envelope {
	data, err := r.GetSessionReports(ctx, sessionID)
	if err != nil {
		return r.failure(err, map[string]interface{}{"session_id": sessionID})
	}
	available := []string{}
	for _, a := range reports.AllAgentTypes() {
		if _, ok := data.AgentReports[a.String()]; ok {
			available = append(available, a.String())
		}
	}
	hasFinal := data.FinalAnalysis != nil && *data.FinalAnalysis != ""
	data.Summary = &ReportSummary{
		TotalReports:     len(available),
		AvailableReports: available,
		HasFinalAnalysis: hasFinal,
		CompletionStatus: "in_progress",
	}
	if hasFinal {
		data.Summary.CompletionStatus = "complete"
	}
	return SuccessEnvelope(data, fmt.Sprintf("Successfully retrieved session data with %d reports", len(available)), r.now())
}

// GetFinalAnalysisSafe is GetFinalAnalysis wrapped in an Envelope.
func (r *ReportReader) GetFinalAnalysisSafe(ctx context.Context, sessionID string) Envelope {
	fa, found, err := r.GetFinalAnalysis(ctx, sessionID)
	if err != nil {
		return r.failure(err, map[string]interface{}{"session_id": sessionID})
	}
	if !found {
		return NotFoundEnvelope("final analysis", "session "+sessionID, map[string]interface{}{
			"session_id": sessionID,
			"reason":     "Final analysis not yet available or analysis not completed",
		}, r.now())
	}
	return SuccessEnvelope(fa, "Successfully retrieved final analysis", r.now())
}

// GetSessionsByTickerSafe is GetSessionsByTicker wrapped in an Envelope.
func (r *ReportReader) GetSessionsByTickerSafe(ctx context.Context, ticker string, limit int) Envelope {
	sessions, err := r.GetSessionsByTicker(ctx, ticker, limit)
	if err != nil {
		return r.failure(err, map[string]interface{}{"ticker": ticker})
	}
	return SuccessEnvelope(sessions, fmt.Sprintf("Retrieved %d sessions for %s", len(sessions), strings.ToUpper(strings.TrimSpace(ticker))), r.now())
}

// GetReportStatusSafe is GetReportStatus wrapped in an Envelope.
func (r *ReportReader) GetReportStatusSafe(ctx context.Context, sessionID string) Envelope {
	ok, err := r.exists(ctx, sessionID)
	if err != nil {
		return r.failure(err, map[string]interface{}{"session_id": sessionID})
	}
	if !ok {
		return NotFoundEnvelope("session", sessionID, map[string]interface{}{"reason": "Session does not exist"}, r.now())
	}
	st, err := r.GetReportStatus(ctx, sessionID)
	if err != nil {
		return r.failure(err, map[string]interface{}{"session_id": sessionID})
	}
	return SuccessEnvelope(st, fmt.Sprintf("Report status retrieved - %d/%d reports available", st.TotalReports, st.TotalPossibleReports), r.now())
}

func (r *ReportReader) failure(err error, fields map[string]interface{}) Envelope {
	env := ErrorEnvelope(err, fields, r.now())
	switch env.Error.Code {
	case CodeSessionNotFound, CodeReportNotFound, CodeValidationError:
		r.logger.Warn("report retrieval", zap.String("code", env.Error.Code), zap.Any("context", fields), zap.Error(err))
	default:
		r.logger.Error("report retrieval", zap.String("code", env.Error.Code), zap.Any("context", fields), zap.Error(err))
	}
	return env
}

// wrap tags query failures as retrieval errors and leaves connection
// failures as they are.
func (r *ReportReader) wrap(op string, err error) error {
	if IsConnectionFailure(err) {
		return err
	}
	if IsRetryable(err) {
		r.logger.Error("database connection error", zap.String("op", op), zap.Error(err))
		return &ConnectionError{Op: op, Err: err}
	}
	r.logger.Error("database error", zap.String("op", op), zap.Error(err))
	return &RetrievalError{Op: op, Err: err}
}

func nullStringPtr(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func nullTimePtr(nt sql.NullTime) *time.Time {
	if !nt.Valid {
		return nil
	}
	t := nt.Time
	return &t
}
