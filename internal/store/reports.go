package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/mohammad-safakhou/tradingagents/internal/reports"
	"github.com/mohammad-safakhou/tradingagents/internal/sessionid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// Retry budgets per write operation.
const (
	reportWriteRetries = 3
	touchRetries       = 2
)

// ReportStore is the write path for analysis sessions.
type ReportStore struct {
	pool   Connector
	retry  Retrier
	ids    sessionid.Generator
	logger *zap.Logger
}

// NewReportStore builds a ReportStore on top of pool.
func NewReportStore(pool Connector, opts ...Option) *ReportStore {
	o := buildOptions(opts)
	r := NewRetrier(DefaultMaxRetries, o.logger)
	if o.retrier != nil {
		r = *o.retrier
		if r.Logger == nil {
			r.Logger = o.logger
		}
	}
	return &ReportStore{
		pool:   pool,
		retry:  r,
		ids:    sessionid.Generator{Now: o.now},
		logger: o.logger,
	}
}

// SessionInfo is the identifying metadata of a session row.
type SessionInfo struct {
	SessionID    string    `json:"session_id"`
	Ticker       string    `json:"ticker"`
	AnalysisDate string    `json:"analysis_date"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// CreateSession inserts a new session row for ticker and date and returns its
// identifier. Inserting an identifier that already exists is not an error.
func (s *ReportStore) CreateSession(ctx context.Context, ticker, date string) (id string, err error) {
	ctx, done := startOp(ctx, "create_session", attribute.String("ticker", ticker))
	defer func() { done(err) }()

	id, err = s.ids.Generate(ticker, date)
	if err != nil {
		return "", &reports.ValidationError{Field: "session", Reason: err.Error()}
	}
	clean := sessionid.NormalizeTicker(ticker)
	if len(clean) > 10 {
		return "", &reports.ValidationError{Field: "ticker", Reason: fmt.Sprintf("ticker %q longer than 10 characters", clean)}
	}

	created := false
	err = s.retry.WithMaxRetries(reportWriteRetries).WithConn(ctx, s.pool, "create_session", func(ctx context.Context, conn *sql.Conn) error {
		var rowID string
		err := conn.QueryRowContext(ctx, `
INSERT INTO agent_reports (id, session_id, ticker, analysis_date)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id) DO NOTHING
RETURNING id`, uuid.NewString(), id, clean, date).Scan(&rowID)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		created = true
		return nil
	})
	if err != nil {
		s.logger.Error("create session", zap.String("ticker", clean), zap.String("analysis_date", date), zap.Error(err))
		return "", &StorageError{Op: "create_session", SessionID: id, Err: err}
	}
	if created {
		s.logger.Info("created session", zap.String("session_id", id), zap.String("ticker", clean), zap.String("analysis_date", date))
	} else {
		s.logger.Info("session already exists", zap.String("session_id", id))
	}
	return id, nil
}

// SaveAgentReport validates content and stores it in the column owned by
// agentType. Saving again overwrites the previous content.
func (s *ReportStore) SaveAgentReport(ctx context.Context, sessionID, agentType, content string) (err error) {
	ctx, done := startOp(ctx, "save_agent_report", attribute.String("session_id", sessionID), attribute.String("agent_type", agentType))
	defer func() { done(err) }()

	if !sessionid.IsValid(sessionID) {
		return &reports.ValidationError{Field: "session_id", Reason: fmt.Sprintf("invalid session ID format: %s", sessionID)}
	}
	agent, clean, err := reports.PrepareReport(agentType, content)
	if err != nil {
		return err
	}
	if len(content) > reports.MaxReportSize {
		s.logger.Warn("compressed large report", zap.String("session_id", sessionID), zap.String("agent_type", agentType))
	}

	query := fmt.Sprintf(`UPDATE agent_reports SET %s = $1, updated_at = CURRENT_TIMESTAMP WHERE session_id = $2 RETURNING id`, agent.Column())
	err = s.retry.WithMaxRetries(reportWriteRetries).WithConn(ctx, s.pool, "save_agent_report", func(ctx context.Context, conn *sql.Conn) error {
		return updateReturningID(ctx, conn, sessionID, query, clean, sessionID)
	})
	if err != nil {
		s.logger.Error("save agent report", zap.String("session_id", sessionID), zap.String("agent_type", agentType), zap.Error(err))
		return &StorageError{Op: "save_agent_report", SessionID: sessionID, AgentType: agentType, Err: err}
	}
	s.logger.Info("saved agent report", zap.String("session_id", sessionID), zap.String("agent_type", agentType), zap.Int("bytes", len(clean)))
	return nil
}

// SaveFinalAnalysis stores the closing analysis and the BUY/SELL/HOLD call.
func (s *ReportStore) SaveFinalAnalysis(ctx context.Context, sessionID, analysis, recommendation string) (err error) {
	ctx, done := startOp(ctx, "save_final_analysis", attribute.String("session_id", sessionID))
	defer func() { done(err) }()

	if !sessionid.IsValid(sessionID) {
		return &reports.ValidationError{Field: "session_id", Reason: fmt.Sprintf("invalid session ID format: %s", sessionID)}
	}
	clean, err := reports.PrepareContent(analysis, "Final Analysis")
	if err != nil {
		return err
	}
	rec, err := reports.ValidateRecommendation(recommendation)
	if err != nil {
		return err
	}

	err = s.retry.WithMaxRetries(reportWriteRetries).WithConn(ctx, s.pool, "save_final_analysis", func(ctx context.Context, conn *sql.Conn) error {
		return updateReturningID(ctx, conn, sessionID, `
UPDATE agent_reports
SET final_analysis = $1, recommendation = $2, updated_at = CURRENT_TIMESTAMP
WHERE session_id = $3
RETURNING id`, clean, string(rec), sessionID)
	})
	if err != nil {
		s.logger.Error("save final analysis", zap.String("session_id", sessionID), zap.Error(err))
		return &StorageError{Op: "save_final_analysis", SessionID: sessionID, Err: err}
	}
	s.logger.Info("saved final analysis", zap.String("session_id", sessionID), zap.String("recommendation", string(rec)))
	return nil
}

// TouchSession bumps updated_at to mark activity on the session.
func (s *ReportStore) TouchSession(ctx context.Context, sessionID string) (err error) {
	ctx, done := startOp(ctx, "touch_session", attribute.String("session_id", sessionID))
	defer func() { done(err) }()

	if !sessionid.IsValid(sessionID) {
		return &reports.ValidationError{Field: "session_id", Reason: fmt.Sprintf("invalid session ID format: %s", sessionID)}
	}
	err = s.retry.WithMaxRetries(touchRetries).WithConn(ctx, s.pool, "touch_session", func(ctx context.Context, conn *sql.Conn) error {
		return updateReturningID(ctx, conn, sessionID, `UPDATE agent_reports SET updated_at = CURRENT_TIMESTAMP WHERE session_id = $1 RETURNING id`, sessionID)
	})
	if err != nil {
		s.logger.Error("touch session", zap.String("session_id", sessionID), zap.Error(err))
		return &StorageError{Op: "touch_session", SessionID: sessionID, Err: err}
	}
	s.logger.Debug("touched session", zap.String("session_id", sessionID))
	return nil
}

// SessionExists reports whether the session row exists. Malformed
// identifiers and database failures yield false.
func (s *ReportStore) SessionExists(ctx context.Context, sessionID string) bool {
	ok, err := sessionExists(ctx, s.pool, sessionID)
	if err != nil {
		s.logger.Error("check session existence", zap.String("session_id", sessionID), zap.Error(err))
		return false
	}
	return ok
}

// SessionInfo returns the session metadata, or false when it does not exist.
func (s *ReportStore) SessionInfo(ctx context.Context, sessionID string) (SessionInfo, bool, error) {
	if !sessionid.IsValid(sessionID) {
		return SessionInfo{}, false, nil
	}
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return SessionInfo{}, false, err
	}
	defer s.pool.Release(conn)

	var (
		info SessionInfo
		date time.Time
	)
	err = conn.QueryRowContext(ctx, `SELECT session_id, ticker, analysis_date, created_at, updated_at FROM agent_reports WHERE session_id = $1`, sessionID).
		Scan(&info.SessionID, &info.Ticker, &date, &info.CreatedAt, &info.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionInfo{}, false, nil
	}
	if err != nil {
		return SessionInfo{}, false, &StorageError{Op: "session_info", SessionID: sessionID, Err: err}
	}
	info.AnalysisDate = date.Format("2006-01-02")
	return info, true, nil
}

// PurgeOlderThan deletes sessions created more than days ago and returns the
// number removed. Failures are logged and reported as zero.
func (s *ReportStore) PurgeOlderThan(ctx context.Context, days int) int64 {
	var err error
	ctx, done := startOp(ctx, "purge_sessions", attribute.Int("days", days))
	defer func() { done(err) }()

	if days < 0 {
		err = fmt.Errorf("days must be >= 0, got %d", days)
		s.logger.Error("purge sessions", zap.Error(err))
		return 0
	}
	var n int64
	err = s.retry.WithConn(ctx, s.pool, "purge_sessions", func(ctx context.Context, conn *sql.Conn) error {
		res, err := conn.ExecContext(ctx, `DELETE FROM agent_reports WHERE created_at < CURRENT_TIMESTAMP - ($1 * INTERVAL '1 day')`, days)
		if err != nil {
			return err
		}
		n, err = res.RowsAffected()
		return err
	})
	if err != nil {
		s.logger.Error("purge sessions", zap.Int("days", days), zap.Error(err))
		return 0
	}
	if n > 0 {
		s.logger.Info("purged old sessions", zap.Int64("count", n), zap.Int("days", days))
	}
	recordPurged(ctx, n)
	return n
}

// ImportSession writes a complete validated session in one transaction. An
// existing row with the same identifier is updated; columns absent from the
// payload keep their stored value.
func (s *ReportStore) ImportSession(ctx context.Context, p reports.SessionPayload) (err error) {
	ctx, done := startOp(ctx, "import_session", attribute.String("session_id", p.SessionID))
	defer func() { done(err) }()

	parsed, err := sessionid.Parse(p.SessionID)
	if err != nil {
		return &reports.ValidationError{Field: "session_id", Reason: err.Error()}
	}
	if parsed.Ticker != p.Ticker || parsed.Date != p.AnalysisDate {
		return &reports.ValidationError{Field: "session_id", Reason: fmt.Sprintf("session %s does not match %s on %s", p.SessionID, p.Ticker, p.AnalysisDate)}
	}
	sets := make([]string, 0, len(p.Reports)+2)
	args := []interface{}{p.SessionID}
	for _, agent := range reports.AllAgentTypes() {
		content, ok := p.Reports[agent]
		if !ok {
			continue
		}
		args = append(args, content)
		sets = append(sets, fmt.Sprintf("%s = $%d", agent.Column(), len(args)))
	}
	if p.FinalAnalysis != "" {
		args = append(args, p.FinalAnalysis)
		sets = append(sets, fmt.Sprintf("final_analysis = $%d", len(args)))
	}
	if p.Recommendation != "" {
		args = append(args, string(p.Recommendation))
		sets = append(sets, fmt.Sprintf("recommendation = $%d", len(args)))
	}

	err = s.retry.WithMaxRetries(reportWriteRetries).WithTx(ctx, s.pool, "import_session", func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
INSERT INTO agent_reports (id, session_id, ticker, analysis_date)
VALUES ($1, $2, $3, $4)
ON CONFLICT (session_id) DO NOTHING`, uuid.NewString(), p.SessionID, p.Ticker, p.AnalysisDate); err != nil {
			return err
		}
		if len(sets) == 0 {
			return nil
		}
		query := fmt.Sprintf(`UPDATE agent_reports SET %s, updated_at = CURRENT_TIMESTAMP WHERE session_id = $1`, strings.Join(sets, ", "))
		_, err := tx.ExecContext(ctx, query, args...)
		return err
	})
	if err != nil {
		s.logger.Error("import session", zap.String("session_id", p.SessionID), zap.Error(err))
		return &StorageError{Op: "import_session", SessionID: p.SessionID, Err: err}
	}
	s.logger.Info("imported session", zap.String("session_id", p.SessionID), zap.Int("reports", len(p.Reports)))
	return nil
}

// updateReturningID runs an UPDATE ... RETURNING id and maps a missing row to
// a session NotFoundError.
func updateReturningID(ctx context.Context, conn *sql.Conn, sessionID, query string, args ...interface{}) error {
	var id string
	err := conn.QueryRowContext(ctx, query, args...).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return &reports.NotFoundError{Resource: "session", SessionID: sessionID}
	}
	return err
}

func sessionExists(ctx context.Context, pool Connector, sessionID string) (bool, error) {
	if !sessionid.IsValid(sessionID) {
		return false, nil
	}
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return false, err
	}
	defer pool.Release(conn)
	var one int
	err = conn.QueryRowContext(ctx, `SELECT 1 FROM agent_reports WHERE session_id = $1`, sessionID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
