package store

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/mohammad-safakhou/tradingagents/internal/reports"
	"github.com/stretchr/testify/require"
)

const insertSessionPattern = `INSERT INTO agent_reports \(id, session_id, ticker, analysis_date\)`

func idRows(id string) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id"}).AddRow(id)
}

func TestCreateSession(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(insertSessionPattern).
		WithArgs(sqlmock.AnyArg(), testSessionID, "AAPL", "2024-05-01").
		WillReturnRows(idRows("8d9f"))

	id, err := s.Reports.CreateSession(t.Context(), "aapl", "2024-05-01")
	require.NoError(t, err)
	require.Equal(t, testSessionID, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSessionAlreadyExists(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(insertSessionPattern).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	id, err := s.Reports.CreateSession(t.Context(), "AAPL", "2024-05-01")
	require.NoError(t, err)
	require.Equal(t, testSessionID, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSessionRejectsBadInput(t *testing.T) {
	s, mock := newMockStore(t)

	_, err := s.Reports.CreateSession(t.Context(), "", "2024-05-01")
	require.True(t, reports.IsValidation(err))
	_, err = s.Reports.CreateSession(t.Context(), "AAPL", "05/01/2024")
	require.True(t, reports.IsValidation(err))
	_, err = s.Reports.CreateSession(t.Context(), "ABCDEFGHIJK", "2024-05-01")
	require.True(t, reports.IsValidation(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateSessionRetriesTransientFailure(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(insertSessionPattern).WillReturnError(&pq.Error{Code: "08006", Message: "connection failure"})
	mock.ExpectQuery(insertSessionPattern).WillReturnRows(idRows("8d9f"))

	id, err := s.Reports.CreateSession(t.Context(), "AAPL", "2024-05-01")
	require.NoError(t, err)
	require.Equal(t, testSessionID, id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAgentReport(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE agent_reports SET trader_report = \$1, updated_at = CURRENT_TIMESTAMP WHERE session_id = \$2 RETURNING id`).
		WithArgs("Buy 100 shares &lt;limit&gt; at 180.", testSessionID).
		WillReturnRows(idRows("8d9f"))

	err := s.Reports.SaveAgentReport(t.Context(), testSessionID, "Trader", "Buy 100   shares <limit> at 180.")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAgentReportSessionMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE agent_reports SET market_analyst_report`).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := s.Reports.SaveAgentReport(t.Context(), testSessionID, "Market Analyst", "Momentum remains strong above the 50DMA.")
	require.Error(t, err)
	require.ErrorIs(t, err, reports.ErrSessionNotFound)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "Market Analyst", se.AgentType)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAgentReportValidation(t *testing.T) {
	s, mock := newMockStore(t)
	ctx := t.Context()

	err := s.Reports.SaveAgentReport(ctx, "not-a-session", "Trader", "long enough content")
	require.True(t, reports.IsValidation(err))
	err = s.Reports.SaveAgentReport(ctx, testSessionID, "Invalid Agent", "long enough content")
	require.True(t, reports.IsValidation(err))
	err = s.Reports.SaveAgentReport(ctx, testSessionID, "Trader", "short")
	require.True(t, reports.IsValidation(err))
	err = s.Reports.SaveAgentReport(ctx, testSessionID, "Trader", "   ")
	require.True(t, reports.IsValidation(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAgentReportCompressesRepetitiveContent(t *testing.T) {
	s, mock := newMockStore(t)
	big := strings.Repeat("RSI overbought on daily chart\n", reports.MaxReportSize/10)
	mock.ExpectQuery(`UPDATE agent_reports SET market_analyst_report`).
		WithArgs(sqlmock.AnyArg(), testSessionID).
		WillReturnRows(idRows("8d9f"))

	require.NoError(t, s.Reports.SaveAgentReport(t.Context(), testSessionID, "Market Analyst", big))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveFinalAnalysis(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SET final_analysis = \$1, recommendation = \$2`).
		WithArgs("Accumulate on weakness.", "BUY", testSessionID).
		WillReturnRows(idRows("8d9f"))

	require.NoError(t, s.Reports.SaveFinalAnalysis(t.Context(), testSessionID, "Accumulate on weakness.", "buy"))
	require.NoError(t, mock.ExpectationsWereMet())

	err := s.Reports.SaveFinalAnalysis(t.Context(), testSessionID, "Accumulate on weakness.", "MAYBE")
	require.True(t, reports.IsValidation(err))
}

const touchPattern = `UPDATE agent_reports SET updated_at = CURRENT_TIMESTAMP WHERE session_id = \$1 RETURNING id`

func TestTouchSession(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(touchPattern).WithArgs(testSessionID).WillReturnRows(idRows("8d9f"))

	require.NoError(t, s.Reports.TouchSession(t.Context(), testSessionID))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTouchSessionMissing(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(touchPattern).WithArgs(testSessionID).WillReturnRows(sqlmock.NewRows([]string{"id"}))

	err := s.Reports.TouchSession(t.Context(), testSessionID)
	require.ErrorIs(t, err, reports.ErrSessionNotFound)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	require.Equal(t, "touch_session", se.Op)
	require.Equal(t, testSessionID, se.SessionID)
	var re *RetryExhaustedError
	require.False(t, errors.As(err, &re), "missing session must not be retried")
	require.NoError(t, mock.ExpectationsWereMet())

	require.True(t, reports.IsValidation(s.Reports.TouchSession(t.Context(), "bad id")))
}

func TestTouchSessionExhaustsRetries(t *testing.T) {
	s, mock := newMockStore(t)
	for i := 0; i < touchRetries+1; i++ {
		mock.ExpectQuery(`UPDATE agent_reports SET updated_at = CURRENT_TIMESTAMP WHERE session_id = \$1`).
			WillReturnError(&pq.Error{Code: "57P01", Message: "terminating connection due to administrator command"})
	}

	err := s.Reports.TouchSession(t.Context(), testSessionID)
	var re *RetryExhaustedError
	require.ErrorAs(t, err, &re)
	require.Equal(t, touchRetries+1, re.Attempts)
	require.True(t, IsConnectionFailure(err))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestWriteStopsOnFatalDatabaseError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`UPDATE agent_reports SET trader_report`).
		WillReturnError(&pq.Error{Code: "42703", Message: "column does not exist"})

	err := s.Reports.SaveAgentReport(t.Context(), testSessionID, "Trader", "Hold position into earnings.")
	var pqErr *pq.Error
	require.ErrorAs(t, err, &pqErr)
	var re *RetryExhaustedError
	require.False(t, errors.As(err, &re))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSessionExistsAndInfo(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery(`SELECT 1 FROM agent_reports WHERE session_id = \$1`).
		WithArgs(testSessionID).
		WillReturnRows(sqlmock.NewRows([]string{"?column?"}).AddRow(1))
	require.True(t, s.Reports.SessionExists(t.Context(), testSessionID))
	require.False(t, s.Reports.SessionExists(t.Context(), "bogus"))

	created := time.Date(2024, 5, 1, 9, 30, 0, 0, time.UTC)
	mock.ExpectQuery(`SELECT session_id, ticker, analysis_date, created_at, updated_at FROM agent_reports`).
		WillReturnRows(sqlmock.NewRows([]string{"session_id", "ticker", "analysis_date", "created_at", "updated_at"}).
			AddRow(testSessionID, "AAPL", time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC), created, created))
	info, ok, err := s.Reports.SessionInfo(t.Context(), testSessionID)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "2024-05-01", info.AnalysisDate)
	require.Equal(t, created, info.CreatedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPurgeOlderThan(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec(`DELETE FROM agent_reports WHERE created_at < CURRENT_TIMESTAMP - \(\$1 \* INTERVAL '1 day'\)`).
		WithArgs(30).
		WillReturnResult(sqlmock.NewResult(0, 4))
	require.EqualValues(t, 4, s.Reports.PurgeOlderThan(t.Context(), 30))

	mock.ExpectExec(`DELETE FROM agent_reports`).WillReturnError(errors.New("permission denied"))
	require.Zero(t, s.Reports.PurgeOlderThan(t.Context(), 30))
	require.Zero(t, s.Reports.PurgeOlderThan(t.Context(), -1))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportSession(t *testing.T) {
	s, mock := newMockStore(t)
	p := reports.SessionPayload{
		SessionID:    testSessionID,
		Ticker:       "AAPL",
		AnalysisDate: "2024-05-01",
		Reports: map[reports.AgentType]string{
			reports.Trader:        "Buy on the open.",
			reports.MarketAnalyst: "Uptrend intact.",
		},
		FinalAnalysis:  "Accumulate.",
		Recommendation: reports.Buy,
	}
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO agent_reports`).
		WithArgs(sqlmock.AnyArg(), testSessionID, "AAPL", "2024-05-01").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE agent_reports SET market_analyst_report = \$2, trader_report = \$3, final_analysis = \$4, recommendation = \$5, updated_at = CURRENT_TIMESTAMP WHERE session_id = \$1`).
		WithArgs(testSessionID, "Uptrend intact.", "Buy on the open.", "Accumulate.", "BUY").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	require.NoError(t, s.Reports.ImportSession(t.Context(), p))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportSessionRollsBack(t *testing.T) {
	s, mock := newMockStore(t)
	p := reports.SessionPayload{
		SessionID:    testSessionID,
		Ticker:       "AAPL",
		AnalysisDate: "2024-05-01",
		Reports:      map[reports.AgentType]string{reports.Trader: "Buy on the open."},
	}
	mock.ExpectBegin()
	mock.ExpectExec(`INSERT INTO agent_reports`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE agent_reports SET trader_report = \$2`).
		WillReturnError(&pq.Error{Code: "23514", Message: "check constraint"})
	mock.ExpectRollback()

	err := s.Reports.ImportSession(t.Context(), p)
	var se *StorageError
	require.ErrorAs(t, err, &se)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestImportSessionMismatchedID(t *testing.T) {
	s, _ := newMockStore(t)
	err := s.Reports.ImportSession(t.Context(), reports.SessionPayload{
		SessionID:    testSessionID,
		Ticker:       "MSFT",
		AnalysisDate: "2024-05-01",
	})
	require.True(t, reports.IsValidation(err))
}
