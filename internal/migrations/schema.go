package migrations

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"
)

type expectedColumn struct {
	name     string
	typeHead string
}

var expectedColumns = []expectedColumn{
	{"id", "uuid"},
	{"session_id", "character varying"},
	{"ticker", "character varying"},
	{"analysis_date", "date"},
	{"created_at", "timestamp with time zone"},
	{"updated_at", "timestamp with time zone"},
	{"market_analyst_report", "text"},
	{"news_analyst_report", "text"},
	{"fundamentals_analyst_report", "text"},
	{"social_analyst_report", "text"},
	{"bull_researcher_report", "text"},
	{"bear_researcher_report", "text"},
	{"research_manager_report", "text"},
	{"trader_report", "text"},
	{"risky_analyst_report", "text"},
	{"neutral_analyst_report", "text"},
	{"safe_analyst_report", "text"},
	{"portfolio_manager_report", "text"},
	{"final_analysis", "text"},
	{"recommendation", "character varying"},
}

// dropped by migration 003
var obsoleteColumns = []string{"final_decision"}

var expectedIndexes = []string{
	"idx_agent_reports_session_id",
	"idx_agent_reports_ticker_date",
	"idx_agent_reports_ticker",
	"idx_agent_reports_date",
	"idx_agent_reports_created_at",
}

const expectedTrigger = "update_agent_reports_updated_at"

// ValidateSchema compares the live agent_reports table against the expected
// columns, column types, indexes and update trigger. Every discrepancy is
// reported; the boolean is true only when there are none.
func (r *Runner) ValidateSchema(ctx context.Context) (bool, []string) {
	issues, err := r.validateSchema(ctx)
	if err != nil {
		issues = append(issues, fmt.Sprintf("Schema validation failed: %v", err))
	}
	if len(issues) > 0 {
		r.logger.Warn("schema validation found issues", zap.Strings("issues", issues))
	}
	return len(issues) == 0, issues
}

func (r *Runner) validateSchema(ctx context.Context) ([]string, error) {
	var exists bool
	if err := r.db.QueryRowContext(ctx, `
SELECT EXISTS (
    SELECT FROM information_schema.tables
    WHERE table_name = 'agent_reports'
)`).Scan(&exists); err != nil {
		return nil, err
	}
	if !exists {
		return []string{"agent_reports table does not exist"}, nil
	}

	actual, err := r.stringPairs(ctx, `SELECT column_name, data_type FROM information_schema.columns WHERE table_name = 'agent_reports'`)
	if err != nil {
		return nil, err
	}
	var issues []string
	for _, col := range expectedColumns {
		got, ok := actual[col.name]
		switch {
		case !ok:
			issues = append(issues, "Missing column: "+col.name)
		case !strings.HasPrefix(got, col.typeHead):
			issues = append(issues, fmt.Sprintf("Column %s has wrong type: expected %s, got %s", col.name, col.typeHead, got))
		}
	}
	for _, col := range obsoleteColumns {
		if _, ok := actual[col]; ok {
			issues = append(issues, "Obsolete column still present: "+col)
		}
	}

	indexes, err := r.names(ctx, `SELECT indexname FROM pg_indexes WHERE tablename = 'agent_reports'`)
	if err != nil {
		return issues, err
	}
	for _, idx := range expectedIndexes {
		if !indexes[idx] {
			issues = append(issues, "Missing index: "+idx)
		}
	}

	triggers, err := r.names(ctx, `SELECT trigger_name FROM information_schema.triggers WHERE event_object_table = 'agent_reports'`)
	if err != nil {
		return issues, err
	}
	if !triggers[expectedTrigger] {
		issues = append(issues, "Missing trigger: "+expectedTrigger)
	}
	return issues, nil
}

func (r *Runner) stringPairs(ctx context.Context, query string) (map[string]string, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, rows.Err()
}

func (r *Runner) names(ctx context.Context, query string) (map[string]bool, error) {
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make(map[string]bool)
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		out[n] = true
	}
	return out, rows.Err()
}
