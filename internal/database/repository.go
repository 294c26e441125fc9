package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"trade-setup-assistant/internal/order"
	"trade-setup-assistant/internal/usage"
)

// Repository provides data access methods
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// HealthCheck performs a database health check
func (r *Repository) HealthCheck(ctx context.Context) error {
	return r.db.Pool.Ping(ctx)
}

// ============================================================================
// MODEL USAGE
// ============================================================================

// Record stores one usage event. Repository satisfies usage.Recorder.
func (r *Repository) Record(ctx context.Context, e usage.Event) error {
	at := e.At
	if at.IsZero() {
		at = time.Now()
	}
	query := `
		INSERT INTO model_usage (session_id, kind, model, tokens, recorded_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	if _, err := r.db.Pool.Exec(ctx, query, e.SessionID, string(e.Kind), e.Model, e.Tokens, at); err != nil {
		return fmt.Errorf("failed to record model usage: %w", err)
	}
	return nil
}

// UsageTotal sums tokens by kind, optionally for a single session
type UsageTotal struct {
	Kind   usage.Kind `json:"kind"`
	Calls  int64      `json:"calls"`
	Tokens int64      `json:"tokens"`
}

// GetUsageTotals aggregates usage since a point in time ("" session means all)
func (r *Repository) GetUsageTotals(ctx context.Context, sessionID string, since time.Time) ([]UsageTotal, error) {
	query := `
		SELECT kind, COUNT(*), COALESCE(SUM(tokens), 0)
		FROM model_usage
		WHERE recorded_at >= $1 AND ($2 = '' OR session_id = $2)
		GROUP BY kind
		ORDER BY kind
	`
	rows, err := r.db.Pool.Query(ctx, query, since, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query usage totals: %w", err)
	}
	defer rows.Close()

	var totals []UsageTotal
	for rows.Next() {
		var t UsageTotal
		var kind string
		if err := rows.Scan(&kind, &t.Calls, &t.Tokens); err != nil {
			return nil, err
		}
		t.Kind = usage.Kind(kind)
		totals = append(totals, t)
	}
	return totals, rows.Err()
}

// ============================================================================
// ORDER EXECUTIONS
// ============================================================================

// Execution is a stored placement report
type Execution struct {
	ID           int64                  `json:"id"`
	Symbol       string                 `json:"symbol"`
	State        order.ExecutionState   `json:"state"`
	EntryOrderID *string                `json:"entryOrderId,omitempty"`
	Report       *order.ExecutionReport `json:"report"`
	CreatedAt    time.Time              `json:"createdAt"`
}

// SaveExecution stores a placement report, including failed ones
func (r *Repository) SaveExecution(ctx context.Context, report *order.ExecutionReport) (int64, error) {
	if report == nil || report.Entry == nil {
		return 0, fmt.Errorf("execution report has no entry order")
	}
	data, err := json.Marshal(report)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal execution report: %w", err)
	}

	var entryID *string
	if report.Entry.OrderID != "" {
		entryID = &report.Entry.OrderID
	}

	query := `
		INSERT INTO order_executions (symbol, state, entry_order_id, report)
		VALUES ($1, $2, $3, $4)
		RETURNING id
	`
	var id int64
	err = r.db.Pool.QueryRow(ctx, query, report.Entry.Symbol, string(report.State), entryID, data).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to save execution: %w", err)
	}
	return id, nil
}

// GetRecentExecutions returns the newest executions first
func (r *Repository) GetRecentExecutions(ctx context.Context, limit int) ([]Execution, error) {
	if limit <= 0 {
		limit = 50
	}
	query := `
		SELECT id, symbol, state, entry_order_id, report, created_at
		FROM order_executions
		ORDER BY created_at DESC
		LIMIT $1
	`
	rows, err := r.db.Pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}
	defer rows.Close()

	return pgx.CollectRows(rows, scanExecution)
}

func scanExecution(row pgx.CollectableRow) (Execution, error) {
	var e Execution
	var state string
	var data []byte
	if err := row.Scan(&e.ID, &e.Symbol, &state, &e.EntryOrderID, &data, &e.CreatedAt); err != nil {
		return e, err
	}
	e.State = order.ExecutionState(state)
	e.Report = &order.ExecutionReport{}
	if err := json.Unmarshal(data, e.Report); err != nil {
		return e, fmt.Errorf("failed to decode execution %d: %w", e.ID, err)
	}
	return e, nil
}
