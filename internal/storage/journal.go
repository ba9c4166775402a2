package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	_ "github.com/glebarez/go-sqlite"

	"github.com/Wakaba24/deriv-fast-backend/internal/domain"
)

// Journal is the append-only record of finalized trades in SQLite. The
// engine writes results as they finalize; nothing in the trading path
// ever reads them back, so losing the file cannot change behavior.
type Journal struct {
	db *sql.DB
}

// NewJournal opens (or creates) the journal database with WAL mode enabled.
func NewJournal(dbPath string) (*Journal, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA cache_size=-2000;", // 2MB cache
		"PRAGMA foreign_keys=ON;",
	}

	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return nil, fmt.Errorf("failed to set pragma %s: %w", pragma, err)
		}
	}

	// Monetary columns hold decimal strings; the payload keeps the full
	// result for listing without a lossy column round trip.
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS trade_results (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			request_id TEXT NOT NULL,
			contract_id INTEGER,
			kind TEXT NOT NULL,
			reason TEXT,
			profit TEXT,
			payout TEXT,
			started_at INTEGER NOT NULL,
			finalized_at INTEGER NOT NULL,
			payload BLOB NOT NULL
		);
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to create trade_results table: %w", err)
	}

	return &Journal{db: db}, nil
}

// Record appends one finalized trade result.
func (j *Journal) Record(ctx context.Context, res *domain.TradeResult) error {
	payload, err := json.Marshal(res)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}

	var profit, payout sql.NullString
	if res.Profit != nil {
		profit = sql.NullString{String: res.Profit.String(), Valid: true}
	}
	if res.Payout != nil {
		payout = sql.NullString{String: res.Payout.String(), Valid: true}
	}

	_, err = j.db.ExecContext(ctx,
		`INSERT INTO trade_results
			(request_id, contract_id, kind, reason, profit, payout, started_at, finalized_at, payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		res.RequestID, res.ContractID, res.Kind, res.Reason,
		profit, payout,
		res.StartedAt.UnixMilli(), res.FinalizedAt.UnixMilli(), payload,
	)
	if err != nil {
		return fmt.Errorf("failed to insert result: %w", err)
	}

	return nil
}

// List returns up to limit results, newest first.
func (j *Journal) List(ctx context.Context, limit int) ([]*domain.TradeResult, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := j.db.QueryContext(ctx,
		"SELECT payload FROM trade_results ORDER BY id DESC LIMIT ?", limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}
	defer rows.Close()

	var results []*domain.TradeResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, fmt.Errorf("failed to scan result: %w", err)
		}

		var res domain.TradeResult
		if err := json.Unmarshal(payload, &res); err != nil {
			return nil, fmt.Errorf("failed to unmarshal result: %w", err)
		}
		results = append(results, &res)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return results, nil
}

// Count returns the number of journaled results.
func (j *Journal) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := j.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM trade_results").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count results: %w", err)
	}
	return n, nil
}

// Close closes the database connection.
func (j *Journal) Close() error {
	return j.db.Close()
}
