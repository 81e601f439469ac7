// Package ledger is the durable, append-only store of priced usage events.
// Records are written exactly once and never mutated or deleted; corrections
// arrive as new events. The store also exposes the narrow aggregation
// queries the reporting layer needs so callers never scan the full table.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/altenk/llmledger/internal/model"
)

// Store wraps the SQLite connection holding the ledger.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the ledger database and applies the schema.
// WAL journaling keeps concurrent appends from blocking readers, and the
// busy timeout absorbs writer contention instead of surfacing SQLITE_BUSY.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB exposes the underlying connection for collaborators that share the
// same database file, such as the server's session store.
func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS llm_calls (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		project TEXT,
		environment TEXT,
		feature TEXT,
		provider TEXT NOT NULL,
		model TEXT NOT NULL,
		service_tier TEXT,
		region TEXT,
		request_id TEXT,
		endpoint TEXT,
		input_tokens INTEGER NOT NULL DEFAULT 0,
		cached_input_tokens INTEGER NOT NULL DEFAULT 0,
		output_tokens INTEGER NOT NULL DEFAULT 0,
		reasoning_tokens INTEGER NOT NULL DEFAULT 0,
		other_units_json TEXT,
		cost_usd REAL NOT NULL DEFAULT 0.0,
		price_missing INTEGER NOT NULL DEFAULT 0,
		price_version TEXT,
		usage_raw_json TEXT,
		created_at TEXT DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_llm_calls_timestamp ON llm_calls(timestamp);
	CREATE INDEX IF NOT EXISTS idx_llm_calls_combo ON llm_calls(provider, model, timestamp);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate ledger schema: %w", err)
	}
	return nil
}

// Append durably writes one record and returns its assigned id. The insert
// runs in its own transaction: a record is either fully visible with every
// field populated or not visible at all.
func (s *Store) Append(rec *model.LedgerRecord) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback()

	otherUnits, err := marshalOtherUnits(rec.Usage.OtherUnits)
	if err != nil {
		return 0, err
	}

	res, err := tx.Exec(`
		INSERT INTO llm_calls (
			timestamp, project, environment, feature, provider, model,
			service_tier, region, request_id, endpoint,
			input_tokens, cached_input_tokens, output_tokens, reasoning_tokens,
			other_units_json, cost_usd, price_missing, price_version, usage_raw_json
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Timestamp.UTC().Format(time.RFC3339),
		rec.Project, rec.Environment, rec.Feature,
		rec.Provider, rec.Model,
		rec.ServiceTier, rec.Region, rec.RequestID, rec.Endpoint,
		rec.Usage.InputTokens, rec.Usage.CachedInputTokens,
		rec.Usage.OutputTokens, rec.Usage.ReasoningTokens,
		otherUnits, rec.CostUSD, boolToInt(rec.PriceMissing),
		rec.PriceVersion, rec.UsageRawJSON,
	)
	if err != nil {
		return 0, fmt.Errorf("append ledger record: %w", err)
	}

	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("read record id: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return id, nil
}

// BreakdownRow is one (provider, model) line of a daily report.
type BreakdownRow struct {
	Provider     string  `json:"provider"`
	Model        string  `json:"model"`
	CallCount    int64   `json:"call_count"`
	TotalCost    float64 `json:"total_cost"`
	InputTokens  int64   `json:"total_input"`
	OutputTokens int64   `json:"total_output"`
}

// DayCost is one day of a monthly cost series.
type DayCost struct {
	Day     string  `json:"day"`
	CostUSD float64 `json:"daily_cost"`
}

// DailyBreakdown sums cost and token counts grouped by provider+model for
// one calendar day (YYYY-MM-DD), ordered by descending cost.
func (s *Store) DailyBreakdown(day string) ([]BreakdownRow, error) {
	rows, err := s.db.Query(`
		SELECT provider, model,
		       COUNT(*) AS call_count,
		       SUM(cost_usd) AS total_cost,
		       SUM(input_tokens) AS total_input,
		       SUM(output_tokens) AS total_output
		FROM llm_calls
		WHERE DATE(timestamp) = ?
		GROUP BY provider, model
		ORDER BY total_cost DESC`, day)
	if err != nil {
		return nil, fmt.Errorf("daily breakdown: %w", err)
	}
	defer rows.Close()

	var out []BreakdownRow
	for rows.Next() {
		var r BreakdownRow
		if err := rows.Scan(&r.Provider, &r.Model, &r.CallCount, &r.TotalCost, &r.InputTokens, &r.OutputTokens); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// MonthlySeries sums cost grouped by day for one calendar month (YYYY-MM),
// ordered chronologically.
func (s *Store) MonthlySeries(month string) ([]DayCost, error) {
	rows, err := s.db.Query(`
		SELECT DATE(timestamp) AS day, SUM(cost_usd) AS daily_cost
		FROM llm_calls
		WHERE strftime('%Y-%m', timestamp) = ?
		GROUP BY day
		ORDER BY day`, month)
	if err != nil {
		return nil, fmt.Errorf("monthly series: %w", err)
	}
	defer rows.Close()

	var out []DayCost
	for rows.Next() {
		var d DayCost
		if err := rows.Scan(&d.Day, &d.CostUSD); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

// DailyTotals returns the running cost and input+output token sum for one
// calendar day. Used for ingest receipts.
func (s *Store) DailyTotals(day string) (float64, int64, error) {
	var cost sql.NullFloat64
	var tokens sql.NullInt64
	err := s.db.QueryRow(`
		SELECT SUM(cost_usd), SUM(input_tokens + output_tokens)
		FROM llm_calls
		WHERE DATE(timestamp) = ?`, day).Scan(&cost, &tokens)
	if err != nil {
		return 0, 0, fmt.Errorf("daily totals: %w", err)
	}
	return cost.Float64, tokens.Int64, nil
}

// DayTotal returns the grand total cost for one calendar day.
func (s *Store) DayTotal(day string) (float64, error) {
	var cost sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT SUM(cost_usd) FROM llm_calls WHERE DATE(timestamp) = ?`, day).Scan(&cost)
	if err != nil {
		return 0, fmt.Errorf("day total: %w", err)
	}
	return cost.Float64, nil
}

// MonthTotal returns the grand total cost for one calendar month.
func (s *Store) MonthTotal(month string) (float64, error) {
	var cost sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT SUM(cost_usd) FROM llm_calls WHERE strftime('%Y-%m', timestamp) = ?`, month).Scan(&cost)
	if err != nil {
		return 0, fmt.Errorf("month total: %w", err)
	}
	return cost.Float64, nil
}

// LatestTimestamp returns the newest event timestamp in the ledger, or the
// zero time for an empty ledger. The push client uses it as its high-water
// mark against the server.
func (s *Store) LatestTimestamp() (time.Time, error) {
	var ts sql.NullString
	err := s.db.QueryRow(`SELECT MAX(timestamp) FROM llm_calls`).Scan(&ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("latest timestamp: %w", err)
	}
	if !ts.Valid || ts.String == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339, ts.String)
}

// RecordsAfter returns records with a timestamp strictly after the given
// time, oldest first, up to limit rows. Used to replay local records to a
// remote ledger.
func (s *Store) RecordsAfter(after time.Time, limit int) ([]model.LedgerRecord, error) {
	rows, err := s.db.Query(`
		SELECT id, timestamp, project, environment, feature, provider, model,
		       service_tier, region, request_id, endpoint,
		       input_tokens, cached_input_tokens, output_tokens, reasoning_tokens,
		       cost_usd, price_missing, price_version, usage_raw_json
		FROM llm_calls
		WHERE timestamp > ?
		ORDER BY timestamp ASC
		LIMIT ?`, after.UTC().Format(time.RFC3339), limit)
	if err != nil {
		return nil, fmt.Errorf("records after: %w", err)
	}
	defer rows.Close()

	var out []model.LedgerRecord
	for rows.Next() {
		var rec model.LedgerRecord
		var ts string
		var priceMissing int
		var priceVersion, rawJSON sql.NullString
		if err := rows.Scan(&rec.ID, &ts, &rec.Project, &rec.Environment, &rec.Feature,
			&rec.Provider, &rec.Model, &rec.ServiceTier, &rec.Region, &rec.RequestID, &rec.Endpoint,
			&rec.Usage.InputTokens, &rec.Usage.CachedInputTokens,
			&rec.Usage.OutputTokens, &rec.Usage.ReasoningTokens,
			&rec.CostUSD, &priceMissing, &priceVersion, &rawJSON); err != nil {
			return nil, err
		}
		rec.Timestamp, err = time.Parse(time.RFC3339, ts)
		if err != nil {
			return nil, fmt.Errorf("parse ledger timestamp %q: %w", ts, err)
		}
		rec.PriceMissing = priceMissing != 0
		rec.PriceVersion = priceVersion.String
		rec.UsageRawJSON = rawJSON.String
		out = append(out, rec)
	}
	return out, rows.Err()
}

func marshalOtherUnits(units map[string]float64) (string, error) {
	if len(units) == 0 {
		return "", nil
	}
	data, err := json.Marshal(units)
	if err != nil {
		return "", fmt.Errorf("encode other units: %w", err)
	}
	return string(data), nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
