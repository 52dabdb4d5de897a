package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"tickergraph/internal/detector"
	"tickergraph/internal/graph"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
)

// Store provides SQLite-based persistence for detected opportunities and
// operational state.
type Store struct {
	db *sql.DB
}

// OpportunityRecord represents an opportunity stored in the database.
type OpportunityRecord struct {
	ID            int64     `json:"id"`
	Exchange      string    `json:"exchange"`
	CycleKey      string    `json:"cycle_key"`
	Path          []string  `json:"path"`
	Costs         []float64 `json:"costs"`
	Weight        float64   `json:"weight"`
	ProfitFactor  float64   `json:"profit_factor"`
	ProfitPercent string    `json:"profit_percent"`
	DetectedAt    time.Time `json:"detected_at"`
}

// SymbolRecord represents a symbol seen on an exchange.
type SymbolRecord struct {
	Exchange  string
	Symbol    string
	Degree    int
	FirstSeen time.Time
	LastSeen  time.Time
}

// NewStore creates a new SQLite store and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	// Ensure directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Set connection pool settings
	db.SetMaxOpenConns(1) // SQLite only supports one writer
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	store := &Store{db: db}

	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

// migrate runs database schema migrations.
func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS opportunities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			exchange TEXT NOT NULL,
			cycle_key TEXT NOT NULL,
			path TEXT NOT NULL,
			costs TEXT NOT NULL,
			weight REAL NOT NULL,
			profit_factor REAL NOT NULL,
			profit_percent TEXT NOT NULL,
			detected_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_detected ON opportunities(detected_at DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_opportunities_cycle ON opportunities(exchange, cycle_key)`,
		`CREATE TABLE IF NOT EXISTS symbols (
			exchange TEXT NOT NULL,
			symbol TEXT NOT NULL,
			degree INTEGER NOT NULL DEFAULT 0,
			first_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
			last_seen DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (exchange, symbol)
		)`,
		`CREATE TABLE IF NOT EXISTS system_state (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
	}

	for _, migration := range migrations {
		if _, err := s.db.Exec(migration); err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	log.Info().Msg("Database migrations completed")
	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Name identifies the store as a detector sink.
func (s *Store) Name() string {
	return "sqlite"
}

// Publish records an opportunity. It satisfies detector.Sink.
func (s *Store) Publish(ctx context.Context, opp *detector.Opportunity) error {
	_, err := s.InsertOpportunity(ctx, opp)
	return err
}

// InsertOpportunity stores an opportunity and returns its row id.
func (s *Store) InsertOpportunity(ctx context.Context, opp *detector.Opportunity) (int64, error) {
	costs, err := json.Marshal(opp.Costs)
	if err != nil {
		return 0, fmt.Errorf("encoding costs: %w", err)
	}

	query := `INSERT INTO opportunities
		(exchange, cycle_key, path, costs, weight, profit_factor, profit_percent, detected_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`

	res, err := s.db.ExecContext(ctx, query,
		opp.Exchange, opp.Key, strings.Join(opp.Path, ","), string(costs),
		opp.Weight, opp.ProfitFactor, opp.ProfitPercent().String(),
		opp.DetectedAt.UTC(),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting opportunity %s: %w", opp.Key, err)
	}
	return res.LastInsertId()
}

// RecentOpportunities returns up to limit opportunities, newest first.
func (s *Store) RecentOpportunities(ctx context.Context, limit int) ([]OpportunityRecord, error) {
	query := `SELECT id, exchange, cycle_key, path, costs, weight, profit_factor, profit_percent, detected_at
		FROM opportunities
		ORDER BY detected_at DESC, id DESC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("querying opportunities: %w", err)
	}
	defer rows.Close()

	var records []OpportunityRecord
	for rows.Next() {
		var (
			r     OpportunityRecord
			path  string
			costs string
		)
		if err := rows.Scan(&r.ID, &r.Exchange, &r.CycleKey, &path, &costs,
			&r.Weight, &r.ProfitFactor, &r.ProfitPercent, &r.DetectedAt); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		r.Path = strings.Split(path, ",")
		if err := json.Unmarshal([]byte(costs), &r.Costs); err != nil {
			return nil, fmt.Errorf("decoding costs of opportunity %d: %w", r.ID, err)
		}
		records = append(records, r)
	}

	return records, rows.Err()
}

// CountOpportunities returns the number of stored opportunities for
// exchange, or across all exchanges when exchange is empty.
func (s *Store) CountOpportunities(ctx context.Context, exchange string) (int, error) {
	var count int
	var err error
	if exchange == "" {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM opportunities").Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM opportunities WHERE exchange = ?", exchange).Scan(&count)
	}
	return count, err
}

// SaveSnapshot upserts every symbol of the snapshot and records when the
// exchange was last persisted.
func (s *Store) SaveSnapshot(ctx context.Context, snap *graph.Snapshot) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `INSERT INTO symbols (exchange, symbol, degree, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(exchange, symbol) DO UPDATE SET degree = excluded.degree, last_seen = excluded.last_seen`)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer stmt.Close()

	now := snap.CreatedAt.UTC()
	for _, n := range snap.Nodes {
		if _, err := stmt.ExecContext(ctx, snap.Exchange, n.Symbol, len(n.Edges), now, now); err != nil {
			return fmt.Errorf("upserting symbol %s: %w", n.Symbol, err)
		}
	}

	if _, err := tx.ExecContext(ctx, `INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`,
		"snapshot:"+snap.Exchange, now.Format(time.RFC3339Nano), time.Now()); err != nil {
		return fmt.Errorf("recording snapshot time: %w", err)
	}

	return tx.Commit()
}

// GetSymbols retrieves the symbols recorded for an exchange, ordered by symbol.
func (s *Store) GetSymbols(ctx context.Context, exchange string) ([]SymbolRecord, error) {
	query := `SELECT exchange, symbol, degree, first_seen, last_seen
		FROM symbols WHERE exchange = ? ORDER BY symbol`

	rows, err := s.db.QueryContext(ctx, query, exchange)
	if err != nil {
		return nil, fmt.Errorf("querying symbols: %w", err)
	}
	defer rows.Close()

	var symbols []SymbolRecord
	for rows.Next() {
		var r SymbolRecord
		if err := rows.Scan(&r.Exchange, &r.Symbol, &r.Degree, &r.FirstSeen, &r.LastSeen); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		symbols = append(symbols, r)
	}

	return symbols, rows.Err()
}

// SetSystemState stores a key-value pair in system state.
func (s *Store) SetSystemState(ctx context.Context, key, value string) error {
	query := `INSERT INTO system_state (key, value, updated_at)
		VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value, updated_at = excluded.updated_at`

	_, err := s.db.ExecContext(ctx, query, key, value, time.Now())
	return err
}

// GetSystemState retrieves a value from system state.
// A missing key yields an empty string and no error.
func (s *Store) GetSystemState(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, "SELECT value FROM system_state WHERE key = ?", key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}
