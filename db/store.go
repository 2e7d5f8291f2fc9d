// Package db persists bar series and merged indicator columns in SQLite.
package db

import (
	"context"
	"database/sql"
	"math"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"

	"tayframe/market"
	"tayframe/pipeline"
)

// Store is a SQLite-backed bar store. It is safe for concurrent use.
type Store struct {
	db *sql.DB

	preparedStmts map[string]*sql.Stmt
	stmtLock      sync.RWMutex
}

const schema = `
    CREATE TABLE IF NOT EXISTS bars (
        symbol TEXT NOT NULL,
        t INTEGER NOT NULL,
        open REAL NOT NULL,
        high REAL NOT NULL,
        low REAL NOT NULL,
        close REAL NOT NULL,
        volume REAL NOT NULL,
        PRIMARY KEY (symbol, t)
    );
    CREATE TABLE IF NOT EXISTS columns (
        symbol TEXT NOT NULL,
        t INTEGER NOT NULL,
        name TEXT NOT NULL,
        value REAL,
        PRIMARY KEY (symbol, t, name)
    );
    CREATE TABLE IF NOT EXISTS data_quality (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        symbol TEXT NOT NULL,
        t INTEGER NOT NULL,
        rule TEXT NOT NULL,
        severity TEXT NOT NULL,
        message TEXT,
        created_at INTEGER DEFAULT (strftime('%s', 'now'))
    );
    CREATE INDEX IF NOT EXISTS idx_quality_symbol ON data_quality(symbol, t);
    `

// Open opens or creates the database at path, creating its directory.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, errors.Wrap(err, "create database directory")
		}
	}

	database, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL")
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	database.SetMaxOpenConns(4)
	database.SetMaxIdleConns(2)

	if _, err := database.Exec(schema); err != nil {
		database.Close()
		return nil, errors.Wrap(err, "create tables")
	}
	return &Store{db: database, preparedStmts: make(map[string]*sql.Stmt)}, nil
}

// Close releases prepared statements and the connection pool.
func (s *Store) Close() error {
	s.stmtLock.Lock()
	for _, stmt := range s.preparedStmts {
		stmt.Close()
	}
	s.preparedStmts = map[string]*sql.Stmt{}
	s.stmtLock.Unlock()
	return s.db.Close()
}

func (s *Store) getPreparedStmt(query string) (*sql.Stmt, error) {
	s.stmtLock.RLock()
	stmt, ok := s.preparedStmts[query]
	s.stmtLock.RUnlock()
	if ok {
		return stmt, nil
	}

	stmt, err := s.db.Prepare(query)
	if err != nil {
		return nil, err
	}

	s.stmtLock.Lock()
	defer s.stmtLock.Unlock()
	if existing, ok := s.preparedStmts[query]; ok {
		stmt.Close()
		return existing, nil
	}
	s.preparedStmts[query] = stmt
	return stmt, nil
}

// SaveSeries upserts every bar of series under symbol in one transaction.
// Extra columns are not written; use SaveColumn for those.
func (s *Store) SaveSeries(ctx context.Context, symbol string, series market.Series) error {
	if symbol == "" {
		return errors.New("symbol required")
	}
	if len(series) == 0 {
		return nil
	}

	stmt, err := s.getPreparedStmt(`INSERT OR REPLACE INTO bars
        (symbol, t, open, high, low, close, volume)
        VALUES (?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	txStmt := tx.StmtContext(ctx, stmt)
	for _, row := range series {
		if _, err := txStmt.ExecContext(ctx, symbol, row.T, row.O, row.H, row.L, row.C, row.V); err != nil {
			return errors.Wrapf(err, "insert bar %d", row.T)
		}
	}
	return tx.Commit()
}

// SaveColumn upserts the named Extra column of series under symbol. Undefined
// values are stored as NULL.
func (s *Store) SaveColumn(ctx context.Context, symbol, name string, series market.Series) error {
	if symbol == "" || name == "" {
		return errors.New("symbol and column name required")
	}

	stmt, err := s.getPreparedStmt(`INSERT OR REPLACE INTO columns
        (symbol, t, name, value) VALUES (?, ?, ?, ?)`)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	txStmt := tx.StmtContext(ctx, stmt)
	for _, row := range series {
		v, ok := row.Extra[name]
		if !ok {
			return errors.Wrapf(market.ErrUnknownField, "%q at %d", name, row.T)
		}
		value := sql.NullFloat64{Float64: v, Valid: !math.IsNaN(v) && !math.IsInf(v, 0)}
		if _, err := txStmt.ExecContext(ctx, symbol, row.T, name, value); err != nil {
			return errors.Wrapf(err, "insert %s at %d", name, row.T)
		}
	}
	return tx.Commit()
}

// LoadSeries returns the most recent limit bars for symbol in chronological
// order, with any saved columns attached as Extra. limit <= 0 loads all bars.
func (s *Store) LoadSeries(ctx context.Context, symbol string, limit int) (market.Series, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := s.db.QueryContext(ctx, `
        SELECT t, open, high, low, close, volume FROM (
            SELECT t, open, high, low, close, volume
            FROM bars
            WHERE symbol = ?
            ORDER BY t DESC
            LIMIT ?
        ) ORDER BY t`, symbol, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var series market.Series
	index := make(map[int64]int)
	for rows.Next() {
		var r market.Row
		if err := rows.Scan(&r.T, &r.O, &r.H, &r.L, &r.C, &r.V); err != nil {
			return nil, err
		}
		index[r.T] = len(series)
		series = append(series, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(series) == 0 {
		return series, nil
	}

	cols, err := s.db.QueryContext(ctx, `
        SELECT t, name, value FROM columns
        WHERE symbol = ? AND t >= ? AND t <= ?`,
		symbol, series[0].T, series[len(series)-1].T)
	if err != nil {
		return nil, err
	}
	defer cols.Close()

	for cols.Next() {
		var (
			t     int64
			name  string
			value sql.NullFloat64
		)
		if err := cols.Scan(&t, &name, &value); err != nil {
			return nil, err
		}
		i, ok := index[t]
		if !ok {
			continue
		}
		if series[i].Extra == nil {
			series[i].Extra = make(map[string]float64)
		}
		if value.Valid {
			series[i].Extra[name] = value.Float64
		} else {
			series[i].Extra[name] = market.Undefined()
		}
	}
	return series, cols.Err()
}

// LastTimestamp returns the newest bar time stored for symbol, or 0.
func (s *Store) LastTimestamp(ctx context.Context, symbol string) (int64, error) {
	var t int64
	err := s.db.QueryRowContext(ctx, `SELECT t FROM bars WHERE symbol = ? ORDER BY t DESC LIMIT 1`, symbol).Scan(&t)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return t, err
}

// SaveIssues records validation issues found on symbol's bars.
func (s *Store) SaveIssues(ctx context.Context, symbol string, issues []pipeline.Issue) error {
	if len(issues) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() {
		_ = tx.Rollback()
	}()

	for _, issue := range issues {
		if _, err := tx.ExecContext(ctx, `INSERT INTO data_quality (symbol, t, rule, severity, message)
            VALUES (?, ?, ?, ?, ?)`, symbol, issue.T, issue.Rule, issue.Severity, issue.Message); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// IssueCount returns how many validation issues are recorded for symbol.
func (s *Store) IssueCount(ctx context.Context, symbol string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM data_quality WHERE symbol = ?`, symbol).Scan(&n)
	return n, err
}
