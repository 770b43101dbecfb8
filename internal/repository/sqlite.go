package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"

	"github.com/xiaot623/zuvachat/internal/domain"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore creates a new SQLite store.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// For in-memory SQLite, multiple connections create separate databases.
	// Keep a single connection to avoid schema/data disappearing across goroutines.
	if dsn == ":memory:" || strings.Contains(dsn, "mode=memory") {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	}

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// migrate runs database migrations.
func (s *SQLiteStore) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS exchanges (
			exchange_id TEXT PRIMARY KEY,
			thread_id TEXT NOT NULL,
			question TEXT NOT NULL,
			status TEXT NOT NULL,
			response_text TEXT NOT NULL DEFAULT '',
			fragment_count INTEGER NOT NULL DEFAULT 0,
			diagnostic_count INTEGER NOT NULL DEFAULT 0,
			failure_kind TEXT,
			failure_message TEXT,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_exchanges_thread ON exchanges(thread_id, created_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("migration failed: %w\n%s", err, m)
		}
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateExchange inserts a new exchange.
func (s *SQLiteStore) CreateExchange(ctx context.Context, e *domain.Exchange) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO exchanges (exchange_id, thread_id, question, status, response_text, fragment_count,
			diagnostic_count, failure_kind, failure_message, created_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ExchangeID, e.ThreadID, e.Question, string(e.Status), e.ResponseText, e.FragmentCount,
		e.DiagnosticCount, nullString(string(e.FailureKind)), nullString(e.FailureMessage),
		e.CreatedAt, e.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create exchange: %w", err)
	}
	return nil
}

// UpdateExchange stores the outcome fields of an exchange.
func (s *SQLiteStore) UpdateExchange(ctx context.Context, e *domain.Exchange) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE exchanges SET status = ?, response_text = ?, fragment_count = ?, diagnostic_count = ?,
			failure_kind = ?, failure_message = ?, completed_at = ?
		WHERE exchange_id = ?`,
		string(e.Status), e.ResponseText, e.FragmentCount, e.DiagnosticCount,
		nullString(string(e.FailureKind)), nullString(e.FailureMessage), e.CompletedAt,
		e.ExchangeID,
	)
	if err != nil {
		return fmt.Errorf("failed to update exchange: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to update exchange: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("exchange %s: %w", e.ExchangeID, ErrNotFound)
	}
	return nil
}

const exchangeColumns = `exchange_id, thread_id, question, status, response_text, fragment_count,
	diagnostic_count, failure_kind, failure_message, created_at, completed_at`

// GetExchange retrieves an exchange by ID.
func (s *SQLiteStore) GetExchange(ctx context.Context, exchangeID string) (*domain.Exchange, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges WHERE exchange_id = ?`, exchangeID)

	e, err := scanExchange(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("exchange %s: %w", exchangeID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get exchange: %w", err)
	}
	return e, nil
}

// ListExchangesByThread returns the most recent exchanges of a thread, newest first.
func (s *SQLiteStore) ListExchangesByThread(ctx context.Context, threadID string, limit int) ([]*domain.Exchange, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+exchangeColumns+` FROM exchanges WHERE thread_id = ?
		ORDER BY created_at DESC, rowid DESC LIMIT ?`, threadID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list exchanges: %w", err)
	}
	defer rows.Close()

	var exchanges []*domain.Exchange
	for rows.Next() {
		e, err := scanExchange(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan exchange: %w", err)
		}
		exchanges = append(exchanges, e)
	}
	return exchanges, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanExchange(row scanner) (*domain.Exchange, error) {
	var e domain.Exchange
	var status string
	var failureKind, failureMessage sql.NullString
	var completedAt sql.NullTime

	if err := row.Scan(&e.ExchangeID, &e.ThreadID, &e.Question, &status, &e.ResponseText,
		&e.FragmentCount, &e.DiagnosticCount, &failureKind, &failureMessage,
		&e.CreatedAt, &completedAt); err != nil {
		return nil, err
	}

	e.Status = domain.ExchangeStatus(status)
	e.FailureKind = domain.FailureKind(failureKind.String)
	e.FailureMessage = failureMessage.String
	if completedAt.Valid {
		t := completedAt.Time
		e.CompletedAt = &t
	}
	return &e, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
