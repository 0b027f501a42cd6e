// Package db is the fixture application's SQLCipher store.
package db

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kuitang/aihub-e2e/internal/errs"
)

const (
	// MaxOpenConns bounds file databases. SQLite is single-writer, so high
	// connection counts are counterproductive.
	MaxOpenConns = 4
	MaxIdleConns = 2
)

// Store wraps the fixture database.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

func sqliteCommonParams() string {
	return "_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000&_foreign_keys=on"
}

// Open opens (creating if needed) an encrypted database file. keyHex is a
// 64-character hex key.
func Open(path, keyHex string) (*Store, error) {
	key, err := hex.DecodeString(keyHex)
	if err != nil || len(key) != 32 {
		return nil, errs.New(errs.InvalidArgument, "database key must be 64 hex characters")
	}
	dsn := fmt.Sprintf("file:%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096&%s",
		path, keyHex, sqliteCommonParams())

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open database %s: %w", path, err)
	}
	sqlDB.SetMaxOpenConns(MaxOpenConns)
	sqlDB.SetMaxIdleConns(MaxIdleConns)
	return initStore(sqlDB)
}

// OpenInMemory opens a private encrypted in-memory database with a random
// key. The data disappears on Close.
func OpenInMemory() (*Store, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate database key: %w", err)
	}
	dsn := fmt.Sprintf("file:aihub-%s?mode=memory&cache=shared&_pragma_key=x'%s'&_pragma_cipher_page_size=4096&_foreign_keys=on",
		uuid.NewString(), hex.EncodeToString(key))

	sqlDB, err := sql.Open(SQLiteDriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("open in-memory database: %w", err)
	}
	// One long-lived connection keeps the shared-cache database alive and
	// serializes writers.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	sqlDB.SetConnMaxLifetime(0)
	return initStore(sqlDB)
}

func initStore(sqlDB *sql.DB) (*Store, error) {
	if err := sqlDB.Ping(); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	if _, err := sqlDB.Exec("PRAGMA foreign_keys = ON"); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}
	if _, err := sqlDB.Exec(Schema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return &Store{db: sqlDB, now: time.Now}, nil
}

// DB returns the underlying sql.DB for direct access when needed.
func (s *Store) DB() *sql.DB { return s.db }

// SetClock replaces the time source used for timestamps.
func (s *Store) SetClock(now func() time.Time) { s.now = now }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

// Reset removes every agent, job and conversation. Users, sessions and the
// tool catalog survive so signed-in browsers stay signed in.
func (s *Store) Reset(ctx context.Context) error {
	return s.withTx(ctx, func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM chat_messages`,
			`DELETE FROM job_runs`,
			`DELETE FROM schedules`,
			`DELETE FROM jobs`,
			`DELETE FROM agent_tools`,
			`DELETE FROM agents`,
		} {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return fmt.Errorf("reset: %w", err)
			}
		}
		return nil
	})
}

func (s *Store) withTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *Store) millis() int64 { return s.now().UnixMilli() }

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func toMillis(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixMilli()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// notFound converts sql.ErrNoRows into a coded not_found error.
func notFound(err error, what string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return errs.New(errs.NotFound, what+" not found")
	}
	return fmt.Errorf("load %s: %w", what, err)
}

func requireAffected(res sql.Result, what string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: %w", what, err)
	}
	if n == 0 {
		return errs.New(errs.NotFound, what+" not found")
	}
	return nil
}

// NewID returns a fresh record id.
func NewID() string { return uuid.NewString() }
