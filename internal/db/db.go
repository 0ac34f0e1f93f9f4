package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"pairchat/internal/errs"
)

type dialect int

const (
	dialectSQLite dialect = iota
	dialectPostgres
)

// DB is the SQL-backed identity directory, conversation store and message
// store.
type DB struct {
	*sql.DB
	dialect dialect
	now     func() time.Time
}

// NewDB opens (creating if needed) the sqlite database at dbPath.
func NewDB(dbPath string) (*DB, error) {
	// Create the database directory if it doesn't exist
	dbDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dbDir, 0755); err != nil {
		return nil, fmt.Errorf("error creating database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	// One writer at a time: every store operation is serialized at the
	// storage layer.
	conn.SetMaxOpenConns(1)

	return initDB(conn, dialectSQLite)
}

// NewPostgres opens a postgres database through the pgx stdlib driver.
func NewPostgres(dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}
	conn.SetMaxOpenConns(10)
	conn.SetConnMaxIdleTime(5 * time.Minute)

	return initDB(conn, dialectPostgres)
}

func initDB(conn *sql.DB, d dialect) (*DB, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error connecting to the database: %w", err)
	}

	db := &DB{DB: conn, dialect: d, now: defaultNow}
	if err := db.initSchema(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}
	return db, nil
}

// defaultNow truncates to microseconds, the finest precision every
// backend round-trips.
func defaultNow() time.Time {
	return time.Now().UTC().Truncate(time.Microsecond)
}

func (db *DB) initSchema(ctx context.Context) error {
	ts := "DATETIME"
	if db.dialect == dialectPostgres {
		ts = "TIMESTAMPTZ"
	}

	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			id TEXT PRIMARY KEY,
			email TEXT UNIQUE NOT NULL,
			full_name TEXT NOT NULL,
			password TEXT NOT NULL,
			created_at ` + ts + ` NOT NULL
		)`,
		// member_a < member_b always; the unique pair is what keeps one
		// conversation per unordered pair under concurrent creates.
		`CREATE TABLE IF NOT EXISTS conversations (
			id TEXT PRIMARY KEY,
			member_a TEXT NOT NULL REFERENCES users(id),
			member_b TEXT NOT NULL REFERENCES users(id),
			created_at ` + ts + ` NOT NULL,
			updated_at ` + ts + ` NOT NULL,
			UNIQUE (member_a, member_b)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_member_b ON conversations(member_b)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			conversation_id TEXT NOT NULL REFERENCES conversations(id),
			sender_id TEXT NOT NULL REFERENCES users(id),
			content TEXT NOT NULL,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_conversation ON messages(conversation_id, created_at, id)`,
	}

	for _, query := range queries {
		if _, err := db.ExecContext(ctx, query); err != nil {
			return fmt.Errorf("failed to execute schema query: %w", err)
		}
	}

	return nil
}

// rebind rewrites ? placeholders to $n for postgres.
func (db *DB) rebind(query string) string {
	if db.dialect != dialectPostgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// classify turns a driver error into an errs.Error. Unique violations
// become Conflict; everything else is Internal.
func classify(err error, msg string) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return errs.Wrap(errs.Conflict, err, msg)
	}
	return errs.Wrap(errs.Internal, err, msg)
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
