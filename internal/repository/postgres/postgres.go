// Package postgres implements the repository interfaces on PostgreSQL.
//
// Connections go through database/sql with the pgx stdlib driver, so the
// query code reads the same as the sqlite package (only the $n placeholders
// differ). Schema changes live in versioned goose files under migrations/
// and are embedded into the binary.
package postgres

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// uniqueViolation is the SQLSTATE for a UNIQUE constraint failure.
const uniqueViolation = "23505"

// DB wraps the connection pool and hands out the per-table repositories.
type DB struct {
	conn  *sql.DB
	users *UserDB
	tasks *TaskDB
}

// New opens a pool for dsn, verifies it and applies pending migrations.
func New(ctx context.Context, dsn string) (*DB, error) {
	conn, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: opening database: %w", err)
	}

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: pinging database: %w", err)
	}

	if err := runMigrations(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("postgres: running migrations: %w", err)
	}

	return NewWithDB(conn), nil
}

// NewWithDB wraps an already-open pool without touching the schema.
// Tests pass a go-sqlmock connection here.
func NewWithDB(conn *sql.DB) *DB {
	return &DB{
		conn:  conn,
		users: &UserDB{conn: conn},
		tasks: &TaskDB{conn: conn},
	}
}

func runMigrations(ctx context.Context, conn *sql.DB) error {
	goose.SetBaseFS(migrationsFS)
	if err := goose.SetDialect("postgres"); err != nil {
		return err
	}
	return goose.UpContext(ctx, conn, "migrations")
}

// Users returns the credential store backed by this database.
func (db *DB) Users() *UserDB { return db.users }

// Tasks returns the task store backed by this database.
func (db *DB) Tasks() *TaskDB { return db.tasks }

// Ping verifies the database is still reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
