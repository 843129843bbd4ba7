package server

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/sakif/todo-api/internal/config"
	"github.com/sakif/todo-api/internal/repository"
	mongoRepo "github.com/sakif/todo-api/internal/repository/mongo"
	postgresRepo "github.com/sakif/todo-api/internal/repository/postgres"
	sqliteRepo "github.com/sakif/todo-api/internal/repository/sqlite"
)

// store is the backend chosen by STORE_DRIVER, flattened to the interfaces
// the services need plus the lifecycle hooks the server owns.
type store struct {
	users  repository.UserRepository
	tasks  repository.TaskRepository
	pinger repository.Pinger
	closer io.Closer
	name   string
}

// openStore connects to the configured backend and runs its migrations.
//
// IMPORT ALIASES:
// The backend packages are aliased (sqliteRepo, ...) so they don't collide
// with the driver packages they wrap.
func openStore(ctx context.Context, cfg *config.Config) (*store, error) {
	switch cfg.StoreDriver {
	case config.DriverSQLite:
		if err := ensureDir(cfg.DBPath); err != nil {
			return nil, err
		}
		db, err := sqliteRepo.New(cfg.DBPath)
		if err != nil {
			return nil, err
		}
		return &store{users: db.Users(), tasks: db.Tasks(), pinger: db, closer: db, name: config.DriverSQLite}, nil

	case config.DriverPostgres:
		db, err := postgresRepo.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return &store{users: db.Users(), tasks: db.Tasks(), pinger: db, closer: db, name: config.DriverPostgres}, nil

	case config.DriverMongo:
		db, err := mongoRepo.New(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, err
		}
		return &store{users: db.Users(), tasks: db.Tasks(), pinger: db, closer: db, name: config.DriverMongo}, nil
	}
	return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
}

// ensureDir creates the directory holding a sqlite file, like `mkdir -p`.
// In-memory paths have nothing to create.
func ensureDir(dbPath string) error {
	if dbPath == ":memory:" || strings.HasPrefix(dbPath, "file:") {
		return nil
	}
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating database directory %s: %w", dir, err)
	}
	return nil
}
