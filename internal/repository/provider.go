package repository

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/docrag/internal/config"
)

const (
	dialectPostgres = "postgres"
	dialectSQLite   = "sqlite"
)

// New opens the metadata store selected by cfg: Postgres when a database URL
// is configured, otherwise an embedded SQLite file under LocalDir. The schema
// is applied on open.
func New(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*SQLRepository, error) {
	var (
		db      *sqlx.DB
		dialect string
		err     error
	)

	if cfg.Enabled() {
		dialect = dialectPostgres
		db, err = sqlx.Open("pgx", normalizeDatabaseURL(cfg.URL))
		if err != nil {
			return nil, fmt.Errorf("opening postgres: %w", err)
		}
		logger.Info("using postgres metadata store")
	} else {
		dialect = dialectSQLite
		if err := os.MkdirAll(cfg.LocalDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating local data dir: %w", err)
		}
		path := filepath.Join(cfg.LocalDir, "docrag.db")
		dsn := "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)"
		db, err = sqlx.Open("sqlite", dsn)
		if err != nil {
			return nil, fmt.Errorf("opening sqlite: %w", err)
		}
		// The embedded driver serializes writers; a single connection avoids
		// SQLITE_BUSY under concurrent ingestion.
		db.SetMaxOpenConns(1)
		logger.Info("using embedded sqlite metadata store", zap.String("path", path))
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging metadata store: %w", err)
	}
	if err := bootstrapSchema(ctx, db, dialect); err != nil {
		db.Close()
		return nil, err
	}
	return NewSQLRepository(db), nil
}

// normalizeDatabaseURL strips SQLAlchemy-style driver suffixes such as
// postgresql+psycopg:// so URLs copied from other deployments keep working.
func normalizeDatabaseURL(url string) string {
	scheme, rest, ok := strings.Cut(url, "://")
	if !ok {
		return url
	}
	if base, _, found := strings.Cut(scheme, "+"); found {
		scheme = base
	}
	return scheme + "://" + rest
}

// Close releases the underlying database handle.
func (r *SQLRepository) Close() error {
	if r.db == nil {
		return nil
	}
	return r.db.Close()
}
