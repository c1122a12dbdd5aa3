// Package persistence opens the account database and applies the embedded
// goose migrations.
package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"sync"

	auth "github.com/goliatone/go-credentials"
	goerrors "github.com/goliatone/go-errors"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

// Dialect names the SQL flavour behind a DSN
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite3"
	DialectPostgres Dialect = "postgres"
)

// DialectFor picks postgres for postgres:// URLs and sqlite otherwise
func DialectFor(dsn string) Dialect {
	lower := strings.ToLower(strings.TrimSpace(dsn))
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return DialectPostgres
	}
	return DialectSQLite
}

// Open connects to dsn and pings it
func Open(ctx context.Context, dsn string) (*bun.DB, error) {
	var (
		sqldb *sql.DB
		db    *bun.DB
		err   error
	)

	switch DialectFor(dsn) {
	case DialectPostgres:
		sqldb, err = sql.Open("pgx", dsn)
		if err != nil {
			return nil, openError(err, DialectPostgres)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	default:
		sqldb, err = sql.Open(sqliteshim.ShimName, dsn)
		if err != nil {
			return nil, openError(err, DialectSQLite)
		}
		// sqlite serialises writers, a single connection avoids SQLITE_BUSY
		// and keeps in-memory databases alive across queries.
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, openError(err, DialectFor(dsn))
	}
	return db, nil
}

func openError(err error, dialect Dialect) error {
	return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to open database").
		WithTextCode(auth.TextCodePersistenceFailure).
		WithMetadata(map[string]any{"dialect": string(dialect)})
}

// goose keeps its base filesystem and dialect in package state
var gooseMu sync.Mutex

type gooseLogger struct {
	logger auth.Logger
}

func (l gooseLogger) Printf(format string, v ...any) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

func (l gooseLogger) Fatalf(format string, v ...any) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, v...)))
}

// Migrate applies every pending migration from auth.GetMigrationsFS.
// Goose output goes to logger at debug level.
func Migrate(ctx context.Context, db *bun.DB, logger auth.Logger) error {
	_, logger = auth.ResolveLogger("persistence.migrations", nil, logger)

	migrations, err := fs.Sub(auth.GetMigrationsFS(), auth.MigrationsDir)
	if err != nil {
		return err
	}

	dialect := DialectSQLite
	if db.Dialect().Name().String() == "pg" {
		dialect = DialectPostgres
	}

	gooseMu.Lock()
	defer gooseMu.Unlock()

	goose.SetBaseFS(migrations)
	defer goose.SetBaseFS(nil)
	goose.SetLogger(gooseLogger{logger: logger})

	if err := goose.SetDialect(string(dialect)); err != nil {
		return err
	}
	if err := goose.UpContext(ctx, db.DB, "."); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to apply migrations").
			WithTextCode(auth.TextCodePersistenceFailure)
	}
	return nil
}

// OpenAndMigrate is Open followed by Migrate
func OpenAndMigrate(ctx context.Context, dsn string, logger auth.Logger) (*bun.DB, error) {
	db, err := Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	if err := Migrate(ctx, db, logger); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}
