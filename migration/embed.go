package migration

import (
	"database/sql"
	"embed"
	"path"

	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/pressly/goose/v3"
)

// FS holds the goose migrations, laid out as <dialect>/<database>/*.sql.
//
//go:embed postgresql sqlite
var FS embed.FS

const (
	DirPostgres = "postgresql"
	DirSQLite   = "sqlite"
)

// Dir returns the migration directory for a database driver, relative to FS.
func Dir(driver, database string) string {
	if driver == constant.DriverSQLite {
		return path.Join(DirSQLite, database)
	}
	return path.Join(DirPostgres, database)
}

// Dialect maps a database/sql driver name to its goose dialect.
func Dialect(driver string) string {
	if driver == constant.DriverSQLite {
		return "sqlite3"
	}
	return "postgres"
}

// Up applies every embedded migration for the database.
func Up(db *sql.DB, driver, database string) error {
	goose.SetBaseFS(FS)
	if err := goose.SetDialect(Dialect(driver)); err != nil {
		return err
	}

	return goose.Up(db, Dir(driver, database), goose.WithAllowMissing())
}
