package bootstrap

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/guregu/null/v6"
	"github.com/krobus00/market-gateway/internal/config"
	"github.com/krobus00/market-gateway/internal/constant"
	"github.com/krobus00/market-gateway/internal/infrastructure"
	"github.com/krobus00/market-gateway/internal/util"
	"github.com/krobus00/market-gateway/migration"
	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"
)

func StartMigrate(cmd *cobra.Command, args []string) {
	databaseName, _ := cmd.Flags().GetString("databaseName")
	actionType, _ := cmd.Flags().GetString("action")
	migrationName, _ := cmd.Flags().GetString("name")
	version, _ := cmd.Flags().GetInt64("version")

	dbConfig, ok := config.Env.Database[databaseName]
	if !ok {
		util.ContinueOrFatal(errors.New("unknown database: " + databaseName))
	}

	driver := strings.TrimSpace(dbConfig.Driver)
	if driver == "" {
		driver = constant.DriverPostgres
	}
	migrationDir := migration.Dir(driver, databaseName)

	err := goose.SetDialect(migration.Dialect(driver))
	util.ContinueOrFatal(err)

	// new files go to the source tree, everything else runs from the embedded set
	if actionType == "create" {
		err = goose.Create(nil, filepath.Join("migration", migrationDir), migrationName, "sql")
		util.ContinueOrFatal(err)
		return
	}
	goose.SetBaseFS(migration.FS)

	db, err := infrastructure.NewDatabaseConnection(cmd.Context(), dbConfig)
	util.ContinueOrFatal(err)
	defer db.Close()

	switch actionType {
	case "up":
		err = goose.Up(db.DB, migrationDir, goose.WithAllowMissing())
	case "up-by-one":
		err = goose.UpByOne(db.DB, migrationDir, goose.WithAllowMissing())
	case "up-to":
		err = goose.UpTo(db.DB, migrationDir, null.IntFrom(version).Int64, goose.WithAllowMissing())
	case "down":
		err = goose.Down(db.DB, migrationDir, goose.WithAllowMissing())
	case "down-to":
		err = goose.DownTo(db.DB, migrationDir, null.IntFrom(version).Int64, goose.WithAllowMissing())
	case "status":
		err = goose.Status(db.DB, migrationDir)
	case "reset":
		err = goose.Reset(db.DB, migrationDir, goose.WithAllowMissing())
		if err != nil {
			break
		}
		err = goose.Up(db.DB, migrationDir, goose.WithAllowMissing())
	default:
		err = errors.New("invalid command")
	}

	util.ContinueOrFatal(err)
}
