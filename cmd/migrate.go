package cmd

import (
	"context"
	"fmt"
	"log"

	"github.com/pressly/goose/v3"
	"github.com/spf13/cobra"

	"github.com/frahmantamala/payment-gateway/db"
)

var (
	migrateCmd = &cobra.Command{
		RunE:  runMigration,
		Use:   "migrate",
		Short: "to run the embedded db migrations (orders and payments tables)",
	}
	migrateRollback bool
	migrateStatus   bool
)

func init() {
	migrateCmd.Flags().BoolVarP(&migrateRollback, "rollback", "r", false, "to rollback the latest version of sql migration")
	migrateCmd.Flags().BoolVar(&migrateStatus, "status", false, "print applied and pending migrations")
}

func gooseDialect(driver string) string {
	if driver == "sqlite3" {
		return "sqlite3"
	}
	return "postgres"
}

func runMigration(_ *cobra.Command, _ []string) error {
	ctx := context.Background()
	cfg, err := loadConfig(configPath)
	if err != nil {
		log.Fatal(err)
	}

	conn, err := goose.OpenDBWithDriver(cfg.Database.DriverName(), cfg.Database.GetDSN())
	if err != nil {
		log.Fatalf("goose: failed to open DB: %v\n", err)
	}
	defer conn.Close()

	goose.SetBaseFS(db.Migrations)
	goose.SetTableName("schema_migrations")
	if err := goose.SetDialect(gooseDialect(cfg.Database.DriverName())); err != nil {
		return fmt.Errorf("goose: %w", err)
	}

	switch {
	case migrateStatus:
		return goose.StatusContext(ctx, conn, db.MigrationsDir)
	case migrateRollback:
		if err := goose.DownContext(ctx, conn, db.MigrationsDir); err != nil {
			log.Fatalf("goose down: %v", err)
		}
	default:
		if err := goose.UpContext(ctx, conn, db.MigrationsDir); err != nil {
			log.Fatalf("goose up: %v", err)
		}
	}

	return nil
}
