package migrations

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	pg "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

// metaTable is deliberately not the golang-migrate default, so a
// hand-managed schema_migrations table from an older deployment never
// collides with it.
const metaTable = "schema_migrations_migrate"

// Run applies the file migrations under ./migrations. A database that
// predates migrate (schema present, metadata table absent) is first
// baselined to the newest migration version so Up does not replay DDL
// against existing tables.
func Run(databaseURL string) error {
	if databaseURL == "" {
		return fmt.Errorf("database URL is empty")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return fmt.Errorf("open db for migration: %w", err)
	}
	defer db.Close()

	driver, err := pg.WithInstance(db, &pg.Config{MigrationsTable: metaTable})
	if err != nil {
		return fmt.Errorf("build migrate driver: %w", err)
	}
	m, err := migrate.NewWithDatabaseInstance("file://migrations", "postgres", driver)
	if err != nil {
		return fmt.Errorf("build migrate instance: %w", err)
	}

	if tableExists(db, "matches") && !tableExists(db, metaTable) {
		if latest := latestVersion("migrations"); latest > 0 {
			log.Printf("[MIGRATE] Baselining existing schema to version %d", latest)
			if err := m.Force(int(latest)); err != nil {
				log.Printf("[MIGRATE] Baseline to %d failed: %v", latest, err)
			}
		}
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	log.Printf("[MIGRATE] Schema is current")
	return nil
}

func tableExists(db *sql.DB, name string) bool {
	var exists bool
	err := db.QueryRow(
		"SELECT EXISTS (SELECT 1 FROM information_schema.tables WHERE table_name = $1)", name,
	).Scan(&exists)
	return err == nil && exists
}

// latestVersion returns the highest numeric prefix among migration
// files ("000007_add_x.up.sql" counts as 7), or 0 when none parse.
func latestVersion(dir string) int64 {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	var max int64
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		prefix, _, ok := strings.Cut(e.Name(), "_")
		if !ok {
			continue
		}
		v, err := strconv.ParseInt(prefix, 10, 64)
		if err != nil {
			continue
		}
		if v > max {
			max = v
		}
	}
	return max
}
