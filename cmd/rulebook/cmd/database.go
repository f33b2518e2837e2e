package cmd

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/solatis/rulebook/internal/core/config"
	"github.com/solatis/rulebook/internal/core/db"
)

// openDatabase opens cfg.DatabaseURL and loads the named queries.
func openDatabase(cfg *config.ServiceConfig) (*sqlx.DB, *db.Queries, error) {
	database, err := db.Open(cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open database: %w", err)
	}

	queries, err := db.LoadQueries(database)
	if err != nil {
		database.Close()
		return nil, nil, fmt.Errorf("failed to load queries: %w", err)
	}
	return database, queries, nil
}

// requireMigrated fails when any embedded migration is not yet applied.
func requireMigrated(database *sqlx.DB) error {
	statuses, err := db.MigrateStatus(database)
	if err != nil {
		return fmt.Errorf("failed to check migrations: %w", err)
	}

	var pending []string
	for _, s := range statuses {
		if !s.Applied {
			pending = append(pending, s.ID)
		}
	}
	if len(pending) > 0 {
		return fmt.Errorf("pending migrations %s - run 'rulebook migrate up' first", strings.Join(pending, ", "))
	}
	return nil
}
