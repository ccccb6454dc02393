package db

import (
	_ "embed"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

//go:embed schema.sql
var schemaSQL string

// RunMigrations applies schema.sql statement by statement. Every statement is
// idempotent, so it is safe to run on each start.
func RunMigrations(conn *sqlx.DB) error {
	for _, stmt := range strings.Split(schemaSQL, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}

		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("db.RunMigrations: %w", err)
		}
	}

	return nil
}
