package internal

import (
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog/log"
)

// CreateSchema creates the queue table and its indexes if they do not exist.
func CreateSchema(db *sqlx.DB) error {
	log.Debug().Msg("creating schema")
	d, err := GetDialect(db.DriverName())
	if err != nil {
		return fmt.Errorf("error retrieving schema: %w", err)
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback()
	for _, stmt := range d.Schema {
		if _, err := tx.Exec(stmt); err != nil {
			return fmt.Errorf("failed to exec stmt %s: %w", strings.Split(stmt, "(")[0], err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit tx: %w", err)
	}
	log.Debug().Msg("schema created")
	return nil
}
