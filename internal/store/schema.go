package store

import (
	"database/sql"
	"fmt"
)

const schemaVersion = 1

func initSchema(db *sql.DB) error {
	var version int
	err := db.QueryRow("PRAGMA user_version").Scan(&version)
	if err != nil {
		return fmt.Errorf("failed to get schema version: %w", err)
	}

	if version == schemaVersion {
		return nil
	}

	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	// older layouts are dropped, not migrated
	queries := []string{
		`DROP TABLE IF EXISTS bibfiles`,

		// One row per bibliography file
		// - mod_time: unix nanoseconds of the file when it was parsed
		// - checksum: sha256 of the parsed bytes
		// - records: zstd compressed JSON array of records
		`CREATE TABLE bibfiles (
            path TEXT PRIMARY KEY,
            mod_time INTEGER NOT NULL,
            checksum BLOB NOT NULL,
            records BLOB NOT NULL
        )`,
	}
	for _, query := range queries {
		if _, err := tx.Exec(query); err != nil {
			return fmt.Errorf("failed to execute query %q: %w", query, err)
		}
	}

	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return fmt.Errorf("failed to update schema version: %w", err)
	}

	return tx.Commit()
}
