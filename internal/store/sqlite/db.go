// Package sqlite stores candle history and the pattern match journal.
package sqlite

import (
	"database/sql"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

// migrations are applied in order; PRAGMA user_version records how many ran.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS candles_tf (
		token    TEXT    NOT NULL,
		exchange TEXT    NOT NULL,
		tf       INTEGER NOT NULL,
		ts       INTEGER NOT NULL,
		open     INTEGER NOT NULL,
		high     INTEGER NOT NULL,
		low      INTEGER NOT NULL,
		close    INTEGER NOT NULL,
		volume   INTEGER,
		count    INTEGER,
		PRIMARY KEY (exchange, token, tf, ts)
	)`,
	`CREATE TABLE IF NOT EXISTS pattern_matches (
		pattern     TEXT    NOT NULL,
		direction   TEXT    NOT NULL,
		token       TEXT    NOT NULL,
		exchange    TEXT    NOT NULL,
		tf          INTEGER NOT NULL,
		ts          INTEGER NOT NULL,
		close       REAL    NOT NULL,
		detected_at INTEGER NOT NULL,
		PRIMARY KEY (exchange, token, tf, ts, pattern)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_pattern_matches_pattern_ts ON pattern_matches (pattern, ts)`,
	`CREATE INDEX IF NOT EXISTS idx_pattern_matches_tf_ts ON pattern_matches (tf, ts)`,
}

func openDB(path string, conns int) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open %s: %w", path, err)
	}
	db.SetMaxOpenConns(conns)
	db.SetMaxIdleConns(conns)
	return db, nil
}

// migrate brings the schema up to date and returns the resulting version.
func migrate(db *sql.DB) (int, error) {
	var version int
	if err := db.QueryRow(`PRAGMA user_version`).Scan(&version); err != nil {
		return 0, fmt.Errorf("read schema version: %w", err)
	}
	for version < len(migrations) {
		tx, err := db.Begin()
		if err != nil {
			return version, err
		}
		if _, err := tx.Exec(migrations[version]); err != nil {
			tx.Rollback()
			return version, fmt.Errorf("migration %d: %w", version+1, err)
		}
		// PRAGMA does not accept bound parameters.
		if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d`, version+1)); err != nil {
			tx.Rollback()
			return version, fmt.Errorf("migration %d: %w", version+1, err)
		}
		if err := tx.Commit(); err != nil {
			return version, fmt.Errorf("migration %d: %w", version+1, err)
		}
		version++
	}
	return version, nil
}
