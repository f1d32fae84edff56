package kssqlite

import (
	"context"
	"database/sql"
	"fmt"
)

func migrate(ctx context.Context, db *sql.DB) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(
		ctx,
		`CREATE TABLE IF NOT EXISTS migrations(
  id INTEGER PRIMARY KEY CHECK (id = 0),
  version INTEGER
);`,
	); err != nil {
		return fmt.Errorf("error getting initial migrations table: %w", err)
	}

	if _, err := tx.ExecContext(
		ctx,
		`INSERT OR IGNORE INTO migrations(id, version) VALUES (0, 0)`,
	); err != nil {
		return fmt.Errorf("error setting initial migration version: %w", err)
	}

	row := tx.QueryRowContext(ctx, `SELECT version FROM migrations WHERE id=0;`)

	var migrationVersion int
	if err := row.Scan(&migrationVersion); err != nil {
		return fmt.Errorf("failed to scan migration version: %w", err)
	}

	if err := migrateFrom(ctx, tx, migrationVersion); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit failed: %w", err)
	}

	return nil
}

func migrateFrom(ctx context.Context, tx *sql.Tx, version int) error {
	switch version {
	case 0:
		if err := migrateInitial(ctx, tx); err != nil {
			return fmt.Errorf("initial migration: %w", err)
		}
		if err := setMigrationVersion(ctx, tx, 1); err != nil {
			return err
		}
	case 1:
		// Up to date.
		return nil
	default:
		return fmt.Errorf("unknown migration version %d", version)
	}

	// If we didn't return inside the above switch statement,
	// then we did something with migrations.
	// According to https://sqlite.org/pragma.html#pragma_optimize,
	// "All applications should run `PRAGMA optimize;` after a schema change,
	// especially after one or more CREATE INDEX statements."
	// Creating tables is a schema change, so here we go.
	if _, err := tx.ExecContext(ctx, "PRAGMA optimize"); err != nil {
		return fmt.Errorf("failed to run PRAGMA optimize after migration: %w", err)
	}

	return nil
}

func setMigrationVersion(ctx context.Context, tx *sql.Tx, version int) error {
	if _, err := tx.ExecContext(
		ctx,
		`UPDATE migrations SET version = ? WHERE id = 0;`,
		version,
	); err != nil {
		return fmt.Errorf("failed to set migration version to %d: %w", version, err)
	}
	return nil
}

func migrateInitial(ctx context.Context, tx *sql.Tx) error {
	_, err := tx.ExecContext(
		ctx,
		`
CREATE TABLE finalizations(
  height INTEGER PRIMARY KEY,
  round INTEGER NOT NULL,
  block_hash BLOB NOT NULL,
  app_state_hash BLOB NOT NULL,
  val_epoch INTEGER NOT NULL
);

CREATE TABLE finalization_validators(
  height INTEGER NOT NULL,
  idx INTEGER NOT NULL,
  pub_key BLOB NOT NULL,
  power INTEGER NOT NULL,
  PRIMARY KEY (height, idx),
  FOREIGN KEY (height) REFERENCES finalizations(height)
);

CREATE TABLE committed_blocks(
  height INTEGER PRIMARY KEY,
  header BLOB NOT NULL,
  qc BLOB NOT NULL
);

CREATE TABLE evidence(
  height INTEGER NOT NULL,
  round INTEGER NOT NULL,
  kind INTEGER NOT NULL,
  pub_key BLOB NOT NULL,
  first_hash BLOB NOT NULL,
  second_hash BLOB NOT NULL,
  UNIQUE (height, round, kind, pub_key, first_hash, second_hash)
);
CREATE INDEX evidence_height_idx ON evidence(height);

CREATE TABLE relay_sequences(
  chain_id TEXT NOT NULL,
  account TEXT NOT NULL,
  seq INTEGER NOT NULL,
  PRIMARY KEY (chain_id, account)
);
`,
	)
	if err != nil {
		return fmt.Errorf("failed to create initial tables: %w", err)
	}
	return nil
}
