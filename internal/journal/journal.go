// Copyright (c) 2025 ToeiRei
// Keyturn - SSH key rotation tool
// This source code is licensed under the MIT license found in the LICENSE file.

// package journal records every rotation attempt in a small database,
// so an operator can answer "when was this relationship last rotated,
// and with which key" without shelling into the remote host. It
// abstracts the underlying database (SQLite, PostgreSQL or MySQL)
// behind package-level helpers.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/mysqldialect"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/toeirei/keyturn/internal/model"

	// SQL drivers required at runtime and in tests.
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

var (
	db *bun.DB
	// sqlOpenFunc allows tests to override database opening behavior.
	sqlOpenFunc = sql.Open
)

// Init opens the journal database for the given type and DSN and
// creates the rotations table when it does not exist yet.
func Init(dbType, dsn string) error {
	driverName := dbType
	// The pgx stdlib registers driver name "pgx"; map "postgres" to that driver.
	if dbType == "postgres" {
		driverName = "pgx"
	}
	sqlDB, err := sqlOpenFunc(driverName, dsn)
	if err != nil {
		return fmt.Errorf("failed to open journal database: %w", err)
	}

	// In-memory SQLite keeps one database per connection; force a single
	// connection so the schema stays visible. Tests rely on ":memory:".
	if dbType == "sqlite" && dsn == ":memory:" {
		sqlDB.SetMaxOpenConns(1)
		sqlDB.SetMaxIdleConns(1)
	}

	var bunDB *bun.DB
	switch dbType {
	case "sqlite":
		bunDB = bun.NewDB(sqlDB, sqlitedialect.New())
	case "postgres":
		bunDB = bun.NewDB(sqlDB, pgdialect.New())
	case "mysql":
		bunDB = bun.NewDB(sqlDB, mysqldialect.New())
	default:
		_ = sqlDB.Close()
		return fmt.Errorf("unsupported journal database type: %q", dbType)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if _, err := bunDB.NewCreateTable().Model((*model.RotationRecord)(nil)).IfNotExists().Exec(ctx); err != nil {
		_ = bunDB.Close()
		return fmt.Errorf("failed to create rotations table: %w", err)
	}

	db = bunDB
	return nil
}

// IsInitialized reports whether Init has succeeded.
func IsInitialized() bool {
	return db != nil
}

// Close releases the database handle.
func Close() error {
	if db == nil {
		return nil
	}
	err := db.Close()
	db = nil
	return err
}

// Record appends one rotation attempt to the journal.
func Record(ctx context.Context, rec *model.RotationRecord) error {
	if db == nil {
		return fmt.Errorf("journal is not initialized")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if _, err := db.NewInsert().Model(rec).Exec(ctx); err != nil {
		return fmt.Errorf("failed to record rotation: %w", err)
	}
	return nil
}

// List returns the most recent rotations, newest first. A limit of 0
// returns everything.
func List(ctx context.Context, limit int) ([]model.RotationRecord, error) {
	if db == nil {
		return nil, fmt.Errorf("journal is not initialized")
	}
	var recs []model.RotationRecord
	q := db.NewSelect().Model(&recs).Order("issued_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list rotations: %w", err)
	}
	return recs, nil
}

// ForRelationship returns the recorded rotations for one relationship,
// newest first. A limit of 0 returns everything.
func ForRelationship(ctx context.Context, relationshipID string, limit int) ([]model.RotationRecord, error) {
	if db == nil {
		return nil, fmt.Errorf("journal is not initialized")
	}
	var recs []model.RotationRecord
	q := db.NewSelect().Model(&recs).
		Where("relationship_id = ?", relationshipID).
		Order("issued_at DESC", "id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to query rotations for %s: %w", relationshipID, err)
	}
	return recs, nil
}

// Latest returns the newest successful rotation for a relationship, or
// nil when none is recorded.
func Latest(ctx context.Context, relationshipID string) (*model.RotationRecord, error) {
	if db == nil {
		return nil, fmt.Errorf("journal is not initialized")
	}
	rec := new(model.RotationRecord)
	err := db.NewSelect().Model(rec).
		Where("relationship_id = ?", relationshipID).
		Where("outcome = ?", "rotated").
		Order("issued_at DESC", "id DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query latest rotation for %s: %w", relationshipID, err)
	}
	return rec, nil
}

// Export snapshots the whole journal for backup.
func Export(ctx context.Context) (*model.BackupData, error) {
	recs, err := List(ctx, 0)
	if err != nil {
		return nil, err
	}
	return &model.BackupData{ExportedAt: time.Now().UTC(), Rotations: recs}, nil
}

// Import inserts backed-up records, skipping rows whose relationship
// and issuance are already present so that a restore converges instead
// of duplicating.
func Import(ctx context.Context, data *model.BackupData) error {
	if db == nil {
		return fmt.Errorf("journal is not initialized")
	}
	for i := range data.Rotations {
		rec := data.Rotations[i]
		rec.ID = 0
		exists, err := db.NewSelect().Model((*model.RotationRecord)(nil)).
			Where("relationship_id = ?", rec.RelationshipID).
			Where("issued_at = ?", rec.IssuedAt).
			Exists(ctx)
		if err != nil {
			return fmt.Errorf("failed to check for existing record: %w", err)
		}
		if exists {
			continue
		}
		if _, err := db.NewInsert().Model(&rec).Exec(ctx); err != nil {
			return fmt.Errorf("failed to import rotation record: %w", err)
		}
	}
	return nil
}
