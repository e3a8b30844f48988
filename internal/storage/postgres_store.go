package storage

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"

	"github.com/likmaa/apk-tic-dev-dashboard/internal/models"
)

// PostgresActionLog appends cancel attempts to the ride_actions table
// (migrations/001_create_ride_actions.sql).
type PostgresActionLog struct {
	db *sql.DB
}

func NewPostgresActionLog(ctx context.Context, dsn string) (*PostgresActionLog, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresActionLog{db: db}, nil
}

func (p *PostgresActionLog) RecordCancel(ctx context.Context, a models.CancelAction) error {
	var errText sql.NullString
	if a.Error != "" {
		errText = sql.NullString{String: a.Error, Valid: true}
	}
	_, err := p.db.ExecContext(ctx, `INSERT INTO ride_actions(ride_id, action, succeeded, error, created_at) VALUES($1,$2,$3,$4,$5)`,
		a.RideID, "cancel", a.Succeeded, errText, a.At)
	if err != nil {
		return fmt.Errorf("insert ride action: %w", err)
	}
	return nil
}

// Migrate executes a schema file against the log's database.
func (p *PostgresActionLog) Migrate(ctx context.Context, schema string) error {
	_, err := p.db.ExecContext(ctx, schema)
	return err
}

func (p *PostgresActionLog) Close() error {
	return p.db.Close()
}
