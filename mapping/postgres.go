package mapping

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "github.com/lib/pq"
)

const (
	postgresTableName        = "mirror_mapping_state"
	postgresStateKey         = "default"
	postgresOperationTimeout = 5 * time.Second
)

// PostgresBackend stores the JSON-encoded snapshot in a single upserted row.
type PostgresBackend struct {
	dsn    string
	openDB func(driverName, dsn string) (*sql.DB, error)

	initOnce sync.Once
	initErr  error
	db       *sql.DB
}

func NewPostgresBackend(dsn string) (*PostgresBackend, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	return &PostgresBackend{dsn: dsn, openDB: sql.Open}, nil
}

func (b *PostgresBackend) ensureReady() error {
	b.initOnce.Do(func() {
		db, err := b.openDB("postgres", b.dsn)
		if err != nil {
			b.initErr = err
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
		defer cancel()
		_, err = db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS `+postgresTableName+` (
			state_key TEXT PRIMARY KEY,
			snapshot TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)`)
		if err != nil {
			db.Close()
			b.initErr = fmt.Errorf("failed to create %s: %w", postgresTableName, err)
			return
		}
		b.db = db
	})
	return b.initErr
}

func (b *PostgresBackend) Load() (Snapshot, error) {
	if err := b.ensureReady(); err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	var payload string
	err := b.db.QueryRowContext(ctx, "SELECT snapshot FROM "+postgresTableName+" WHERE state_key = $1", postgresStateKey).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, nil
	}
	if err != nil {
		return nil, err
	}
	return decodeSnapshot([]byte(payload))
}

func (b *PostgresBackend) Save(snap Snapshot) error {
	if err := b.ensureReady(); err != nil {
		return err
	}
	payload, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), postgresOperationTimeout)
	defer cancel()

	_, err = b.db.ExecContext(ctx, `
		INSERT INTO `+postgresTableName+` (state_key, snapshot, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (state_key)
		DO UPDATE SET snapshot = EXCLUDED.snapshot, updated_at = NOW()`, postgresStateKey, string(payload))
	return err
}

func (b *PostgresBackend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
