package mapping

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

type mappingRow struct {
	Kind          string `db:"kind"`
	SourceID      string `db:"source_id"`
	DestinationID string `db:"destination_id"`
}

// SQLiteBackend keeps every table in one mappings table and rewrites it
// wholesale inside a transaction on each Save.
type SQLiteBackend struct {
	db *sqlx.DB
}

func NewSQLiteBackend(path string) (*SQLiteBackend, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error creating directory %s: %w", dir, err)
		}
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	// sqlite serialises writers anyway; one connection avoids SQLITE_BUSY.
	db.SetMaxOpenConns(1)

	schema := `CREATE TABLE IF NOT EXISTS mappings (
		kind TEXT NOT NULL,
		source_id TEXT NOT NULL,
		destination_id TEXT NOT NULL,
		PRIMARY KEY (kind, source_id)
	);`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create mappings table: %w", err)
	}
	return &SQLiteBackend{db: db}, nil
}

func (b *SQLiteBackend) Load() (Snapshot, error) {
	var rows []mappingRow
	if err := b.db.Select(&rows, "SELECT kind, source_id, destination_id FROM mappings"); err != nil {
		return nil, fmt.Errorf("failed to read mappings: %w", err)
	}
	snap := make(Snapshot, len(Kinds))
	for _, row := range rows {
		kind, ok := ParseKind(row.Kind)
		if !ok {
			continue
		}
		if snap[kind] == nil {
			snap[kind] = make(map[string]string)
		}
		snap[kind][row.SourceID] = row.DestinationID
	}
	return snap, nil
}

func (b *SQLiteBackend) Save(snap Snapshot) error {
	tx, err := b.db.Beginx()
	if err != nil {
		return err
	}
	if _, err := tx.Exec("DELETE FROM mappings"); err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to clear mappings: %w", err)
	}
	stmt, err := tx.PrepareNamed(`INSERT INTO mappings (kind, source_id, destination_id)
		VALUES (:kind, :source_id, :destination_id)`)
	if err != nil {
		tx.Rollback()
		return err
	}
	defer stmt.Close()
	for _, kind := range Kinds {
		for src, dst := range snap[kind] {
			row := mappingRow{Kind: kind.String(), SourceID: src, DestinationID: dst}
			if _, err := stmt.Exec(row); err != nil {
				tx.Rollback()
				return fmt.Errorf("failed to insert %s mapping %s: %w", kind, src, err)
			}
		}
	}
	return tx.Commit()
}

func (b *SQLiteBackend) Close() error {
	return b.db.Close()
}
