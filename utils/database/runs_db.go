package database

import (
	"discord-mirror/model"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
)

// InitRunsDB opens the resync history database and ensures the table exists.
func InitRunsDB(dbPath string) (*sqlx.DB, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("error creating directory %s: %w", dir, err)
		}
	}
	db, err := sqlx.Connect("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to runs database: %w", err)
	}
	db.SetMaxOpenConns(1)

	schema := `
    CREATE TABLE IF NOT EXISTS resync_runs (
        id INTEGER PRIMARY KEY AUTOINCREMENT,
        source_guild_id TEXT NOT NULL,
        destination_guild_id TEXT NOT NULL,
        invoker_id TEXT NOT NULL,
        status TEXT NOT NULL,
        created INTEGER NOT NULL DEFAULT 0,
        failed INTEGER NOT NULL DEFAULT 0,
        summary TEXT NOT NULL DEFAULT '',
        error TEXT NOT NULL DEFAULT '',
        started_at DATETIME NOT NULL,
        finished_at DATETIME NOT NULL
    );`

	if _, err = db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create resync_runs table: %w", err)
	}
	return db, nil
}

// AddRun records a finished run and returns its ID.
func AddRun(db *sqlx.DB, run model.ResyncRun) (int64, error) {
	query := `INSERT INTO resync_runs (source_guild_id, destination_guild_id, invoker_id, status, created, failed, summary, error, started_at, finished_at)
              VALUES (:source_guild_id, :destination_guild_id, :invoker_id, :status, :created, :failed, :summary, :error, :started_at, :finished_at)`

	result, err := db.NamedExec(query, run)
	if err != nil {
		return 0, fmt.Errorf("failed to insert resync run: %w", err)
	}
	return result.LastInsertId()
}

// RecentRuns returns up to limit runs, newest first.
func RecentRuns(db *sqlx.DB, limit int) ([]model.ResyncRun, error) {
	var runs []model.ResyncRun
	if err := db.Select(&runs, "SELECT * FROM resync_runs ORDER BY id DESC LIMIT ?", limit); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// PruneRuns keeps only the newest keep runs.
func PruneRuns(db *sqlx.DB, keep int) (int64, error) {
	query := "DELETE FROM resync_runs WHERE id NOT IN (SELECT id FROM resync_runs ORDER BY id DESC LIMIT ?)"
	result, err := db.Exec(query, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to prune runs: %w", err)
	}
	return result.RowsAffected()
}
