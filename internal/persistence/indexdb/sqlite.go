package indexdb

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

var sqliteDialect = dialect{
	name: "sqlite",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		);`,
		`INSERT OR REPLACE INTO meta(key,value) VALUES('schema_version','1');`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			seed INTEGER NOT NULL,
			population INTEGER NOT NULL,
			horizon INTEGER NOT NULL,
			reman INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			days INTEGER NOT NULL,
			final_digest TEXT NOT NULL,
			profit REAL NOT NULL
		);`,
		`CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario, started_at);`,
		`CREATE TABLE IF NOT EXISTS ticks (
			run_id TEXT NOT NULL,
			day INTEGER NOT NULL,
			digest TEXT NOT NULL,
			potential INTEGER NOT NULL,
			wants_any INTEGER NOT NULL,
			wants_virgin INTEGER NOT NULL,
			wants_reman INTEGER NOT NULL,
			uses_virgin INTEGER NOT NULL,
			uses_reman INTEGER NOT NULL,
			core_stock REAL NOT NULL,
			stock_virgin REAL NOT NULL,
			stock_reman REAL NOT NULL,
			sold_virgin INTEGER NOT NULL,
			sold_reman INTEGER NOT NULL,
			cores_collected INTEGER NOT NULL,
			cores_rejected INTEGER NOT NULL,
			PRIMARY KEY (run_id, day)
		);`,
		`CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT PRIMARY KEY,
			json TEXT NOT NULL
		);`,
	},
}

// OpenSQLite opens (creating if needed) the run index at path.
func OpenSQLite(path string, logger *zap.Logger) (*Index, error) {
	if path == "" {
		return nil, fmt.Errorf("empty db path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initPragmas(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	x, err := open(db, sqliteDialect, logger, 65536)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return x, nil
}

func initPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		"PRAGMA temp_store=MEMORY;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return err
		}
	}
	return nil
}
