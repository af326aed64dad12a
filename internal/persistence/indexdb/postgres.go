package indexdb

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"go.uber.org/zap"
)

var postgresDialect = dialect{
	name:    "postgres",
	bindvar: func(n int) string { return "$" + strconv.Itoa(n) },
	schema: []string{
		`CREATE TABLE IF NOT EXISTS meta (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`INSERT INTO meta(key,value) VALUES('schema_version','1') ON CONFLICT(key) DO UPDATE SET value=excluded.value`,
		`CREATE TABLE IF NOT EXISTS runs (
			run_id TEXT PRIMARY KEY,
			scenario TEXT NOT NULL,
			seed BIGINT NOT NULL,
			population INTEGER NOT NULL,
			horizon INTEGER NOT NULL,
			reman INTEGER NOT NULL,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			days INTEGER NOT NULL,
			final_digest TEXT NOT NULL,
			profit DOUBLE PRECISION NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_scenario ON runs(scenario, started_at)`,
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
			core_stock DOUBLE PRECISION NOT NULL,
			stock_virgin DOUBLE PRECISION NOT NULL,
			stock_reman DOUBLE PRECISION NOT NULL,
			sold_virgin INTEGER NOT NULL,
			sold_reman INTEGER NOT NULL,
			cores_collected INTEGER NOT NULL,
			cores_rejected INTEGER NOT NULL,
			PRIMARY KEY (run_id, day)
		)`,
		`CREATE TABLE IF NOT EXISTS reports (
			run_id TEXT PRIMARY KEY,
			json JSONB NOT NULL
		)`,
	},
}

// OpenPostgres connects to dsn through the pgx driver and ensures the schema.
func OpenPostgres(ctx context.Context, dsn string, logger *zap.Logger) (*Index, error) {
	if dsn == "" {
		return nil, fmt.Errorf("empty postgres dsn")
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	db.SetMaxOpenConns(4)
	x, err := open(db, postgresDialect, logger, 65536)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return x, nil
}
