package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"remansim/internal/persistence/indexdb"
)

// openRunIndex opens the backend named by REMANSIM_INDEX_BACKEND. A nil index
// with a nil error means indexing is disabled.
func openRunIndex(ctx context.Context, dataDir string, logger *zap.Logger) (*indexdb.Index, error) {
	backend := strings.ToLower(strings.TrimSpace(os.Getenv("REMANSIM_INDEX_BACKEND")))
	if backend == "" {
		backend = "sqlite"
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "sqlite":
		return indexdb.OpenSQLite(filepath.Join(dataDir, "index", "runs.sqlite"), logger)
	case "postgres", "pg":
		dsn := strings.TrimSpace(os.Getenv("REMANSIM_INDEX_PG_URL"))
		if dsn == "" {
			return nil, fmt.Errorf("REMANSIM_INDEX_BACKEND=%s but REMANSIM_INDEX_PG_URL is empty", backend)
		}
		return indexdb.OpenPostgres(ctx, dsn, logger)
	default:
		return nil, fmt.Errorf("unsupported REMANSIM_INDEX_BACKEND: %s", backend)
	}
}
