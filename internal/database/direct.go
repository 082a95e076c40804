package database

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"

	"github.com/i474232898/heat-island-pipeline/internal/config"
	"github.com/i474232898/heat-island-pipeline/internal/log"
	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

// OpenDirect opens a non-pooled connection for one-off administrative work.
// It bypasses Pool entirely and is closed by the caller.
func OpenDirect(ctx context.Context, cfg config.DBConfig) (*sql.DB, error) {
	log.Infof("creating direct connection to database %s on %s:%s", cfg.Name, cfg.Host, cfg.Port)

	connector, err := pq.NewConnector(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", weather.ErrConfiguration, err)
	}

	db := sql.OpenDB(connector)
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: %s:%s: %v", weather.ErrConnection, cfg.Host, cfg.Port, err)
	}
	return db, nil
}
