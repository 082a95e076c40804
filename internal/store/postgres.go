package store

import (
	"context"
	"sync"

	"github.com/i474232898/heat-island-pipeline/internal/database"
	"github.com/i474232898/heat-island-pipeline/internal/log"
	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

// Postgres is the weather.Store backed by the connection pool.
type Postgres struct {
	pool   *database.Pool
	loader *Loader
	views  *ViewRefresher
}

// NewPostgres wires the loader and view refresher to pool.
func NewPostgres(pool *database.Pool, loader *Loader, views *ViewRefresher) *Postgres {
	return &Postgres{pool: pool, loader: loader, views: views}
}

// Open checks out a connection and binds a session to it.
func (s *Postgres) Open(ctx context.Context) (weather.Session, error) {
	conn, err := s.pool.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	return &session{store: s, conn: conn}, nil
}

type session struct {
	store *Postgres
	conn  *database.Conn
	once  sync.Once
}

func (s *session) LoadLocations(ctx context.Context, pairs []weather.LocationPair) (map[string]int64, error) {
	return s.store.loader.LoadLocations(ctx, s.conn, pairs)
}

func (s *session) LoadTemperatureData(ctx context.Context, locationID int64, obs []weather.Observation) (int, error) {
	return s.store.loader.LoadTemperatureData(ctx, s.conn, locationID, obs)
}

func (s *session) RefreshViews(ctx context.Context) error {
	res, err := s.store.views.RefreshAll(ctx, s.conn)
	if err != nil {
		return err
	}
	log.Infow("materialized views refreshed", "refreshed", res.Refreshed, "skipped", res.Skipped)
	return nil
}

func (s *session) Release() {
	s.once.Do(func() {
		s.store.pool.Release(s.conn)
	})
}
