package weather

import (
	"context"
	"time"
)

// Fetcher abstracts the historical weather archive. Implementations return
// observations sorted by timestamp and fail with an error wrapping ErrFetch.
type Fetcher interface {
	FetchHistorical(ctx context.Context, lat, lon float64, start, end time.Time) ([]Observation, error)
}

// Store hands out connection-bound sessions. Each session owns one pooled
// connection until Release is called.
type Store interface {
	Open(ctx context.Context) (Session, error)
}

// Session is the unit of persistence work of a pipeline run. Every method runs
// in its own transaction and fails with an error wrapping ErrPersistence or
// ErrConnection.
type Session interface {
	// LoadLocations upserts both sides of every pair and returns the
	// location id of every name.
	LoadLocations(ctx context.Context, pairs []LocationPair) (map[string]int64, error)
	// LoadTemperatureData upserts obs for one location and returns how many
	// rows were written.
	LoadTemperatureData(ctx context.Context, locationID int64, obs []Observation) (int, error)
	// RefreshViews recomputes every materialized view.
	RefreshViews(ctx context.Context) error
	// Release returns the connection. It is safe to call more than once.
	Release()
}
