package store

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/heat-island-pipeline/internal/database"
	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

func newMockConn(t *testing.T) (*database.Conn, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	raw, err := db.Conn(context.Background())
	require.NoError(t, err)
	t.Cleanup(func() { raw.Close() })

	conn, err := database.NewConn(raw)
	require.NoError(t, err)
	return conn, mock
}

// hourly returns n consecutive hourly observations starting at start.
func hourly(start time.Time, n int, full bool) []weather.Observation {
	obs := make([]weather.Observation, n)
	for i := range obs {
		obs[i] = weather.Observation{
			Timestamp:   start.Add(time.Duration(i) * time.Hour),
			Temperature: 30 + float64(i)/10,
		}
		if full {
			h, p := 20.0+float64(i), 1010.0
			obs[i].Humidity = &h
			obs[i].Pressure = &p
		}
	}
	return obs
}

func expectPartitionExists(mock sqlmock.Sqlmock, name string, exists bool) {
	mock.ExpectQuery(`SELECT EXISTS \(\s*SELECT 1 FROM pg_catalog.pg_tables`).
		WithArgs(name).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(exists))
}
