package pipeline

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

var phoenixBuckeye = weather.LocationPair{
	UrbanName: "Phoenix", UrbanLat: 33.4484, UrbanLon: -112.0740,
	RuralName: "Buckeye", RuralLat: 33.3705, RuralLon: -112.5838,
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestRunPhoenixBuckeye(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStore()
	p := New(fetcher, store, []weather.LocationPair{phoenixBuckeye})

	day := date(2024, time.June, 1)
	report := p.Run(context.Background(), Request{Date: &day, DaysBack: 1})

	require.Equal(t, StatusSuccess, report.Status, report.Error)
	require.Len(t, report.LocationPairs, 1)
	pr := report.LocationPairs[0]
	assert.Equal(t, "Phoenix", pr.UrbanName)
	assert.Equal(t, "Buckeye", pr.RuralName)
	assert.Equal(t, 24, pr.UrbanRecords)
	assert.Equal(t, 24, pr.RuralRecords)
	assert.Equal(t, StatusSuccess, pr.Status)
	assert.Empty(t, pr.Error)

	assert.Equal(t, 48, report.TotalRecords)
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 0, report.ErrorCount)
	assert.Equal(t, day, report.DateRange.Start)
	assert.Equal(t, day, report.DateRange.End)
	assert.NotEmpty(t, report.RunID)
	assert.NoError(t, report.Err())

	assert.Equal(t, 24, store.rowCount("Phoenix"))
	assert.Equal(t, 24, store.rowCount("Buckeye"))
	assert.Equal(t, store.ids["Phoenix"], store.urbanRef["Buckeye"])
	assert.Equal(t, 1, store.refreshes)
	assert.Equal(t, store.opened, store.released)
}

func TestRunIsIdempotent(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStore()
	p := New(fetcher, store, []weather.LocationPair{phoenixBuckeye})
	day := date(2024, time.June, 1)

	first := p.Run(context.Background(), Request{Date: &day, DaysBack: 2})
	second := p.Run(context.Background(), Request{Date: &day, DaysBack: 2})

	assert.Equal(t, first.TotalRecords, second.TotalRecords)
	assert.NotEqual(t, first.RunID, second.RunID)
	assert.Equal(t, 48, store.rowCount("Phoenix"))
}

func TestRunIsolatesPairFailures(t *testing.T) {
	pairs := testPairs(3)
	fetcher := newFakeFetcher()
	fetcher.failAt(pairs[1].RuralLat, pairs[1].RuralLon, errUpstream)
	store := newFakeStore()

	day := date(2024, time.June, 1)
	report := New(fetcher, store, pairs).Run(context.Background(), Request{Date: &day, DaysBack: 1})

	assert.Equal(t, StatusError, report.Status)
	assert.Empty(t, report.Error)
	assert.Equal(t, 2, report.SuccessCount)
	assert.Equal(t, 1, report.ErrorCount)
	assert.Equal(t, 96, report.TotalRecords)

	require.Len(t, report.LocationPairs, 3)
	assert.Equal(t, StatusSuccess, report.LocationPairs[0].Status)
	assert.Equal(t, StatusError, report.LocationPairs[1].Status)
	assert.Contains(t, report.LocationPairs[1].Error, "Town1")
	assert.Contains(t, report.LocationPairs[1].Error, "upstream 503")
	assert.Equal(t, StatusSuccess, report.LocationPairs[2].Status)

	// the later pair was still processed
	assert.Equal(t, 24, store.rowCount("City2"))
	assert.Equal(t, 1, store.refreshes)

	err := report.Err()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "City1/Town1")
}

func TestRunKeepsPartialCountsOfFailedPair(t *testing.T) {
	store := newFakeStore()
	store.loadErr["Buckeye"] = errors.New("constraint violation")

	day := date(2024, time.June, 1)
	report := New(newFakeFetcher(), store, []weather.LocationPair{phoenixBuckeye}).
		Run(context.Background(), Request{Date: &day, DaysBack: 1})

	require.Len(t, report.LocationPairs, 1)
	pr := report.LocationPairs[0]
	assert.Equal(t, StatusError, pr.Status)
	assert.Equal(t, 24, pr.UrbanRecords)
	assert.Equal(t, 0, pr.RuralRecords)
	assert.Equal(t, 0, report.TotalRecords)
	assert.Equal(t, 0, store.refreshes)
}

func TestRunRecoversFromPairPanic(t *testing.T) {
	pairs := testPairs(2)
	fetcher := newFakeFetcher()
	fetcher.panics[[2]float64{pairs[0].UrbanLat, pairs[0].UrbanLon}] = true

	day := date(2024, time.June, 1)
	report := New(fetcher, newFakeStore(), pairs).Run(context.Background(), Request{Date: &day, DaysBack: 1})

	require.Len(t, report.LocationPairs, 2)
	assert.Equal(t, StatusError, report.LocationPairs[0].Status)
	assert.Contains(t, report.LocationPairs[0].Error, "panic")
	assert.Equal(t, StatusSuccess, report.LocationPairs[1].Status)
}

func TestRunSkipsRefreshWhenNothingLoaded(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.failAt(phoenixBuckeye.UrbanLat, phoenixBuckeye.UrbanLon, errUpstream)
	store := newFakeStore()

	report := New(fetcher, store, []weather.LocationPair{phoenixBuckeye}).Run(context.Background(), Request{})

	assert.Equal(t, StatusError, report.Status)
	assert.Equal(t, 0, report.TotalRecords)
	assert.Equal(t, 0, store.refreshes)
	assert.Equal(t, 1, store.released)
}

func TestRunSessionFailureIsRunLevelError(t *testing.T) {
	fetcher := newFakeFetcher()
	store := newFakeStore()
	store.openErr = weather.ErrPoolExhausted

	report := New(fetcher, store, []weather.LocationPair{phoenixBuckeye}).Run(context.Background(), Request{})

	assert.Equal(t, StatusError, report.Status)
	assert.Contains(t, report.Error, "connection pool exhausted")
	assert.Empty(t, report.LocationPairs)
	assert.Empty(t, fetcher.calls)
	assert.Error(t, report.Err())
}

func TestRunRefreshFailureIsRunLevelError(t *testing.T) {
	store := newFakeStore()
	store.refreshErr = errors.New("lock timeout")

	report := New(newFakeFetcher(), store, []weather.LocationPair{phoenixBuckeye}).Run(context.Background(), Request{})

	assert.Equal(t, StatusError, report.Status)
	assert.Contains(t, report.Error, "lock timeout")
	assert.Equal(t, 1, report.SuccessCount)
	assert.Equal(t, 1, store.released)
}

func TestRunDefaultWindow(t *testing.T) {
	fetcher := newFakeFetcher()
	now := time.Date(2024, time.June, 10, 15, 30, 0, 0, time.UTC)
	p := New(fetcher, newFakeStore(), []weather.LocationPair{phoenixBuckeye}, WithClock(fixedClock(now)))

	report := p.Run(context.Background(), Request{})

	assert.Equal(t, date(2024, time.June, 7), report.DateRange.Start)
	assert.Equal(t, date(2024, time.June, 9), report.DateRange.End)
	require.NotEmpty(t, fetcher.calls)
	assert.Equal(t, date(2024, time.June, 7), fetcher.calls[0].start)
	assert.Equal(t, date(2024, time.June, 9), fetcher.calls[0].end)
	assert.Equal(t, 0.0, report.DurationSeconds)
}

func TestRunLookbackOption(t *testing.T) {
	now := time.Date(2024, time.June, 10, 0, 0, 0, 0, time.UTC)
	p := New(newFakeFetcher(), newFakeStore(), []weather.LocationPair{phoenixBuckeye},
		WithClock(fixedClock(now)), WithLookbackDays(7))

	report := p.Run(context.Background(), Request{})
	assert.Equal(t, 7, report.DateRange.Days())

	report = p.Run(context.Background(), Request{DaysBack: 1})
	assert.Equal(t, 1, report.DateRange.Days())
}

func TestBackfillNormalizesRange(t *testing.T) {
	fetcher := newFakeFetcher()
	p := New(fetcher, newFakeStore(), []weather.LocationPair{phoenixBuckeye})

	report := p.Backfill(context.Background(),
		time.Date(2024, time.January, 3, 18, 0, 0, 0, time.UTC),
		time.Date(2024, time.January, 1, 5, 0, 0, 0, time.UTC))

	assert.Equal(t, date(2024, time.January, 1), report.DateRange.Start)
	assert.Equal(t, date(2024, time.January, 3), report.DateRange.End)
	assert.Equal(t, 72, report.LocationPairs[0].UrbanRecords)
}

func TestRunParallelKeepsPairOrder(t *testing.T) {
	pairs := testPairs(5)
	fetcher := newFakeFetcher()
	fetcher.failAt(pairs[3].UrbanLat, pairs[3].UrbanLon, errUpstream)
	store := newFakeStore()

	day := date(2024, time.June, 1)
	report := New(fetcher, store, pairs, WithConcurrency(3)).Run(context.Background(), Request{Date: &day, DaysBack: 1})

	require.Len(t, report.LocationPairs, 5)
	for i, pr := range report.LocationPairs {
		assert.Equal(t, pairs[i].UrbanName, pr.UrbanName)
	}
	assert.Equal(t, StatusError, report.LocationPairs[3].Status)
	assert.Equal(t, 4, report.SuccessCount)
	// one session per pair plus one for the refresh
	assert.Equal(t, 6, store.opened)
	assert.Equal(t, store.opened, store.released)
	assert.Equal(t, 1, store.refreshes)
}

func TestRunParallelSessionFailureIsPerPair(t *testing.T) {
	store := newFakeStore()
	store.openErr = weather.ErrPoolExhausted

	report := New(newFakeFetcher(), store, testPairs(2), WithConcurrency(2)).Run(context.Background(), Request{})

	assert.Equal(t, StatusError, report.Status)
	assert.Empty(t, report.Error)
	require.Len(t, report.LocationPairs, 2)
	for _, pr := range report.LocationPairs {
		assert.Equal(t, StatusError, pr.Status)
		assert.Contains(t, pr.Error, "connection pool exhausted")
	}
}

func TestRunRecordsReportAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	rec := &memRecorder{}

	pairs := testPairs(2)
	fetcher := newFakeFetcher()
	fetcher.failAt(pairs[1].UrbanLat, pairs[1].UrbanLon, errUpstream)

	day := date(2024, time.June, 1)
	p := New(newFakeFetcher(), newFakeStore(), []weather.LocationPair{phoenixBuckeye}, WithMetrics(metrics), WithRecorder(rec))
	ok := p.Run(context.Background(), Request{Date: &day, DaysBack: 1})

	bad := New(fetcher, newFakeStore(), pairs, WithMetrics(metrics), WithRecorder(rec)).
		Run(context.Background(), Request{Date: &day, DaysBack: 1})

	require.Len(t, rec.reports, 2)
	assert.Equal(t, ok.RunID, rec.reports[0].RunID)
	assert.Equal(t, bad.RunID, rec.reports[1].RunID)

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(StatusSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.runs.WithLabelValues(StatusError)))
	assert.Equal(t, 96.0, testutil.ToFloat64(metrics.records))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.pairFailures.WithLabelValues("City1", "Town1")))
	assert.Equal(t, float64(ok.EndTime.Unix()), testutil.ToFloat64(metrics.lastSuccess))
}

func TestReportJSON(t *testing.T) {
	report := Report{
		RunID:     "run-1",
		StartTime: time.Date(2024, time.June, 2, 6, 0, 0, 0, time.UTC),
		EndTime:   time.Date(2024, time.June, 2, 6, 0, 30, 0, time.UTC),
		DateRange: weather.DateWindow{Start: date(2024, time.May, 30), End: date(2024, time.June, 1)},
		LocationPairs: []PairResult{
			{UrbanName: "Phoenix", RuralName: "Buckeye", UrbanRecords: 72, RuralRecords: 72, Status: StatusSuccess},
		},
		DurationSeconds: 30,
		TotalRecords:    144,
		SuccessCount:    1,
		Status:          StatusSuccess,
	}

	raw, err := json.Marshal(report)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(raw, &decoded))

	assert.Equal(t, map[string]any{"start": "2024-05-30", "end": "2024-06-01"}, decoded["date_range"])
	assert.Equal(t, "2024-06-02T06:00:00Z", decoded["start_time"])
	assert.Equal(t, 144.0, decoded["total_records"])
	assert.NotContains(t, decoded, "error")

	pairs := decoded["location_pairs"].([]any)
	require.Len(t, pairs, 1)
	pair := pairs[0].(map[string]any)
	assert.Equal(t, "Phoenix", pair["urban_name"])
	assert.NotContains(t, pair, "error")

	var back Report
	require.NoError(t, json.Unmarshal(raw, &back))
	assert.True(t, back.DateRange.Start.Equal(report.DateRange.Start))
	assert.True(t, back.DateRange.End.Equal(report.DateRange.End))
	assert.Equal(t, report.LocationPairs, back.LocationPairs)
}
