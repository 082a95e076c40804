// Package pipeline runs the daily ingestion: fetch every configured location
// pair, persist the observations and refresh the derived views.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/heat-island-pipeline/internal/log"
	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

// DefaultLookbackDays is used when a request does not say how many days to
// cover.
const DefaultLookbackDays = 3

// Request selects the window of a run. A nil Date means yesterday; a zero
// DaysBack means the pipeline default.
type Request struct {
	Date     *time.Time
	DaysBack int
}

// Recorder keeps finished reports, e.g. for the HTTP API.
type Recorder interface {
	Save(r Report)
}

// Pipeline orchestrates one run over every configured pair.
type Pipeline struct {
	fetcher weather.Fetcher
	store   weather.Store
	pairs   []weather.LocationPair

	lookback    int
	concurrency int
	metrics     *Metrics
	recorder    Recorder
	now         func() time.Time
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLookbackDays sets the default window length.
func WithLookbackDays(days int) Option {
	return func(p *Pipeline) {
		if days > 0 {
			p.lookback = days
		}
	}
}

// WithConcurrency processes up to n pairs at once, each on its own session.
// n <= 1 keeps the sequential behaviour.
func WithConcurrency(n int) Option {
	return func(p *Pipeline) {
		p.concurrency = n
	}
}

// WithMetrics records every run in m.
func WithMetrics(m *Metrics) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

// WithRecorder hands every finished report to r.
func WithRecorder(r Recorder) Option {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		p.now = now
	}
}

// New creates a Pipeline over pairs.
func New(fetcher weather.Fetcher, store weather.Store, pairs []weather.LocationPair, opts ...Option) *Pipeline {
	p := &Pipeline{
		fetcher:     fetcher,
		store:       store,
		pairs:       pairs,
		lookback:    DefaultLookbackDays,
		concurrency: 1,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run processes the window selected by req. It never returns an error; any
// failure is reported through the returned Report.
func (p *Pipeline) Run(ctx context.Context, req Request) Report {
	days := req.DaysBack
	if days == 0 {
		days = p.lookback
	}
	return p.execute(ctx, weather.ComputeWindow(req.Date, days, p.now()))
}

// Backfill processes an explicit range of dates, both ends inclusive, with
// the same isolation rules as Run.
func (p *Pipeline) Backfill(ctx context.Context, start, end time.Time) Report {
	start, end = weather.TruncateDay(start), weather.TruncateDay(end)
	if end.Before(start) {
		start, end = end, start
	}
	return p.execute(ctx, weather.DateWindow{Start: start, End: end})
}

func (p *Pipeline) execute(ctx context.Context, window weather.DateWindow) Report {
	report := Report{
		RunID:         uuid.NewString(),
		StartTime:     p.now().UTC(),
		DateRange:     window,
		LocationPairs: []PairResult{},
		Status:        StatusRunning,
	}

	log.Infow("starting pipeline run",
		"run_id", report.RunID,
		"start", weather.FormatDate(window.Start),
		"end", weather.FormatDate(window.End),
		"pairs", len(p.pairs))

	if err := p.process(ctx, window, &report); err != nil {
		log.Errorw("pipeline run failed", "run_id", report.RunID, "error", err)
		report.Status = StatusError
		report.Error = err.Error()
	}

	report.EndTime = p.now().UTC()
	report.DurationSeconds = report.EndTime.Sub(report.StartTime).Seconds()

	log.Infow("pipeline run finished",
		"run_id", report.RunID,
		"status", report.Status,
		"total_records", report.TotalRecords,
		"success_count", report.SuccessCount,
		"error_count", report.ErrorCount,
		"duration_seconds", report.DurationSeconds)

	p.metrics.observe(report)
	if p.recorder != nil {
		p.recorder.Save(report)
	}
	return report
}

// process runs every pair and refreshes the views when anything was loaded.
// In sequential mode one session serves the whole run and is always released.
func (p *Pipeline) process(ctx context.Context, window weather.DateWindow, report *Report) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("pipeline panic: %v", r)
		}
	}()

	var sess weather.Session
	if p.concurrency > 1 {
		report.LocationPairs = p.processParallel(ctx, window)
	} else {
		sess, err = p.store.Open(ctx)
		if err != nil {
			return fmt.Errorf("opening database session: %w", err)
		}
		defer sess.Release()

		report.LocationPairs = make([]PairResult, 0, len(p.pairs))
		for _, pair := range p.pairs {
			report.LocationPairs = append(report.LocationPairs, p.processPair(ctx, sess, pair, window))
		}
	}
	report.summarize()

	if report.TotalRecords > 0 {
		if err := p.refresh(ctx, sess); err != nil {
			return fmt.Errorf("refreshing materialized views: %w", err)
		}
	} else {
		log.Warn("no records loaded, skipping materialized view refresh")
	}

	if report.ErrorCount > 0 {
		report.Status = StatusError
	} else {
		report.Status = StatusSuccess
	}
	return nil
}

// refresh uses sess, or a session of its own when sess is nil.
func (p *Pipeline) refresh(ctx context.Context, sess weather.Session) error {
	if sess == nil {
		s, err := p.store.Open(ctx)
		if err != nil {
			return err
		}
		defer s.Release()
		sess = s
	}
	return sess.RefreshViews(ctx)
}

// processParallel runs pairs on up to p.concurrency workers. Each worker
// checks out its own session; results keep the configured pair order.
func (p *Pipeline) processParallel(ctx context.Context, window weather.DateWindow) []PairResult {
	results := make([]PairResult, len(p.pairs))

	var g errgroup.Group
	g.SetLimit(p.concurrency)
	for i, pair := range p.pairs {
		i, pair := i, pair
		g.Go(func() error {
			sess, err := p.store.Open(ctx)
			if err != nil {
				results[i] = failed(pair, fmt.Errorf("opening database session: %w", err))
				return nil
			}
			defer sess.Release()

			results[i] = p.processPair(ctx, sess, pair, window)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

// processPair fetches and loads both sides of pair. Errors and panics stay
// inside the returned result.
func (p *Pipeline) processPair(ctx context.Context, sess weather.Session, pair weather.LocationPair, window weather.DateWindow) (res PairResult) {
	res = PairResult{
		UrbanName: pair.UrbanName,
		RuralName: pair.RuralName,
		Status:    StatusPending,
	}

	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
		}()

		log.Infof("processing pair %s", pair.Key())

		urbanObs, err := p.fetch(ctx, pair.Urban(), window)
		if err != nil {
			return err
		}
		ruralObs, err := p.fetch(ctx, pair.Rural(), window)
		if err != nil {
			return err
		}

		ids, err := sess.LoadLocations(ctx, []weather.LocationPair{pair})
		if err != nil {
			return fmt.Errorf("loading locations: %w", err)
		}

		res.UrbanRecords, err = sess.LoadTemperatureData(ctx, ids[pair.UrbanName], urbanObs)
		if err != nil {
			return fmt.Errorf("loading %s observations: %w", pair.UrbanName, err)
		}
		res.RuralRecords, err = sess.LoadTemperatureData(ctx, ids[pair.RuralName], ruralObs)
		if err != nil {
			return fmt.Errorf("loading %s observations: %w", pair.RuralName, err)
		}
		return nil
	}()

	if err != nil {
		log.Errorw("pair failed", "pair", pair.Key(), "error", err)
		res.Status = StatusError
		res.Error = err.Error()
		return res
	}

	log.Infow("pair loaded", "pair", pair.Key(), "urban_records", res.UrbanRecords, "rural_records", res.RuralRecords)
	res.Status = StatusSuccess
	return res
}

func (p *Pipeline) fetch(ctx context.Context, loc weather.Location, window weather.DateWindow) ([]weather.Observation, error) {
	obs, err := p.fetcher.FetchHistorical(ctx, loc.Latitude, loc.Longitude, window.Start, window.End)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", loc.Name, err)
	}
	return obs, nil
}

func failed(pair weather.LocationPair, err error) PairResult {
	log.Errorw("pair failed", "pair", pair.Key(), "error", err)
	return PairResult{
		UrbanName: pair.UrbanName,
		RuralName: pair.RuralName,
		Status:    StatusError,
		Error:     err.Error(),
	}
}
