package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

type fetchCall struct {
	lat, lon   float64
	start, end time.Time
}

// fakeFetcher returns hourly rows for every coordinate unless told to fail.
type fakeFetcher struct {
	mu       sync.Mutex
	perDay   int
	failures map[[2]float64]error
	panics   map[[2]float64]bool
	calls    []fetchCall
}

func newFakeFetcher() *fakeFetcher {
	return &fakeFetcher{
		perDay:   24,
		failures: map[[2]float64]error{},
		panics:   map[[2]float64]bool{},
	}
}

func (f *fakeFetcher) failAt(lat, lon float64, err error) {
	f.failures[[2]float64{lat, lon}] = err
}

func (f *fakeFetcher) FetchHistorical(_ context.Context, lat, lon float64, start, end time.Time) ([]weather.Observation, error) {
	f.mu.Lock()
	f.calls = append(f.calls, fetchCall{lat: lat, lon: lon, start: start, end: end})
	f.mu.Unlock()

	key := [2]float64{lat, lon}
	if f.panics[key] {
		panic("archive client exploded")
	}
	if err := f.failures[key]; err != nil {
		return nil, err
	}

	days := int(end.Sub(start).Hours()/24) + 1
	obs := make([]weather.Observation, 0, days*f.perDay)
	for i := 0; i < days*f.perDay; i++ {
		obs = append(obs, weather.Observation{
			Timestamp:   start.Add(time.Duration(i) * time.Hour),
			Temperature: 25 + lat/10,
		})
	}
	return obs, nil
}

// fakeStore hands out sessions sharing one in-memory database.
type fakeStore struct {
	mu         sync.Mutex
	openErr    error
	refreshErr error
	loadErr    map[string]error

	nextID    int64
	ids       map[string]int64
	urbanRef  map[string]int64
	rows      map[int64]map[time.Time]weather.Observation
	opened    int
	released  int
	refreshes int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		loadErr:  map[string]error{},
		ids:      map[string]int64{},
		urbanRef: map[string]int64{},
		rows:     map[int64]map[time.Time]weather.Observation{},
	}
}

func (s *fakeStore) Open(context.Context) (weather.Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.openErr != nil {
		return nil, s.openErr
	}
	s.opened++
	return &fakeSession{store: s}, nil
}

func (s *fakeStore) id(name string) int64 {
	if id, ok := s.ids[name]; ok {
		return id
	}
	s.nextID++
	s.ids[name] = s.nextID
	return s.nextID
}

func (s *fakeStore) nameOf(id int64) string {
	for name, v := range s.ids {
		if v == id {
			return name
		}
	}
	return ""
}

func (s *fakeStore) rowCount(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.rows[s.ids[name]])
}

type fakeSession struct {
	store    *fakeStore
	released bool
}

func (f *fakeSession) LoadLocations(_ context.Context, pairs []weather.LocationPair) (map[string]int64, error) {
	s := f.store
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]int64{}
	for _, p := range pairs {
		urban := s.id(p.UrbanName)
		rural := s.id(p.RuralName)
		s.urbanRef[p.RuralName] = urban
		out[p.UrbanName], out[p.RuralName] = urban, rural
	}
	return out, nil
}

func (f *fakeSession) LoadTemperatureData(_ context.Context, locationID int64, obs []weather.Observation) (int, error) {
	s := f.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.loadErr[s.nameOf(locationID)]; err != nil {
		return 0, err
	}
	if len(obs) == 0 {
		return 0, nil
	}
	if s.rows[locationID] == nil {
		s.rows[locationID] = map[time.Time]weather.Observation{}
	}
	for _, o := range obs {
		s.rows[locationID][o.Timestamp] = o
	}
	return len(obs), nil
}

func (f *fakeSession) RefreshViews(context.Context) error {
	s := f.store
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.refreshErr != nil {
		return s.refreshErr
	}
	s.refreshes++
	return nil
}

func (f *fakeSession) Release() {
	if f.released {
		return
	}
	f.released = true
	f.store.mu.Lock()
	f.store.released++
	f.store.mu.Unlock()
}

type memRecorder struct {
	reports []Report
}

func (m *memRecorder) Save(r Report) {
	m.reports = append(m.reports, r)
}

func fixedClock(t time.Time) func() time.Time {
	return func() time.Time { return t }
}

func testPairs(n int) []weather.LocationPair {
	pairs := make([]weather.LocationPair, n)
	for i := range pairs {
		pairs[i] = weather.LocationPair{
			UrbanName: fmt.Sprintf("City%d", i), UrbanLat: float64(10 + i), UrbanLon: float64(-100 - i),
			RuralName: fmt.Sprintf("Town%d", i), RuralLat: float64(10 + i), RuralLon: float64(-101 - i),
		}
	}
	return pairs
}

var errUpstream = errors.New("upstream 503")
