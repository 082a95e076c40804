package providers

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/i474232898/heat-island-pipeline/internal/log"
	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

const (
	// DefaultArchiveURL is the Open-Meteo historical archive endpoint.
	DefaultArchiveURL = "https://archive-api.open-meteo.com/v1/archive"

	archiveTimeLayout = "2006-01-02T15:04"

	// dropWarnFraction is the share of dropped rows above which a fetch is
	// logged as suspicious.
	dropWarnFraction = 0.20
)

// Measurements selects which hourly variables are requested from the archive.
type Measurements string

const (
	// MeasurementsTemperature requests temperature only.
	MeasurementsTemperature Measurements = "temperature"
	// MeasurementsFull also requests relative humidity and surface pressure.
	MeasurementsFull Measurements = "full"
)

func (m Measurements) hourlyParam() string {
	if m == MeasurementsFull {
		return "temperature_2m,relative_humidity_2m,surface_pressure"
	}
	return "temperature_2m"
}

// ArchiveConfig configures the archive client.
type ArchiveConfig struct {
	BaseURL              string
	Timeout              time.Duration
	MaxRequestsPerMinute int
	MaxRetries           int
	BackoffInitial       time.Duration
	BackoffMax           time.Duration
	Measurements         Measurements
}

// ArchiveClient implements weather.Fetcher for the Open-Meteo archive API.
type ArchiveClient struct {
	name         string
	baseURL      string
	measurements Measurements
	httpCfg      HTTPClientConfig
	circuit      *gobreaker.CircuitBreaker
}

var _ weather.Fetcher = (*ArchiveClient)(nil)

// NewArchiveClient builds an archive client. A nil client gets a fresh
// http.Client bounded by cfg.Timeout.
func NewArchiveClient(client *http.Client, cfg ArchiveConfig) *ArchiveClient {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultArchiveURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BackoffInitial <= 0 {
		cfg.BackoffInitial = 500 * time.Millisecond
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = 5 * time.Second
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}

	var limiter *rate.Limiter
	if cfg.MaxRequestsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.MaxRequestsPerMinute)), 1)
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:         "openmeteo-archive",
		MaxRequests:  5,
		Interval:     1 * time.Minute,
		Timeout:      2 * time.Minute,
		IsSuccessful: breakerSuccessful,
	})

	return &ArchiveClient{
		name:         "openmeteo-archive",
		baseURL:      cfg.BaseURL,
		measurements: cfg.Measurements,
		httpCfg: HTTPClientConfig{
			Client: client,
			Backoff: BackoffConfig{
				MaxRetries:      cfg.MaxRetries,
				InitialInterval: cfg.BackoffInitial,
				MaxInterval:     cfg.BackoffMax,
			},
			Limiter: limiter,
		},
		circuit: cb,
	}
}

type archivePayload struct {
	Hourly *struct {
		Time        []*string  `json:"time"`
		Temperature []*float64 `json:"temperature_2m"`
		Humidity    []*float64 `json:"relative_humidity_2m"`
		Pressure    []*float64 `json:"surface_pressure"`
	} `json:"hourly"`
}

// FetchHistorical returns hourly observations between start and end (inclusive
// calendar dates), sorted by timestamp.
func (p *ArchiveClient) FetchHistorical(ctx context.Context, lat, lon float64, start, end time.Time) ([]weather.Observation, error) {
	log.Infof("fetching archive data for (%.4f, %.4f) from %s to %s",
		lat, lon, weather.FormatDate(start), weather.FormatDate(end))

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("latitude", fmt.Sprintf("%f", lat))
		values.Set("longitude", fmt.Sprintf("%f", lon))
		values.Set("start_date", weather.FormatDate(start))
		values.Set("end_date", weather.FormatDate(end))
		values.Set("hourly", p.measurements.hourlyParam())
		values.Set("timezone", "UTC")

		u := fmt.Sprintf("%s?%s", p.baseURL, values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	resp, err := doRequestWithResilience(ctx, p.httpCfg, p.circuit, buildRequest)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", weather.ErrFetch, p.name, err)
	}
	defer resp.Body.Close()

	var payload archivePayload
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("%w: decoding archive response: %v", weather.ErrFetch, err)
	}

	obs, err := parseHourly(payload)
	if err != nil {
		return nil, err
	}

	log.Infof("fetched %d archive records for (%.4f, %.4f)", len(obs), lat, lon)
	return obs, nil
}

func parseHourly(payload archivePayload) ([]weather.Observation, error) {
	if payload.Hourly == nil {
		return nil, fmt.Errorf("%w: unexpected archive response format: missing 'hourly'", weather.ErrFetch)
	}
	h := payload.Hourly
	if h.Time == nil {
		return nil, fmt.Errorf("%w: missing required field 'time' in archive response", weather.ErrFetch)
	}
	if h.Temperature == nil {
		return nil, fmt.Errorf("%w: missing required field 'temperature_2m' in archive response", weather.ErrFetch)
	}

	total := len(h.Time)
	obs := make([]weather.Observation, 0, total)

	for i, ts := range h.Time {
		if ts == nil || i >= len(h.Temperature) || h.Temperature[i] == nil {
			continue
		}
		t, err := time.ParseInLocation(archiveTimeLayout, strings.TrimSuffix(*ts, "Z"), time.UTC)
		if err != nil {
			continue
		}

		o := weather.Observation{
			Timestamp:   t,
			Temperature: *h.Temperature[i],
		}
		if i < len(h.Humidity) {
			o.Humidity = h.Humidity[i]
		}
		if i < len(h.Pressure) {
			o.Pressure = h.Pressure[i]
		}
		obs = append(obs, o)
	}

	if dropped := total - len(obs); dropped > 0 {
		pct := float64(dropped) / float64(total)
		log.Infof("dropped %d archive rows with missing values (%.1f%%)", dropped, pct*100)
		if pct > dropWarnFraction {
			log.Warnf("high share of missing archive values: %.1f%%", pct*100)
		}
	}

	if len(obs) == 0 {
		return nil, fmt.Errorf("%w: no valid data returned from the weather archive", weather.ErrFetch)
	}

	sort.Slice(obs, func(i, j int) bool { return obs[i].Timestamp.Before(obs[j].Timestamp) })
	return obs, nil
}
