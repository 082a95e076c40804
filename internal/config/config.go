package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/i474232898/heat-island-pipeline/internal/log"
	"github.com/i474232898/heat-island-pipeline/internal/weather"
	"github.com/i474232898/heat-island-pipeline/internal/weather/providers"
)

// Environment selects the database target and how strictly credentials are
// checked.
type Environment string

const (
	EnvDev  Environment = "dev"
	EnvTest Environment = "test"
	EnvProd Environment = "prod"
)

// ParseEnvironment accepts dev, test or prod (case-insensitive). An empty
// string falls back to DB_ENV and then to dev.
func ParseEnvironment(s string) (Environment, error) {
	if s == "" {
		s = getenvDefault("DB_ENV", string(EnvDev))
	}
	switch e := Environment(strings.ToLower(s)); e {
	case EnvDev, EnvTest, EnvProd:
		return e, nil
	default:
		return "", fmt.Errorf("%w: unknown environment %q (want dev, test or prod)", weather.ErrConfiguration, s)
	}
}

// DBConfig holds the PostgreSQL connection and pool parameters.
type DBConfig struct {
	Host     string
	Port     string
	Name     string
	User     string
	Password string
	SSLMode  string

	MinConns       int
	MaxConns       int
	AcquireTimeout time.Duration
}

// DSN renders a libpq style keyword/value connection string understood by
// both pgx and lib/pq.
func (c DBConfig) DSN() string {
	parts := []string{
		"host=" + quoteDSN(c.Host),
		"port=" + quoteDSN(c.Port),
		"dbname=" + quoteDSN(c.Name),
		"user=" + quoteDSN(c.User),
	}
	if c.Password != "" {
		parts = append(parts, "password="+quoteDSN(c.Password))
	}
	if c.SSLMode != "" {
		parts = append(parts, "sslmode="+quoteDSN(c.SSLMode))
	}
	return strings.Join(parts, " ")
}

func quoteDSN(v string) string {
	if v != "" && !strings.ContainsAny(v, ` '\`) {
		return v
	}
	v = strings.ReplaceAll(v, `\`, `\\`)
	v = strings.ReplaceAll(v, `'`, `\'`)
	return "'" + v + "'"
}

// AppConfig is the fully resolved process configuration.
type AppConfig struct {
	Env Environment
	DB  DBConfig

	Archive providers.ArchiveConfig

	// Pairs to ingest on every run.
	Pairs []weather.LocationPair

	// Views is the fallback list of materialized views refreshed when the
	// catalog reports none.
	Views []string

	// LookbackDays is the default number of days covered by a run.
	LookbackDays int
	// Concurrency bounds parallel pair processing; 1 is sequential.
	Concurrency int
	// UpsertBatchSize caps rows per INSERT statement.
	UpsertBatchSize int

	// ScheduleCron drives the serve mode scheduler.
	ScheduleCron string

	// Run history retention for the HTTP API.
	HistoryMaxRuns int
	HistoryMaxAge  time.Duration

	Port  string
	Debug bool
}

// DefaultViews is the known set of heat-island materialized views.
var DefaultViews = []string{
	"urban_rural_hourly",
	"urban_rural_daily",
	"normalized_differential_daily",
	"normalized_differential_hourly",
	"normalized_differential",
	"time_of_day_pattern",
}

// DefaultPairs is used when no LOCATION_PAIRS_FILE is configured.
var DefaultPairs = []weather.LocationPair{
	{UrbanName: "Phoenix", UrbanLat: 33.4484, UrbanLon: -112.0740, RuralName: "Buckeye", RuralLat: 33.3705, RuralLon: -112.5838},
}

var validate = validator.New()

// LoadDotEnv loads a .env file into the process environment if one exists.
// Variables already set in the environment win.
func LoadDotEnv(files ...string) {
	if err := godotenv.Load(files...); err != nil {
		log.Infof("no .env file found or error loading it: %v", err)
	}
}

// Load reads configuration from the environment with sensible defaults. env
// overrides DB_ENV when non-empty. The caller is expected to have loaded any
// .env file beforehand.
func Load(env string) (*AppConfig, error) {
	e, err := ParseEnvironment(env)
	if err != nil {
		return nil, err
	}

	cfg := &AppConfig{Env: e}

	cfg.DB, err = loadDB(e)
	if err != nil {
		return nil, err
	}

	timeout, err := getenvDuration("ARCHIVE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, err
	}
	measurements := providers.Measurements(getenvDefault("ARCHIVE_MEASUREMENTS", string(providers.MeasurementsFull)))
	if measurements != providers.MeasurementsFull && measurements != providers.MeasurementsTemperature {
		return nil, fmt.Errorf("%w: invalid ARCHIVE_MEASUREMENTS %q", weather.ErrConfiguration, measurements)
	}
	cfg.Archive = providers.ArchiveConfig{
		BaseURL:              getenvDefault("ARCHIVE_URL", providers.DefaultArchiveURL),
		Timeout:              timeout,
		MaxRequestsPerMinute: getenvInt("ARCHIVE_MAX_REQUESTS_PER_MINUTE", 10),
		MaxRetries:           getenvInt("ARCHIVE_MAX_RETRIES", 3),
		BackoffInitial:       500 * time.Millisecond,
		Measurements:         measurements,
	}

	cfg.Pairs, err = loadPairs(os.Getenv("LOCATION_PAIRS_FILE"))
	if err != nil {
		return nil, err
	}

	cfg.Views = DefaultViews
	if v := os.Getenv("MATERIALIZED_VIEWS"); v != "" {
		cfg.Views = splitList(v)
	}

	cfg.LookbackDays = getenvInt("LOOKBACK_DAYS", 3)
	if cfg.LookbackDays < 1 {
		return nil, fmt.Errorf("%w: LOOKBACK_DAYS must be at least 1", weather.ErrConfiguration)
	}
	cfg.Concurrency = getenvInt("PIPELINE_CONCURRENCY", 1)
	cfg.UpsertBatchSize = getenvInt("UPSERT_BATCH_SIZE", 1000)
	cfg.ScheduleCron = getenvDefault("SCHEDULE_CRON", "0 6 * * *")

	cfg.HistoryMaxRuns = getenvInt("HISTORY_MAX_RUNS", 30)
	cfg.HistoryMaxAge, err = getenvDuration("HISTORY_MAX_AGE", 30*24*time.Hour)
	if err != nil {
		return nil, err
	}

	cfg.Port = getenvDefault("PORT", "8080")
	cfg.Debug = getenvBool("LOG_DEBUG", false)

	return cfg, nil
}

func loadDB(env Environment) (DBConfig, error) {
	if env == EnvProd {
		// Production must never run on the development defaults.
		if _, ok := os.LookupEnv("DB_HOST"); !ok {
			return DBConfig{}, fmt.Errorf("%w: DB_HOST must be set in production", weather.ErrConfiguration)
		}
		if _, ok := os.LookupEnv("DB_PASSWORD"); !ok {
			return DBConfig{}, fmt.Errorf("%w: DB_PASSWORD must be set in production", weather.ErrConfiguration)
		}
	}

	db := DBConfig{
		Host:     getenvDefault("DB_HOST", "localhost"),
		Port:     getenvDefault("DB_PORT", "5432"),
		Name:     getenvDefault("DB_NAME", "heat_island"),
		User:     getenvDefault("DB_USER", "postgres"),
		Password: getenvDefault("DB_PASSWORD", "postgres"),
		SSLMode:  getenvDefault("DB_SSLMODE", "disable"),
		MinConns: getenvInt("DB_POOL_MIN", 1),
		MaxConns: getenvInt("DB_POOL_MAX", 10),
	}
	if env == EnvTest {
		db.Name = getenvDefault("TEST_DB_NAME", "heat_island_test")
	}

	if db.MinConns < 0 || db.MaxConns < 1 || db.MinConns > db.MaxConns {
		return DBConfig{}, fmt.Errorf("%w: invalid pool bounds min=%d max=%d", weather.ErrConfiguration, db.MinConns, db.MaxConns)
	}

	timeout, err := getenvDuration("DB_ACQUIRE_TIMEOUT", 30*time.Second)
	if err != nil {
		return DBConfig{}, err
	}
	db.AcquireTimeout = timeout

	return db, nil
}

type pairsFile struct {
	Pairs []weather.LocationPair `yaml:"pairs"`
}

// loadPairs reads the YAML pair file at path, or returns DefaultPairs when
// path is empty.
func loadPairs(path string) ([]weather.LocationPair, error) {
	if path == "" {
		return DefaultPairs, nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading location pairs: %v", weather.ErrConfiguration, err)
	}
	return ParsePairs(raw)
}

// ParsePairs decodes and validates a YAML pair document.
func ParsePairs(raw []byte) ([]weather.LocationPair, error) {
	var f pairsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: parsing location pairs: %v", weather.ErrConfiguration, err)
	}
	if len(f.Pairs) == 0 {
		return nil, fmt.Errorf("%w: no location pairs defined", weather.ErrConfiguration)
	}

	seen := make(map[string]struct{}, len(f.Pairs)*2)
	for i, p := range f.Pairs {
		if err := validate.Struct(p); err != nil {
			return nil, fmt.Errorf("%w: location pair %d: %v", weather.ErrConfiguration, i, err)
		}
		for _, name := range []string{p.UrbanName, p.RuralName} {
			if _, dup := seen[name]; dup {
				return nil, fmt.Errorf("%w: location %q appears in more than one pair", weather.ErrConfiguration, name)
			}
			seen[name] = struct{}{}
		}
	}
	return f.Pairs, nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%w: invalid %s: %v", weather.ErrConfiguration, key, err)
	}
	return d, nil
}
