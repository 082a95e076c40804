package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goccy/go-json"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	httpapi "github.com/i474232898/heat-island-pipeline/internal/api/http"
	"github.com/i474232898/heat-island-pipeline/internal/config"
	"github.com/i474232898/heat-island-pipeline/internal/database"
	"github.com/i474232898/heat-island-pipeline/internal/log"
	"github.com/i474232898/heat-island-pipeline/internal/pipeline"
	"github.com/i474232898/heat-island-pipeline/internal/scheduler"
	"github.com/i474232898/heat-island-pipeline/internal/store"
	"github.com/i474232898/heat-island-pipeline/internal/weather"
	"github.com/i474232898/heat-island-pipeline/internal/weather/providers"
)

const (
	exitOK     = 0
	exitError  = 1
	exitConfig = 2
)

const usage = `Usage: heatisland <command> [flags]

Commands:
  run       fetch and load the recent window once, print the run report
  backfill  fetch and load an explicit date range
  setup     apply database migrations over a direct connection
  serve     run the daily scheduler and the HTTP API

Run "heatisland <command> -h" for the flags of a command.
`

func main() {
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(exitConfig)
	}

	config.LoadDotEnv()

	code := dispatch(os.Args[1], os.Args[2:])
	log.Sync()
	os.Exit(code)
}

func dispatch(cmd string, args []string) int {
	switch cmd {
	case "run":
		return runCmd(args)
	case "backfill":
		return backfillCmd(args)
	case "setup":
		return setupCmd(args)
	case "serve":
		return serveCmd(args)
	case "help", "-h", "--help":
		fmt.Print(usage)
		return exitOK
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		return exitConfig
	}
}

func runCmd(args []string) int {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	date := fs.String("date", "", "End date of the window (YYYY-MM-DD); defaults to yesterday (UTC)")
	days := fs.Int("days", 0, "Number of days to look back; defaults to LOOKBACK_DAYS")
	env := fs.String("env", "", "Environment: dev, test or prod; defaults to DB_ENV")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	if *days < 0 {
		fmt.Fprintln(os.Stderr, "-days must be at least 1")
		return exitConfig
	}
	req := pipeline.Request{DaysBack: *days}
	if *date != "" {
		d, err := weather.ParseDate(*date)
		if err != nil {
			fmt.Fprintf(os.Stderr, "invalid -date %q: %v\n", *date, err)
			return exitConfig
		}
		req.Date = &d
	}

	cfg, code := loadConfig(*env)
	if cfg == nil {
		return code
	}

	a := newComponents(cfg)
	defer a.close()
	if code := a.preflight(context.Background()); code != exitOK {
		return code
	}

	return printReport(a.pipeline.Run(context.Background(), req))
}

func backfillCmd(args []string) int {
	fs := flag.NewFlagSet("backfill", flag.ContinueOnError)
	start := fs.String("start", "", "First date to load (YYYY-MM-DD), required")
	end := fs.String("end", "", "Last date to load (YYYY-MM-DD); defaults to yesterday (UTC)")
	env := fs.String("env", "", "Environment: dev, test or prod; defaults to DB_ENV")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	if *start == "" {
		fmt.Fprintln(os.Stderr, "-start is required")
		return exitConfig
	}
	from, err := weather.ParseDate(*start)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -start %q: %v\n", *start, err)
		return exitConfig
	}
	to := weather.ComputeWindow(nil, 1, time.Now()).End
	if *end != "" {
		if to, err = weather.ParseDate(*end); err != nil {
			fmt.Fprintf(os.Stderr, "invalid -end %q: %v\n", *end, err)
			return exitConfig
		}
	}

	cfg, code := loadConfig(*env)
	if cfg == nil {
		return code
	}

	a := newComponents(cfg)
	defer a.close()
	if code := a.preflight(context.Background()); code != exitOK {
		return code
	}

	log.Infof("backfilling %s to %s for %d location pairs", weather.FormatDate(from), weather.FormatDate(to), len(cfg.Pairs))
	return printReport(a.pipeline.Backfill(context.Background(), from, to))
}

func setupCmd(args []string) int {
	fs := flag.NewFlagSet("setup", flag.ContinueOnError)
	env := fs.String("env", "", "Environment: dev, test or prod; defaults to DB_ENV")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, code := loadConfig(*env)
	if cfg == nil {
		return code
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	db, err := database.OpenDirect(ctx, cfg.DB)
	if err != nil {
		log.Errorf("failed to connect to database: %v", err)
		return exitCode(err)
	}
	if err := database.Migrate(db); err != nil {
		log.Errorf("failed to apply migrations: %v", err)
		return exitError
	}

	log.Infof("database %s is ready", cfg.DB.Name)
	return exitOK
}

func serveCmd(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	env := fs.String("env", "", "Environment: dev, test or prod; defaults to DB_ENV")
	if err := fs.Parse(args); err != nil {
		return exitConfig
	}

	cfg, code := loadConfig(*env)
	if cfg == nil {
		return code
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	// In-memory run history with configured retention.
	history := store.NewMemoryStore(cfg.HistoryMaxRuns, cfg.HistoryMaxAge)

	a := newComponents(cfg, pipeline.WithMetrics(pipeline.NewMetrics(reg)), pipeline.WithRecorder(history))
	defer a.close()

	// Scheduler that runs the pipeline every day.
	sched := scheduler.New(cfg.ScheduleCron, cfg.LookbackDays, a.pipeline)
	if err := sched.Start(); err != nil {
		log.Errorf("failed to start scheduler: %v", err)
		return exitConfig
	}
	defer sched.Stop()
	log.Infof("next pipeline run at %s", sched.NextRun().Format(time.RFC3339))

	// Runs can take minutes, so there is no write timeout.
	app := fiber.New(fiber.Config{
		AppName:               httpapi.ServiceName,
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		JSONEncoder:           json.Marshal,
		JSONDecoder:           json.Unmarshal,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	// Global middleware
	app.Use(logger.New())
	app.Use(recover.New())

	httpapi.RegisterRoutes(app, a.pipeline, history, reg)

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Errorf("fiber server stopped: %v", err)
		}
	}()
	log.Infof("listening on :%s", cfg.Port)

	// Wait for termination signal
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Errorf("error during shutdown: %v", err)
	}
	return exitOK
}

// loadConfig returns a nil config and the exit code when loading fails.
func loadConfig(env string) (*config.AppConfig, int) {
	cfg, err := config.Load(env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		return nil, exitConfig
	}

	if err := log.Init(cfg.Debug); err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		return nil, exitError
	}
	log.Infof("loaded %s configuration with %d location pairs", cfg.Env, len(cfg.Pairs))
	return cfg, exitOK
}

// components are shared by run, backfill and serve.
type components struct {
	pool     *database.Pool
	pipeline *pipeline.Pipeline
}

func newComponents(cfg *config.AppConfig, opts ...pipeline.Option) *components {
	pool := database.NewPool(cfg.DB)
	pg := store.NewPostgres(pool, store.NewLoader(cfg.UpsertBatchSize), store.NewViewRefresher(cfg.Views))

	// Outbound archive calls with rate limit, backoff and circuit breaker.
	fetcher := providers.NewArchiveClient(&http.Client{Timeout: cfg.Archive.Timeout}, cfg.Archive)

	opts = append([]pipeline.Option{
		pipeline.WithLookbackDays(cfg.LookbackDays),
		pipeline.WithConcurrency(cfg.Concurrency),
	}, opts...)

	return &components{
		pool:     pool,
		pipeline: pipeline.New(fetcher, pg, cfg.Pairs, opts...),
	}
}

// preflight builds the pool so that a misconfigured database fails with the
// configuration exit code instead of a run report.
func (a *components) preflight(ctx context.Context) int {
	conn, err := a.pool.Acquire(ctx)
	if err != nil && errors.Is(err, weather.ErrConfiguration) {
		log.Errorf("database is not reachable: %v", err)
		return exitConfig
	}
	a.pool.Release(conn)
	return exitOK
}

func (a *components) close() {
	if err := a.pool.Close(); err != nil {
		log.Warnf("closing connection pool: %v", err)
	}
}

func printReport(r pipeline.Report) int {
	out, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		log.Errorf("failed to encode run report: %v", err)
		return exitError
	}
	fmt.Println(string(out))

	if err := r.Err(); err != nil {
		log.Errorf("pipeline run %s failed: %v", r.RunID, err)
		return exitError
	}
	return exitOK
}

func exitCode(err error) int {
	if errors.Is(err, weather.ErrConfiguration) {
		return exitConfig
	}
	return exitError
}
