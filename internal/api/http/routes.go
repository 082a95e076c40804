package httpapi

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/i474232898/heat-island-pipeline/internal/pipeline"
	"github.com/i474232898/heat-island-pipeline/internal/store"
	"github.com/i474232898/heat-island-pipeline/internal/weather"
)

// ServiceName is reported by the health endpoint.
const ServiceName = "heat-island-pipeline"

var validate = validator.New()

// Runner executes one pipeline run.
type Runner interface {
	Run(ctx context.Context, req pipeline.Request) pipeline.Report
}

// History lists finished run reports.
type History interface {
	Latest() (pipeline.Report, error)
	List(limit int) []pipeline.Report
	Get(runID string) (pipeline.Report, error)
	GetRange(from, to time.Time) ([]pipeline.Report, error)
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, runner Runner, history History, gatherer prometheus.Gatherer) {
	// one manual run at a time
	var running sync.Mutex

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": ServiceName,
		})
	})

	if gatherer != nil {
		app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	v1 := app.Group("/api/v1")

	v1.Post("/runs", func(c *fiber.Ctx) error {
		var req runRequest
		if len(c.Body()) > 0 {
			if err := c.BodyParser(&req); err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid request body")
			}
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		pr, err := req.toRequest()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if !running.TryLock() {
			return fiber.NewError(fiber.StatusConflict, "a pipeline run is already in progress")
		}
		defer running.Unlock()

		report := runner.Run(c.UserContext(), pr)

		status := http.StatusOK
		if !report.Succeeded() {
			status = http.StatusInternalServerError
		}
		return c.Status(status).JSON(report)
	})

	v1.Get("/runs", func(c *fiber.Ctx) error {
		q := listQuery{
			Limit: c.QueryInt("limit", defaultListLimit),
			From:  c.Query("from"),
			To:    c.Query("to"),
		}
		if err := validate.Struct(q); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		if q.From == "" && q.To == "" {
			return c.JSON(fiber.Map{
				"runs": history.List(q.Limit),
			})
		}

		from, to, err := q.bounds()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		runs, err := history.GetRange(from, to)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return historyError(err)
		}
		return c.JSON(fiber.Map{
			"runs": newestFirst(runs, q.Limit),
		})
	})

	v1.Get("/runs/latest", func(c *fiber.Ctx) error {
		report, err := history.Latest()
		if err != nil {
			return historyError(err)
		}
		return c.JSON(report)
	})

	v1.Get("/runs/:id", func(c *fiber.Ctx) error {
		report, err := history.Get(c.Params("id"))
		if err != nil {
			return historyError(err)
		}
		return c.JSON(report)
	})
}

func historyError(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "no pipeline run found")
	}
	return fiber.NewError(fiber.StatusInternalServerError, "failed to read run history")
}

const defaultListLimit = 20

// listQuery holds query parameters for the run list endpoint. From and To
// filter by run start date, both inclusive.
type listQuery struct {
	Limit int    `validate:"min=1,max=100"`
	From  string `validate:"omitempty,datetime=2006-01-02"`
	To    string `validate:"omitempty,datetime=2006-01-02"`
}

func (q listQuery) bounds() (time.Time, time.Time, error) {
	from := time.Time{}
	to := time.Date(9999, time.December, 31, 0, 0, 0, 0, time.UTC)
	var err error
	if q.From != "" {
		if from, err = weather.ParseDate(q.From); err != nil {
			return from, to, err
		}
	}
	if q.To != "" {
		if to, err = weather.ParseDate(q.To); err != nil {
			return from, to, err
		}
	}
	if to.Before(from) {
		return from, to, errors.New("to must not be before from")
	}
	// to covers its whole day
	return from, to.AddDate(0, 0, 1).Add(-time.Nanosecond), nil
}

func newestFirst(runs []pipeline.Report, limit int) []pipeline.Report {
	out := make([]pipeline.Report, 0, min(len(runs), limit))
	for i := len(runs) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, runs[i])
	}
	return out
}

// runRequest is the body of a manual run trigger. Both fields are optional.
type runRequest struct {
	Date     string `json:"date" validate:"omitempty,datetime=2006-01-02"`
	DaysBack int    `json:"days_back" validate:"omitempty,min=1,max=366"`
}

func (r runRequest) toRequest() (pipeline.Request, error) {
	req := pipeline.Request{DaysBack: r.DaysBack}
	if r.Date != "" {
		d, err := weather.ParseDate(r.Date)
		if err != nil {
			return req, err
		}
		req.Date = &d
	}
	return req, nil
}
