package httpapi

import (
	"context"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/i474232898/weather-lake/internal/artifact"
	"github.com/i474232898/weather-lake/internal/pipeline"
	"github.com/i474232898/weather-lake/internal/weather"
)

var validate = validator.New()

// Runner triggers a pipeline pass.
type Runner interface {
	Run(ctx context.Context, date time.Time) pipeline.RunRecord
}

// History records and serves recent pipeline runs.
type History interface {
	Add(rec pipeline.RunRecord)
	Recent(n int) []pipeline.RunRecord
}

// Drainer loads every staged artifact not yet in the sink.
type Drainer interface {
	Drain(ctx context.Context, bucket string) (files, rows int, err error)
}

// ObservationReader serves stored observation rows.
type ObservationReader interface {
	Observations(ctx context.Context, filename, locationID string) ([]weather.Observation, error)
}

// ArtifactLister lists staged artifact keys in the object store.
type ArtifactLister interface {
	List(ctx context.Context, bucket, prefix string) ([]string, error)
}

// Deps bundles the collaborators the HTTP surface needs.
type Deps struct {
	Runner       Runner
	History      History
	Drainer      Drainer
	Observations ObservationReader
	Artifacts    ArtifactLister
	Bucket       string
	KeyPrefix    string
	RunCooldown  time.Duration
	RunTimeout   time.Duration
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	if deps.RunTimeout <= 0 {
		deps.RunTimeout = 10 * time.Minute
	}

	v1 := app.Group("/api/v1")

	// Triggering a run is cooldown-limited: refreshes inside the window get
	// 429 instead of stacking pipeline passes.
	runLimiter := limiter.New(limiter.Config{
		Max:        1,
		Expiration: deps.RunCooldown,
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, "pipeline run cooldown in effect")
		},
	})

	v1.Post("/pipeline/run", runLimiter, func(c *fiber.Ctx) error {
		var req runQuery
		req.Date = c.Query("date")
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		date := time.Now().UTC()
		if req.Date != "" {
			parsed, err := time.Parse("2006-01-02", req.Date)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid date; use YYYY-MM-DD")
			}
			date = parsed
		}

		ctx, cancel := context.WithTimeout(c.Context(), deps.RunTimeout)
		defer cancel()

		rec := deps.Runner.Run(ctx, date)
		deps.History.Add(rec)

		status := fiber.StatusOK
		if rec.Status != pipeline.Success {
			status = fiber.StatusBadGateway
		}
		return c.Status(status).JSON(rec)
	})

	// Draining is the catch-up path: every staged artifact still missing from
	// the sink gets loaded, one transaction per file. Same cooldown discipline
	// as a run, tracked separately so the two do not starve each other.
	drainLimiter := limiter.New(limiter.Config{
		Max:        1,
		Expiration: deps.RunCooldown,
		LimitReached: func(c *fiber.Ctx) error {
			return fiber.NewError(fiber.StatusTooManyRequests, "drain cooldown in effect")
		},
	})

	v1.Post("/pipeline/drain", drainLimiter, func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), deps.RunTimeout)
		defer cancel()

		files, rows, err := deps.Drainer.Drain(ctx, deps.Bucket)
		if err != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{
				"files_loaded": files,
				"rows_loaded":  rows,
				"error":        err.Error(),
			})
		}
		return c.JSON(fiber.Map{
			"files_loaded": files,
			"rows_loaded":  rows,
		})
	})

	v1.Get("/pipeline/runs", func(c *fiber.Ctx) error {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				return fiber.NewError(fiber.StatusBadRequest, "limit must be a non-negative integer")
			}
			limit = n
		}
		return c.JSON(fiber.Map{
			"runs": deps.History.Recent(limit),
		})
	})

	v1.Get("/observations", func(c *fiber.Ctx) error {
		var req observationQuery
		req.Date = c.Query("date")
		req.LocationID = c.Query("location_id")
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		filename := ""
		if req.Date != "" {
			date, err := time.Parse("2006-01-02", req.Date)
			if err != nil {
				return fiber.NewError(fiber.StatusBadRequest, "invalid date; use YYYY-MM-DD")
			}
			filename = artifact.Filename(date)
		}

		rows, err := deps.Observations.Observations(c.Context(), filename, req.LocationID)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to query observations")
		}
		return c.JSON(fiber.Map{
			"count":        len(rows),
			"observations": rows,
		})
	})

	v1.Get("/artifacts", func(c *fiber.Ctx) error {
		keys, err := deps.Artifacts.List(c.Context(), deps.Bucket, deps.KeyPrefix)
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to list artifacts")
		}
		return c.JSON(fiber.Map{
			"bucket":    deps.Bucket,
			"artifacts": keys,
		})
	})
}

// runQuery holds query parameters for triggering a pipeline run.
type runQuery struct {
	Date string `validate:"omitempty,datetime=2006-01-02"`
}

// observationQuery holds query parameters for the observations endpoint.
type observationQuery struct {
	Date       string `validate:"omitempty,datetime=2006-01-02"`
	LocationID string `validate:"omitempty,max=128"`
}
