package pipeline

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/i474232898/weather-lake/internal/artifact"
	"github.com/i474232898/weather-lake/internal/gateway"
	"github.com/i474232898/weather-lake/internal/sink"
)

// Status is the single terminal outcome of a pipeline run. The enumeration is
// closed: there is no partial or aggregate status, and the first failing stage
// stops the run.
type Status int

const (
	Success      Status = 0
	FetchFailed  Status = 1
	UploadFailed Status = 2
	DBFailed     Status = 3
)

func (s Status) String() string {
	switch s {
	case Success:
		return "SUCCESS"
	case FetchFailed:
		return "FETCH_FAILED"
	case UploadFailed:
		return "UPLOAD_FAILED"
	case DBFailed:
		return "DB_FAILED"
	default:
		return "UNKNOWN"
	}
}

// Source stages a local artifact for a date.
type Source interface {
	Fetch(ctx context.Context, date time.Time) (string, error)
	LocalPath(date time.Time) string
}

// Gateway is the slice of the object-store gateway the orchestrator uses.
type Gateway interface {
	Exists(ctx context.Context, bucket, key string) (bool, error)
	Upload(ctx context.Context, bucket, localPath, key string) (gateway.UploadOutcome, error)
}

// Sink loads a staged artifact into the relational store.
type Sink interface {
	Load(ctx context.Context, bucket, key string) (sink.LoadResult, error)
}

// RunRecord describes one completed pipeline run.
type RunRecord struct {
	ID         string        `json:"id"`
	Date       string        `json:"date"`
	Filename   string        `json:"filename"`
	Status     Status        `json:"status_code"`
	StatusName string        `json:"status"`
	Rows       int           `json:"rows_loaded"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration_ns"`
	Detail     string        `json:"detail,omitempty"`
}

// Runner sequences the three stages: fetch, upload, load. Each stage is
// attempted at most once per run and skips itself when its postcondition
// already holds. Every collaborator is injected; there is no ambient client
// state anywhere in the pipeline.
type Runner struct {
	source  Source
	gateway Gateway
	sink    Sink
	bucket  string
	prefix  string // optional object-key prefix
}

// NewRunner wires the orchestrator's collaborators.
func NewRunner(source Source, gw Gateway, sk Sink, bucket, prefix string) *Runner {
	return &Runner{
		source:  source,
		gateway: gw,
		sink:    sk,
		bucket:  bucket,
		prefix:  prefix,
	}
}

// Run executes one pipeline pass for date (zero value means today, UTC) and
// returns the terminal record. Failures map to the enclosing stage's status;
// there is no cross-stage recovery, so a load failure leaves the completed
// upload in place and a failed upload leaves the local artifact on disk.
func (r *Runner) Run(ctx context.Context, date time.Time) RunRecord {
	if date.IsZero() {
		date = time.Now().UTC()
	}

	rec := RunRecord{
		ID:       uuid.NewString(),
		Date:     date.Format("2006-01-02"),
		Filename: artifact.Filename(date),
		Started:  time.Now().UTC(),
	}
	localPath := r.source.LocalPath(date)
	key := r.prefix + rec.Filename

	finish := func(status Status, detail string) RunRecord {
		rec.Status = status
		rec.StatusName = status.String()
		rec.Detail = detail
		rec.Duration = time.Since(rec.Started)
		runsTotal.WithLabelValues(rec.StatusName).Inc()
		log.Printf("pipeline: run %s for %s finished: %s (%d)", rec.ID, rec.Date, rec.StatusName, status)
		return rec
	}

	log.Printf("pipeline: run %s starting for %s (bucket=%s key=%s)", rec.ID, rec.Date, r.bucket, key)

	// Stage 1: fetch, unless staged locally or already in the store.
	if detail, ok := r.fetchStage(ctx, date, localPath, key); !ok {
		return finish(FetchFailed, detail)
	}

	// Stage 2: upload, unless already in the store. The postcondition check
	// afterwards is unconditional: whatever the upload reported, the object
	// must exist remotely before the load stage may run.
	if detail, ok := r.uploadStage(ctx, localPath, key); !ok {
		return finish(UploadFailed, detail)
	}

	// Stage 3: load.
	loadStart := time.Now()
	res, err := r.sink.Load(ctx, r.bucket, key)
	stageDurationSeconds.WithLabelValues("load").Observe(time.Since(loadStart).Seconds())
	if err != nil {
		return finish(DBFailed, err.Error())
	}
	rec.Rows = res.Rows
	rowsLoadedTotal.Add(float64(res.Rows))

	return finish(Success, "")
}

func (r *Runner) fetchStage(ctx context.Context, date time.Time, localPath, key string) (string, bool) {
	timer := time.Now()
	defer func() { stageDurationSeconds.WithLabelValues("fetch").Observe(time.Since(timer).Seconds()) }()

	if _, err := os.Stat(localPath); err == nil {
		log.Printf("pipeline: local artifact %s already exists, skipping fetch", localPath)
		return "", true
	}

	// The store is consulted before fetching: an artifact already uploaded
	// (and locally deleted) by an earlier run needs no re-fetch. A failing
	// check fails the stage; treating it as "absent" would re-fetch and
	// re-upload data the store may already hold.
	inStore, err := r.gateway.Exists(ctx, r.bucket, key)
	if err != nil {
		return err.Error(), false
	}
	if inStore {
		log.Printf("pipeline: %s already in bucket %s, skipping fetch", key, r.bucket)
		return "", true
	}

	if _, err := r.source.Fetch(ctx, date); err != nil {
		return err.Error(), false
	}
	return "", true
}

func (r *Runner) uploadStage(ctx context.Context, localPath, key string) (string, bool) {
	timer := time.Now()
	defer func() { stageDurationSeconds.WithLabelValues("upload").Observe(time.Since(timer).Seconds()) }()

	outcome, err := r.gateway.Upload(ctx, r.bucket, localPath, key)
	uploadsTotal.WithLabelValues(outcome.String()).Inc()
	if err != nil {
		return err.Error(), false
	}

	// Defend against silent no-ops: a skipped or "successful" upload that
	// still leaves no remote object means the artifact exists nowhere safe.
	inStore, err := r.gateway.Exists(ctx, r.bucket, key)
	if err != nil {
		return err.Error(), false
	}
	if !inStore {
		log.Printf("pipeline: %s missing from bucket %s after upload (%s)", key, r.bucket, outcome)
		return "artifact missing from store after upload: " + outcome.String(), false
	}
	return "", true
}
