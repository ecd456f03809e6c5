package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/i474232898/weather-lake/internal/artifact"
	"github.com/i474232898/weather-lake/internal/gateway"
	"github.com/i474232898/weather-lake/internal/sink"
)

// fakeSource stages a file on disk when fetched.
type fakeSource struct {
	dir     string
	err     error
	fetches int
}

func (f *fakeSource) LocalPath(date time.Time) string {
	return filepath.Join(f.dir, artifact.Filename(date))
}

func (f *fakeSource) Fetch(_ context.Context, date time.Time) (string, error) {
	f.fetches++
	if f.err != nil {
		return "", f.err
	}
	path := f.LocalPath(date)
	if err := os.WriteFile(path, []byte("rows"), 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// fakeGateway mimics the store's upload semantics, including local deletion.
type fakeGateway struct {
	objects    map[string]bool
	existsErr  error
	uploadFail bool // upload attempt fails, local file kept
	uploads    int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{objects: make(map[string]bool)}
}

func (g *fakeGateway) Exists(_ context.Context, bucket, key string) (bool, error) {
	if g.existsErr != nil {
		return false, g.existsErr
	}
	return g.objects[bucket+"/"+key], nil
}

func (g *fakeGateway) Upload(_ context.Context, bucket, localPath, key string) (gateway.UploadOutcome, error) {
	if _, err := os.Stat(localPath); err != nil {
		return gateway.UploadSkippedNoLocal, nil
	}
	if g.existsErr != nil {
		return gateway.UploadFailed, g.existsErr
	}
	if g.objects[bucket+"/"+key] {
		return gateway.UploadSkippedExists, nil
	}
	if g.uploadFail {
		return gateway.UploadFailed, nil
	}
	g.uploads++
	g.objects[bucket+"/"+key] = true
	os.Remove(localPath)
	return gateway.Uploaded, nil
}

// fakeSink records loads and skips filenames it has already seen.
type fakeSink struct {
	loaded map[string]int
	err    error
	loads  int
}

func newFakeSink() *fakeSink {
	return &fakeSink{loaded: make(map[string]int)}
}

func (s *fakeSink) Load(_ context.Context, bucket, filename string) (sink.LoadResult, error) {
	s.loads++
	if s.err != nil {
		return sink.LoadResult{Filename: filename}, s.err
	}
	if s.loaded[filename] > 0 {
		return sink.LoadResult{Filename: filename, Outcome: sink.LoadSkippedAlreadyLoaded}, nil
	}
	s.loaded[filename] = 72
	return sink.LoadResult{Filename: filename, Outcome: sink.Loaded, Rows: 72}, nil
}

func (s *fakeSink) totalRows() int {
	total := 0
	for _, n := range s.loaded {
		total += n
	}
	return total
}

var testDate = time.Date(2025, 7, 29, 0, 0, 0, 0, time.UTC)

func newTestRunner(t *testing.T) (*Runner, *fakeSource, *fakeGateway, *fakeSink) {
	t.Helper()
	src := &fakeSource{dir: t.TempDir()}
	gw := newFakeGateway()
	sk := newFakeSink()
	return NewRunner(src, gw, sk, "lake", ""), src, gw, sk
}

func TestRunSuccess(t *testing.T) {
	runner, src, gw, sk := newTestRunner(t)

	rec := runner.Run(context.Background(), testDate)
	if rec.Status != Success {
		t.Fatalf("expected SUCCESS, got %s (%s)", rec.StatusName, rec.Detail)
	}
	if rec.Status != 0 {
		t.Fatalf("SUCCESS must be status code 0, got %d", rec.Status)
	}
	if rec.Rows != 72 {
		t.Fatalf("expected 72 rows loaded, got %d", rec.Rows)
	}
	if rec.Filename != "weather_2025-07-29.csv" {
		t.Fatalf("unexpected filename %q", rec.Filename)
	}

	// Local artifact is gone after a successful upload.
	if _, err := os.Stat(src.LocalPath(testDate)); !os.IsNotExist(err) {
		t.Fatal("local artifact still present after successful upload")
	}
	if gw.uploads != 1 {
		t.Fatalf("expected 1 upload, got %d", gw.uploads)
	}
	if sk.totalRows() != 72 {
		t.Fatalf("expected 72 rows in sink, got %d", sk.totalRows())
	}
}

func TestRunIsIdempotent(t *testing.T) {
	runner, src, gw, sk := newTestRunner(t)

	first := runner.Run(context.Background(), testDate)
	if first.Status != Success {
		t.Fatalf("first run: expected SUCCESS, got %s", first.StatusName)
	}

	second := runner.Run(context.Background(), testDate)
	if second.Status != Success {
		t.Fatalf("second run: expected SUCCESS, got %s", second.StatusName)
	}

	// No duplicates: same object count, same row count, no re-fetch.
	if len(gw.objects) != 1 || gw.uploads != 1 {
		t.Fatalf("expected 1 object and 1 upload, got %d objects, %d uploads", len(gw.objects), gw.uploads)
	}
	if sk.totalRows() != 72 {
		t.Fatalf("expected 72 total rows after both runs, got %d", sk.totalRows())
	}
	if src.fetches != 1 {
		t.Fatalf("expected 1 fetch across both runs, got %d", src.fetches)
	}
}

func TestRunFetchFailed(t *testing.T) {
	runner, src, gw, sk := newTestRunner(t)
	src.err = errors.New("upstream down")

	rec := runner.Run(context.Background(), testDate)
	if rec.Status != FetchFailed {
		t.Fatalf("expected FETCH_FAILED, got %s", rec.StatusName)
	}
	if rec.Status != 1 {
		t.Fatalf("FETCH_FAILED must be status code 1, got %d", rec.Status)
	}
	if sk.loads != 0 {
		t.Fatal("sink touched after fetch failure")
	}
	if len(gw.objects) != 0 {
		t.Fatal("object uploaded after fetch failure")
	}
}

func TestRunFetchFailedOnExistenceCheckError(t *testing.T) {
	// A broken store during the fetch pre-check must fail the fetch stage,
	// not silently pass as "absent"; no local file may be created.
	runner, src, gw, _ := newTestRunner(t)
	gw.existsErr = errors.New("access denied")

	rec := runner.Run(context.Background(), testDate)
	if rec.Status != FetchFailed {
		t.Fatalf("expected FETCH_FAILED, got %s", rec.StatusName)
	}
	if src.fetches != 0 {
		t.Fatal("source called despite broken existence check")
	}
	if _, err := os.Stat(src.LocalPath(testDate)); !os.IsNotExist(err) {
		t.Fatal("local artifact created despite failed run")
	}
}

func TestRunUploadFailedKeepsLocalFile(t *testing.T) {
	runner, src, gw, sk := newTestRunner(t)
	gw.uploadFail = true

	rec := runner.Run(context.Background(), testDate)
	if rec.Status != UploadFailed {
		t.Fatalf("expected UPLOAD_FAILED, got %s", rec.StatusName)
	}
	if rec.Status != 2 {
		t.Fatalf("UPLOAD_FAILED must be status code 2, got %d", rec.Status)
	}

	// Local artifact preserved, sink never reached.
	if _, err := os.Stat(src.LocalPath(testDate)); err != nil {
		t.Fatal("local artifact missing after failed upload")
	}
	if sk.loads != 0 {
		t.Fatal("sink touched after upload failure")
	}
}

func TestRunUploadPostconditionCatchesSilentNoOp(t *testing.T) {
	// The source never stages a file (simulating a vanished artifact), so the
	// upload no-ops and the object exists nowhere. The postcondition check
	// must turn that into UPLOAD_FAILED rather than letting the run continue.
	src := &fakeSource{dir: t.TempDir()}
	gw := newFakeGateway()
	sk := newFakeSink()
	noopSrc := &noFileSource{fakeSource: src}
	runner := NewRunner(noopSrc, gw, sk, "lake", "")

	rec := runner.Run(context.Background(), testDate)
	if rec.Status != UploadFailed {
		t.Fatalf("expected UPLOAD_FAILED, got %s", rec.StatusName)
	}
	if sk.loads != 0 {
		t.Fatal("sink touched despite missing artifact")
	}
}

// noFileSource claims success without staging anything.
type noFileSource struct {
	*fakeSource
}

func (s *noFileSource) Fetch(_ context.Context, date time.Time) (string, error) {
	return s.LocalPath(date), nil
}

func TestRunDBFailed(t *testing.T) {
	runner, _, gw, sk := newTestRunner(t)
	sk.err = errors.New("connection refused")

	rec := runner.Run(context.Background(), testDate)
	if rec.Status != DBFailed {
		t.Fatalf("expected DB_FAILED, got %s", rec.StatusName)
	}
	if rec.Status != 3 {
		t.Fatalf("DB_FAILED must be status code 3, got %d", rec.Status)
	}

	// No cross-stage recovery: the completed upload stays in place.
	if len(gw.objects) != 1 {
		t.Fatal("uploaded artifact missing after DB failure")
	}
}

func TestRunKeyPrefix(t *testing.T) {
	src := &fakeSource{dir: t.TempDir()}
	gw := newFakeGateway()
	sk := newFakeSink()
	runner := NewRunner(src, gw, sk, "lake", "staging/")

	rec := runner.Run(context.Background(), testDate)
	if rec.Status != Success {
		t.Fatalf("expected SUCCESS, got %s (%s)", rec.StatusName, rec.Detail)
	}
	if !gw.objects["lake/staging/weather_2025-07-29.csv"] {
		t.Fatalf("expected prefixed key, have %v", gw.objects)
	}
}

func TestStatusNames(t *testing.T) {
	cases := map[Status]string{
		Success:      "SUCCESS",
		FetchFailed:  "FETCH_FAILED",
		UploadFailed: "UPLOAD_FAILED",
		DBFailed:     "DB_FAILED",
		Status(42):   "UNKNOWN",
	}
	for status, want := range cases {
		if status.String() != want {
			t.Fatalf("expected %q for %d, got %q", want, status, status.String())
		}
	}
}
