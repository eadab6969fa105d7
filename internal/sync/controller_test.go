package sync

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/devplatform/directory-sync/internal/config"
	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/logging"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeImporter struct {
	calls []ImportOptions
	errs  []error
}

func (f *fakeImporter) Import(ctx context.Context, input io.Reader, opts ImportOptions) (*ImportResult, error) {
	f.calls = append(f.calls, opts)
	if _, err := io.ReadAll(input); err != nil {
		return nil, err
	}
	report := &models.BatchReport{Mode: opts.Mode}
	var err error
	if len(f.errs) > 0 {
		err, f.errs = f.errs[0], f.errs[1:]
	}
	if err == nil {
		report.Add(models.Outcome{Line: 2, Login: "ivanov", Kind: models.OutcomeCreated})
	}
	return &ImportResult{Mode: opts.Mode, Report: report}, err
}

var clock = time.Date(2024, time.June, 15, 10, 0, 0, 0, time.UTC)

func newController(t *testing.T, importer Importer) (*Controller, *config.Config) {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		SpoolEnabled:  true,
		SpoolDir:      filepath.Join(root, "inbox"),
		SpoolInterval: time.Hour,
		SpoolSecret:   "s3cret",
		DataDir:       filepath.Join(root, "data"),
	}
	require.NoError(t, os.MkdirAll(cfg.SpoolDir, 0750))
	c := NewController(importer, cfg, logging.Discard())
	c.now = func() time.Time { return clock }
	return c, cfg
}

func spool(t *testing.T, cfg *config.Config, name string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(cfg.SpoolDir, name), []byte("login\n"), 0640))
}

func readReport(t *testing.T, path string) FileReport {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var report FileReport
	require.NoError(t, json.Unmarshal(data, &report))
	return report
}

func TestModeForFile(t *testing.T) {
	assert.Equal(t, models.ModeUpdate, ModeForFile("people.UPDATE.csv"))
	assert.Equal(t, models.ModeCreate, ModeForFile("people.csv"))
}

func TestScanMovesAppliedFileToDone(t *testing.T) {
	importer := &fakeImporter{}
	c, cfg := newController(t, importer)
	spool(t, cfg, "b.update.csv")
	spool(t, cfg, "a.csv")
	spool(t, cfg, "notes.txt")

	n, err := c.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	require.Len(t, importer.calls, 2)
	assert.Equal(t, models.ModeCreate, importer.calls[0].Mode)
	assert.Equal(t, models.ModeUpdate, importer.calls[1].Mode)
	assert.Nil(t, importer.calls[0].Confirmer)

	done := filepath.Join(cfg.SpoolDir, doneDir, "20240615_100000_a.csv")
	assert.FileExists(t, done)
	report := readReport(t, done+".report.json")
	assert.Equal(t, StatusApplied, report.Status)
	assert.Equal(t, 1, report.Report.Count(models.OutcomeCreated))
	assert.FileExists(t, filepath.Join(cfg.SpoolDir, "notes.txt"))

	state, err := os.ReadFile(filepath.Join(cfg.DataDir, "state.json"))
	require.NoError(t, err)
	assert.Contains(t, string(state), `"processed": 2`)
}

func TestScanMovesRejectedFileToFailed(t *testing.T) {
	importer := &fakeImporter{errs: []error{ErrNotConfirmed}}
	c, cfg := newController(t, importer)
	spool(t, cfg, "a.csv")

	_, err := c.Scan(context.Background())
	require.NoError(t, err)

	failed := filepath.Join(cfg.SpoolDir, failedDir, "20240615_100000_a.csv")
	assert.FileExists(t, failed)
	report := readReport(t, failed+".report.json")
	assert.Equal(t, StatusRejected, report.Status)
	assert.Equal(t, ErrNotConfirmed.Error(), report.Error)
}

func TestPartialFailureCountsAsDone(t *testing.T) {
	partial := &models.PartialBatchFailure{Failed: []models.Outcome{{Login: "petrov"}}, Total: 2}
	c, cfg := newController(t, &fakeImporter{errs: []error{partial}})
	spool(t, cfg, "a.csv")

	_, err := c.Scan(context.Background())
	require.NoError(t, err)
	report := readReport(t, filepath.Join(cfg.SpoolDir, doneDir, "20240615_100000_a.csv.report.json"))
	assert.Equal(t, StatusPartial, report.Status)
}

func TestTransientFailureIsRetried(t *testing.T) {
	transient := &directory.RemoteFailure{Op: "list_users", Status: 503, Attempts: 3}
	importer := &fakeImporter{errs: []error{transient}}
	c, cfg := newController(t, importer)
	spool(t, cfg, "a.csv")

	_, err := c.Scan(context.Background())
	require.NoError(t, err)
	status := c.Status()
	require.Len(t, status.RetryItems, 1)
	assert.Equal(t, 1, status.RetryItems[0].Attempts)
	assert.Equal(t, clock.Add(5*time.Second), status.RetryItems[0].NextRetry)
	assert.FileExists(t, filepath.Join(cfg.SpoolDir, "a.csv"))

	// queued files are skipped by the scanner
	n, err := c.Scan(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	c.now = func() time.Time { return clock.Add(time.Minute) }
	c.processRetryQueue(context.Background())
	assert.Empty(t, c.Status().RetryItems)
	report := readReport(t, filepath.Join(cfg.SpoolDir, doneDir, "20240615_100100_a.csv.report.json"))
	assert.Equal(t, StatusApplied, report.Status)
	assert.Equal(t, 2, report.Attempts)
}

func TestRetriesGiveUpAfterMaxAttempts(t *testing.T) {
	errs := make([]error, maxRetries)
	for i := range errs {
		errs[i] = &directory.RemoteFailure{Op: "create_user", Status: 500, Attempts: 3}
	}
	c, cfg := newController(t, &fakeImporter{errs: errs})
	spool(t, cfg, "a.csv")

	_, err := c.Scan(context.Background())
	require.NoError(t, err)
	for i := 1; i < maxRetries; i++ {
		c.now = func() time.Time { return clock.Add(time.Duration(i) * time.Hour) }
		c.processRetryQueue(context.Background())
	}

	assert.Empty(t, c.Status().RetryItems)
	matches, err := filepath.Glob(filepath.Join(cfg.SpoolDir, failedDir, "*_a.csv.report.json"))
	require.NoError(t, err)
	require.Len(t, matches, 1)
	report := readReport(t, matches[0])
	assert.Equal(t, StatusFailed, report.Status)
	assert.Equal(t, maxRetries, report.Attempts)
}

func TestStateSurvivesRestart(t *testing.T) {
	importer := &fakeImporter{errs: []error{&directory.RemoteTransientError{Err: errors.New("connection reset")}}}
	c, cfg := newController(t, importer)
	spool(t, cfg, "a.csv")
	_, err := c.Scan(context.Background())
	require.NoError(t, err)

	restarted := NewController(importer, cfg, logging.Discard())
	restarted.loadState()
	require.Len(t, restarted.Status().RetryItems, 1)
	assert.Equal(t, "a.csv", restarted.Status().RetryItems[0].File)
}

// blockingImporter holds every import until its context is cancelled
type blockingImporter struct {
	started chan struct{}
}

func (b *blockingImporter) Import(ctx context.Context, input io.Reader, opts ImportOptions) (*ImportResult, error) {
	close(b.started)
	<-ctx.Done()
	return nil, fmt.Errorf("failed to load directory users: %w", ctx.Err())
}

func TestStopInterruptsRunningImport(t *testing.T) {
	importer := &blockingImporter{started: make(chan struct{})}
	c, cfg := newController(t, importer)
	spool(t, cfg, "a.csv")

	c.Start()
	select {
	case <-importer.started:
	case <-time.After(5 * time.Second):
		t.Fatal("import never started")
	}

	stopped := make(chan struct{})
	go func() {
		c.Stop()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(5 * time.Second):
		t.Fatal("Stop did not return while an import was running")
	}

	assert.FileExists(t, filepath.Join(cfg.SpoolDir, "a.csv"))
	assert.NoDirExists(t, filepath.Join(cfg.SpoolDir, doneDir))
	assert.NoDirExists(t, filepath.Join(cfg.SpoolDir, failedDir))
	assert.Empty(t, c.Status().RetryItems)
}

func TestInterruptedRetryKeepsItsAttempts(t *testing.T) {
	c, cfg := newController(t, &fakeImporter{errs: []error{context.Canceled}})
	spool(t, cfg, "a.csv")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.False(t, c.processFile(ctx, "a.csv", 2, "retry"))

	assert.FileExists(t, filepath.Join(cfg.SpoolDir, "a.csv"))
	items := c.Status().RetryItems
	require.Len(t, items, 1)
	assert.Equal(t, 2, items[0].Attempts)
}

func sign(body, secret string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(body))
	return hex.EncodeToString(mac.Sum(nil))
}

func TestUploadHandler(t *testing.T) {
	c, cfg := newController(t, &fakeImporter{})
	mux := http.NewServeMux()
	c.SetupHTTPHandlers(mux)

	body := "login;password\n"
	post := func(name, signature string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/upload?name="+name, strings.NewReader(body))
		req.Header.Set(SignatureHeader, signature)
		rec := httptest.NewRecorder()
		mux.ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusUnauthorized, post("a.csv", "bad").Code)
	assert.Equal(t, http.StatusBadRequest, post("a.txt", sign(body, "s3cret")).Code)

	rec := post("../a.update.csv", sign(body, "s3cret"))
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Contains(t, rec.Body.String(), `"mode":"update"`)

	data, err := os.ReadFile(filepath.Join(cfg.SpoolDir, "a.update.csv"))
	require.NoError(t, err)
	assert.Equal(t, body, string(data))
}

func TestVerifySignature(t *testing.T) {
	assert.True(t, verifySignature([]byte("x"), sign("x", "k"), "k"))
	assert.False(t, verifySignature([]byte("x"), sign("x", "other"), "k"))
	assert.False(t, verifySignature([]byte("x"), "", "k"))
}
