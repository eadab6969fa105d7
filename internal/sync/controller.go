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
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/devplatform/directory-sync/internal/config"
	"github.com/devplatform/directory-sync/internal/conflict"
	"github.com/devplatform/directory-sync/internal/directory"
	"github.com/devplatform/directory-sync/internal/models"
	"github.com/devplatform/directory-sync/internal/rows"
	"github.com/devplatform/directory-sync/internal/validate"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// Prometheus metrics for the spool controller
var (
	spoolFilesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dirsync_spool_files_total",
			Help: "Total number of spooled files processed",
		},
		[]string{"status"},
	)

	spoolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "dirsync_spool_file_duration_seconds",
			Help:    "Duration of spooled file imports in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"trigger"},
	)

	spoolLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirsync_spool_last_success",
			Help: "Unix timestamp of the last successfully applied file",
		},
	)

	retryQueueSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dirsync_spool_retry_queue_size",
			Help: "Current number of files in the retry queue",
		},
	)
)

const (
	maxRetries    = 5
	retryQueueCap = 100

	doneDir   = "done"
	failedDir = "failed"

	// SignatureHeader carries the hex HMAC-SHA256 of an uploaded body
	SignatureHeader = "X-Dirsync-Signature"
)

// File statuses written to reports
const (
	StatusApplied  = "applied"
	StatusPartial  = "partial"
	StatusRejected = "rejected"
	StatusFailed   = "failed"
)

// Importer runs one batch
type Importer interface {
	Import(ctx context.Context, input io.Reader, opts ImportOptions) (*ImportResult, error)
}

// retryItem represents a spooled file whose import hit a transient failure
type retryItem struct {
	File      string    `json:"file"`
	Attempts  int       `json:"attempts"`
	NextRetry time.Time `json:"next_retry"`
	LastError string    `json:"last_error,omitempty"`
}

// persistedState is the controller state saved to disk for crash recovery
type persistedState struct {
	RetryItems     []retryItem `json:"retry_items"`
	LastRunSuccess time.Time   `json:"last_run_success"`
	Processed      int         `json:"processed"`
}

// FileReport is written next to every processed file
type FileReport struct {
	File       string              `json:"file"`
	Mode       models.Mode         `json:"mode"`
	Status     string              `json:"status"`
	Error      string              `json:"error,omitempty"`
	Rejected   []string            `json:"rejected,omitempty"`
	Conflicts  []conflict.Conflict `json:"conflicts,omitempty"`
	Report     *models.BatchReport `json:"report,omitempty"`
	Attempts   int                 `json:"attempts"`
	FinishedAt time.Time           `json:"finished_at"`
}

// backoffDuration returns the backoff duration for the given attempt number
func backoffDuration(attempt int) time.Duration {
	durations := []time.Duration{
		5 * time.Second,
		15 * time.Second,
		45 * time.Second,
		2 * time.Minute,
		5 * time.Minute,
	}
	if attempt >= len(durations) {
		return durations[len(durations)-1]
	}
	return durations[attempt]
}

// ModeForFile picks the batch mode from a spooled file name:
// "*.update.csv" updates existing identities, any other "*.csv" creates.
func ModeForFile(name string) models.Mode {
	if strings.HasSuffix(strings.ToLower(name), ".update.csv") {
		return models.ModeUpdate
	}
	return models.ModeCreate
}

// Controller imports files dropped into the spool directory
type Controller struct {
	importer Importer
	cfg      *config.Config
	logger   *logrus.Logger

	retryMu        sync.Mutex
	retryItems     []retryItem
	lastRunSuccess time.Time
	processed      int
	dataDir        string
	spoolDir       string

	// runMu serializes imports
	runMu sync.Mutex

	now func() time.Time

	// ctx is cancelled by Stop so in-flight imports return promptly
	ctx    context.Context
	cancel context.CancelFunc
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewController creates a new spool controller
func NewController(importer Importer, cfg *config.Config, logger *logrus.Logger) *Controller {
	ctx, cancel := context.WithCancel(context.Background())
	return &Controller{
		importer:   importer,
		cfg:        cfg,
		logger:     logger,
		retryItems: make([]retryItem, 0),
		dataDir:    cfg.DataDir,
		spoolDir:   cfg.SpoolDir,
		now:        time.Now,
		ctx:        ctx,
		cancel:     cancel,
		stopCh:     make(chan struct{}),
	}
}

// stateFilePath returns the path to the persisted state file
func (c *Controller) stateFilePath() string {
	return filepath.Join(c.dataDir, "state.json")
}

// loadState restores controller state from disk after a restart
func (c *Controller) loadState() {
	path := c.stateFilePath()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			c.logger.Info("No persisted state found, starting fresh")
			return
		}
		c.logger.WithError(err).Warn("Failed to read persisted state")
		return
	}

	var state persistedState
	if err := json.Unmarshal(data, &state); err != nil {
		c.logger.WithError(err).Warn("Failed to parse persisted state, starting fresh")
		return
	}

	c.retryMu.Lock()
	c.retryItems = state.RetryItems
	if c.retryItems == nil {
		c.retryItems = make([]retryItem, 0)
	}
	c.lastRunSuccess = state.LastRunSuccess
	c.processed = state.Processed
	retryQueueSize.Set(float64(len(c.retryItems)))
	c.retryMu.Unlock()

	if !state.LastRunSuccess.IsZero() {
		spoolLastSuccess.Set(float64(state.LastRunSuccess.Unix()))
	}

	c.logger.WithFields(logrus.Fields{
		"retry_items": len(state.RetryItems),
		"last_run":    state.LastRunSuccess.Format(time.RFC3339),
	}).Info("Restored persisted state")
}

// saveState persists controller state to disk for crash recovery
func (c *Controller) saveState() {
	c.retryMu.Lock()
	state := persistedState{
		RetryItems:     make([]retryItem, len(c.retryItems)),
		LastRunSuccess: c.lastRunSuccess,
		Processed:      c.processed,
	}
	copy(state.RetryItems, c.retryItems)
	c.retryMu.Unlock()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		c.logger.WithError(err).Error("Failed to marshal state")
		return
	}
	if err := writeFileAtomic(c.stateFilePath(), data); err != nil {
		c.logger.WithError(err).Error("Failed to write state file")
		return
	}

	c.logger.Debug("Persisted controller state")
}

// writeFileAtomic writes a temp file next to path and renames it into place
func writeFileAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0750); err != nil {
		return err
	}
	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0640); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// Start begins the controller's goroutines
func (c *Controller) Start() {
	if !c.cfg.SpoolEnabled {
		c.logger.Info("Spool controller is disabled")
		return
	}

	c.logger.Info("Starting spool controller")

	// Restore persisted state from disk
	c.loadState()

	// Goroutine 1: Periodic spool directory scan
	c.wg.Add(1)
	go c.scanLoop()

	// Goroutine 2: Retry queue processor
	c.wg.Add(1)
	go c.retryLoop()

	c.logger.WithFields(logrus.Fields{
		"spool_dir":      c.spoolDir,
		"scan_interval":  c.cfg.SpoolInterval,
		"accept_warning": c.cfg.SpoolAcceptWarnings,
	}).Info("Spool controller started")
}

// Stop gracefully stops the controller
func (c *Controller) Stop() {
	c.logger.Info("Stopping spool controller")
	c.cancel()
	close(c.stopCh)
	c.wg.Wait()
	c.saveState()
	c.logger.Info("Spool controller stopped")
}

// scanLoop picks up new files at configured intervals
func (c *Controller) scanLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.cfg.SpoolInterval)
	defer ticker.Stop()

	for {
		if _, err := c.Scan(c.ctx); err != nil {
			c.logger.WithError(err).Error("Spool scan failed")
		}
		select {
		case <-ticker.C:
		case <-c.stopCh:
			return
		}
	}
}

// Scan imports every waiting *.csv file that is not queued for retry and
// returns how many files were processed
func (c *Controller) Scan(ctx context.Context) (int, error) {
	entries, err := os.ReadDir(c.spoolDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to list %s: %w", c.spoolDir, err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".csv") {
			continue
		}
		if c.queued(e.Name()) {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		select {
		case <-c.stopCh:
			return 0, nil
		case <-ctx.Done():
			return 0, nil
		default:
		}
		c.processFile(ctx, name, 0, "scan")
	}
	return len(names), nil
}

func (c *Controller) queued(name string) bool {
	c.retryMu.Lock()
	defer c.retryMu.Unlock()
	for _, item := range c.retryItems {
		if item.File == name {
			return true
		}
	}
	return false
}

// processFile imports one file and either files it away or queues it for retry.
// It returns true when the file left the spool directory.
func (c *Controller) processFile(ctx context.Context, name string, attempts int, trigger string) bool {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	path := filepath.Join(c.spoolDir, name)
	mode := ModeForFile(name)
	log := c.logger.WithFields(logrus.Fields{"file": name, "mode": mode, "attempt": attempts + 1})

	f, err := os.Open(path)
	if err != nil {
		log.WithError(err).Error("Failed to open spooled file")
		spoolFilesTotal.WithLabelValues("error").Inc()
		return false
	}

	opts := ImportOptions{Mode: mode}
	if c.cfg.SpoolAcceptWarnings {
		opts.Confirmer = AcceptAll
	}

	start := time.Now()
	result, importErr := c.importer.Import(ctx, f, opts)
	f.Close()
	spoolDuration.WithLabelValues(trigger).Observe(time.Since(start).Seconds())

	if importErr != nil && errors.Is(importErr, context.Canceled) && ctx.Err() != nil {
		// shutdown: the file stays in the spool for the next start
		log.WithError(importErr).Warn("Import interrupted by shutdown, file stays in the spool")
		spoolFilesTotal.WithLabelValues("interrupted").Inc()
		if attempts > 0 {
			c.enqueueRetry(name, attempts-1, importErr)
		}
		return false
	}

	report := NewFileReport(name, mode, result, importErr)
	report.Attempts = attempts + 1
	report.FinishedAt = c.now()

	if importErr != nil && isTransient(importErr) && attempts+1 < maxRetries {
		log.WithError(importErr).Warn("Import hit a transient failure, enqueuing for retry")
		spoolFilesTotal.WithLabelValues("retry").Inc()
		c.enqueueRetry(name, attempts, importErr)
		return false
	}

	target := failedDir
	if report.Status == StatusApplied || report.Status == StatusPartial {
		target = doneDir
	}
	if err := c.fileAway(name, target, report); err != nil {
		log.WithError(err).Error("Failed to move processed file")
		spoolFilesTotal.WithLabelValues("error").Inc()
		return false
	}
	spoolFilesTotal.WithLabelValues(report.Status).Inc()

	c.retryMu.Lock()
	c.processed++
	if target == doneDir {
		c.lastRunSuccess = report.FinishedAt
		spoolLastSuccess.Set(float64(report.FinishedAt.Unix()))
	}
	c.retryMu.Unlock()

	entry := log.WithField("status", report.Status)
	if importErr != nil {
		entry.WithError(importErr).Warn("Spooled file processed with errors")
	} else {
		entry.Info("Spooled file applied")
	}
	c.saveState()
	return true
}

// NewFileReport summarizes an import result and its error
func NewFileReport(name string, mode models.Mode, result *ImportResult, err error) *FileReport {
	report := &FileReport{File: name, Mode: mode, Status: StatusApplied}
	if result != nil {
		report.Report = result.Report
		report.Conflicts = result.Conflicts
	}
	if err == nil {
		return report
	}
	report.Error = err.Error()

	var partial *models.PartialBatchFailure
	var rejected *validate.RejectedRowsError
	switch {
	case errors.As(err, &partial):
		report.Status = StatusPartial
	case errors.As(err, &rejected):
		report.Status = StatusRejected
		for _, fe := range rejected.FieldErrors() {
			report.Rejected = append(report.Rejected, fe.Error())
		}
	case errors.Is(err, ErrNotConfirmed):
		report.Status = StatusRejected
	default:
		var conflictErr *conflict.ConflictError
		var formatErr *rows.FileFormatError
		if errors.As(err, &conflictErr) || errors.As(err, &formatErr) {
			report.Status = StatusRejected
		} else {
			report.Status = StatusFailed
		}
	}
	return report
}

// fileAway moves a spooled file into dir and writes its report beside it
func (c *Controller) fileAway(name, dir string, report *FileReport) error {
	targetDir := filepath.Join(c.spoolDir, dir)
	if err := os.MkdirAll(targetDir, 0750); err != nil {
		return err
	}
	stamp := report.FinishedAt.Format("20060102_150405")
	target := filepath.Join(targetDir, stamp+"_"+name)
	if err := os.Rename(filepath.Join(c.spoolDir, name), target); err != nil {
		return err
	}

	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return writeFileAtomic(target+".report.json", data)
}

// isTransient reports whether retrying the whole file later may succeed
func isTransient(err error) bool {
	var failure *directory.RemoteFailure
	if errors.As(err, &failure) {
		return failure.Status == 0 || failure.Status == http.StatusTooManyRequests || failure.Status >= 500
	}
	var transient *directory.RemoteTransientError
	if errors.As(err, &transient) {
		return true
	}
	return errors.Is(err, context.DeadlineExceeded)
}

// enqueueRetry adds a file to the retry queue
func (c *Controller) enqueueRetry(name string, attempts int, cause error) {
	c.retryMu.Lock()

	if len(c.retryItems) >= retryQueueCap {
		c.logger.Warn("Retry queue is full, dropping oldest item")
		c.retryItems = c.retryItems[1:]
	}

	c.retryItems = append(c.retryItems, retryItem{
		File:      name,
		Attempts:  attempts + 1,
		NextRetry: c.now().Add(backoffDuration(attempts)),
		LastError: cause.Error(),
	})

	retryQueueSize.Set(float64(len(c.retryItems)))
	c.retryMu.Unlock()

	c.saveState()
}

// retryLoop processes the retry queue
func (c *Controller) retryLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			c.processRetryQueue(c.ctx)
		case <-c.stopCh:
			return
		}
	}
}

// processRetryQueue processes items that are ready for retry
func (c *Controller) processRetryQueue(ctx context.Context) {
	c.retryMu.Lock()
	now := c.now()

	// Find items ready for retry
	ready := make([]retryItem, 0)
	remaining := make([]retryItem, 0)

	for _, item := range c.retryItems {
		if now.After(item.NextRetry) {
			ready = append(ready, item)
		} else {
			remaining = append(remaining, item)
		}
	}

	c.retryItems = remaining
	retryQueueSize.Set(float64(len(c.retryItems)))
	c.retryMu.Unlock()

	if len(ready) == 0 {
		return
	}

	for _, item := range ready {
		if _, err := os.Stat(filepath.Join(c.spoolDir, item.File)); os.IsNotExist(err) {
			c.logger.WithField("file", item.File).Warn("Queued file disappeared, dropping retry")
			continue
		}
		if c.processFile(ctx, item.File, item.Attempts, "retry") {
			c.logger.WithFields(logrus.Fields{
				"file":     item.File,
				"attempts": item.Attempts + 1,
			}).Info("Retried file processed")
		}
	}

	c.saveState()
}

// Status is a snapshot of the controller for the status endpoint
type Status struct {
	SpoolDir       string      `json:"spool_dir"`
	Processed      int         `json:"processed"`
	LastRunSuccess time.Time   `json:"last_run_success"`
	RetryItems     []retryItem `json:"retry_items"`
}

// Status returns the current retry queue and counters
func (c *Controller) Status() Status {
	c.retryMu.Lock()
	defer c.retryMu.Unlock()
	items := make([]retryItem, len(c.retryItems))
	copy(items, c.retryItems)
	return Status{
		SpoolDir:       c.spoolDir,
		Processed:      c.processed,
		LastRunSuccess: c.lastRunSuccess,
		RetryItems:     items,
	}
}

// SetupHTTPHandlers registers the controller's HTTP handlers on the given mux
func (c *Controller) SetupHTTPHandlers(mux *http.ServeMux) {
	// Upload endpoint - drops a signed table into the spool directory
	mux.HandleFunc("/upload", c.uploadHandler)

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(c.Status())
	})

	// Health endpoint
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
	})

	// Metrics endpoint
	mux.Handle("/metrics", promhttp.Handler())
}

// uploadHandler stores a signed table in the spool directory for the next scan
func (c *Controller) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 32<<20))
	if err != nil {
		c.logger.WithError(err).Error("Failed to read upload body")
		http.Error(w, "failed to read body", http.StatusBadRequest)
		return
	}

	// Always validate the signature - no trust policy
	if c.cfg.SpoolSecret == "" {
		c.logger.Error("Upload secret not configured, rejecting request")
		http.Error(w, "upload secret not configured", http.StatusInternalServerError)
		return
	}
	if !verifySignature(body, r.Header.Get(SignatureHeader), c.cfg.SpoolSecret) {
		c.logger.Warn("Invalid upload signature")
		http.Error(w, "invalid signature", http.StatusUnauthorized)
		return
	}

	name := filepath.Base(r.URL.Query().Get("name"))
	if name == "." || name == string(filepath.Separator) || !strings.EqualFold(filepath.Ext(name), ".csv") {
		http.Error(w, "name must be a .csv file name", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(c.spoolDir, 0750); err != nil {
		c.logger.WithError(err).Error("Failed to create spool directory")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	// the scanner only sees the file once the rename lands
	tmp := filepath.Join(c.spoolDir, "."+name+".part")
	if err := os.WriteFile(tmp, body, 0640); err != nil {
		c.logger.WithError(err).Error("Failed to store upload")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if err := os.Rename(tmp, filepath.Join(c.spoolDir, name)); err != nil {
		c.logger.WithError(err).Error("Failed to store upload")
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	c.logger.WithFields(logrus.Fields{"file": name, "bytes": len(body)}).Info("Upload spooled")
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status": "spooled",
		"file":   name,
		"mode":   ModeForFile(name),
	})
}

// verifySignature validates the HMAC-SHA256 signature of an upload
func verifySignature(payload []byte, signature string, secret string) bool {
	if signature == "" {
		return false
	}

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	expectedMAC := hex.EncodeToString(mac.Sum(nil))

	return hmac.Equal([]byte(signature), []byte(expectedMAC))
}
