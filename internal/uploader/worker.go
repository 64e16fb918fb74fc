package uploader

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime/debug"
	"sync"
	"time"

	"lulubot/internal/hosting"
	"lulubot/internal/metrics"
	"lulubot/internal/queue"
	"lulubot/internal/transport"
	logx "lulubot/pkg/logx"
	"lulubot/pkg/tgui"
)

// Hosting is the part of the hosting client the worker uses.
type Hosting interface {
	UploadFile(ctx context.Context, path string, meta hosting.Meta) (hosting.Result, error)
	UploadURL(ctx context.Context, rawURL string, meta hosting.Meta) (hosting.Result, error)
	FetchMetadata(ctx context.Context, fileCode string) (hosting.Metadata, error)
}

type Config struct {
	MaxRetries int
	IdleWait   time.Duration
	ErrorWait  time.Duration
	// Heartbeat refreshes claimed_at while an upload runs.
	Heartbeat time.Duration
	// StaleAfter is how old a claim must be before the sweep requeues it.
	// Keep it well above the upload timeout.
	StaleAfter time.Duration
	TempDir    string
}

func (c Config) withDefaults() Config {
	if c.MaxRetries <= 0 {
		c.MaxRetries = 3
	}
	if c.IdleWait <= 0 {
		c.IdleWait = 10 * time.Second
	}
	if c.ErrorWait <= 0 {
		c.ErrorWait = 5 * time.Second
	}
	if c.Heartbeat <= 0 {
		c.Heartbeat = time.Minute
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 3 * time.Hour
	}
	return c
}

// Worker is a start/stop handle around the upload loop.
//
// Stop means "finish the current item, then exit": an upload in flight is not
// interrupted. Cancelling the context passed to Start aborts everything.
type Worker struct {
	store   queue.Store
	host    Hosting
	files   transport.FileFetcher
	log     logx.Logger
	metrics *metrics.Metrics

	mu      sync.Mutex
	cfg     Config
	running bool
	stop    chan struct{}
	done    chan struct{}
	current string // id of the item in flight

	now func() time.Time
}

// New builds a worker. files may be nil when only URL sources are expected;
// file items then fail with a configuration error.
func New(store queue.Store, host Hosting, files transport.FileFetcher, cfg Config, log logx.Logger, m *metrics.Metrics) *Worker {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Worker{
		store:   store,
		host:    host,
		files:   files,
		cfg:     cfg.withDefaults(),
		log:     log.With(logx.String("comp", "uploader")),
		metrics: m,
		now:     time.Now,
	}
}

func (w *Worker) SetConfig(cfg Config) {
	w.mu.Lock()
	w.cfg = cfg.withDefaults()
	w.mu.Unlock()
}

func (w *Worker) config() Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.cfg
}

func (w *Worker) Running() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// Current returns the id of the item being uploaded, or "".
func (w *Worker) Current() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Start launches the loop. It reports false if the worker is already running.
func (w *Worker) Start(ctx context.Context) bool {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return false
	}
	w.running = true
	w.stop = make(chan struct{})
	w.done = make(chan struct{})
	stop, done := w.stop, w.done
	w.mu.Unlock()

	go func() {
		defer func() {
			w.mu.Lock()
			w.running = false
			w.mu.Unlock()
			close(done)
		}()
		w.loop(ctx, stop)
	}()
	return true
}

// Stop asks the loop to exit after the current item. It does not wait;
// use Wait for that. It reports false if the worker was not running.
func (w *Worker) Stop() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.running || w.stop == nil {
		return false
	}
	select {
	case <-w.stop:
		return false
	default:
		close(w.stop)
	}
	return true
}

// Wait blocks until the loop has exited or ctx is done.
func (w *Worker) Wait(ctx context.Context) error {
	w.mu.Lock()
	done := w.done
	w.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Worker) loop(ctx context.Context, stop <-chan struct{}) {
	w.log.Info("upload worker started")
	defer w.log.Info("upload worker stopped")

	if _, err := w.SweepStale(ctx); err != nil {
		w.log.Warn("stale claim sweep failed", logx.Err(err))
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		default:
		}

		cfg := w.config()
		processed, err := w.safeRunOnce(ctx)
		var wait time.Duration
		switch {
		case err != nil:
			w.log.Error("upload iteration failed", logx.Err(err))
			wait = cfg.ErrorWait
		case !processed:
			wait = cfg.IdleWait
		}
		if wait > 0 && !sleep(ctx, stop, wait) {
			return
		}
	}
}

func (w *Worker) safeRunOnce(ctx context.Context) (processed bool, err error) {
	defer func() {
		if r := recover(); r != nil {
			w.log.Error("panic in upload iteration", logx.Any("panic", r), logx.Stack(string(debug.Stack())))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return w.RunOnce(ctx)
}

// RunOnce claims and processes at most one pending item. It reports whether
// an item was taken. Errors are store failures; upload failures are recorded
// on the item and do not surface here.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	it, err := w.store.ClaimNextPending(ctx)
	if err != nil {
		return false, err
	}
	if it == nil {
		return false, nil
	}

	ok, err := w.store.Claim(ctx, it.ID)
	if err != nil {
		return false, err
	}
	if !ok {
		w.log.Warn("lost claim; skipping", logx.String("id", it.ID))
		return true, nil
	}

	w.setCurrent(it.ID)
	defer w.setCurrent("")
	return true, w.process(ctx, it)
}

func (w *Worker) setCurrent(id string) {
	w.mu.Lock()
	w.current = id
	w.mu.Unlock()
}

func (w *Worker) process(ctx context.Context, it *queue.Item) error {
	log := w.log.With(logx.String("id", it.ID), logx.String("name", it.FileName))
	log.Info("uploading", logx.Bool("file", it.HasFile()), logx.Int("retry", it.RetryCount))

	started := w.now()
	res, upErr := w.uploadWithHeartbeat(ctx, it)
	took := w.now().Sub(started)

	if upErr != nil {
		return w.fail(ctx, it, upErr, took, log)
	}

	upd := queue.Update{RemoteFileCode: res.FileCode, RemoteURL: res.URL}
	if md, err := w.host.FetchMetadata(ctx, res.FileCode); err != nil {
		log.Debug("metadata enrichment failed", logx.String("file_code", res.FileCode), logx.Err(err))
	} else {
		upd.RemoteTitle = md.Title
		upd.RemoteThumbnail = md.ThumbnailURL
	}

	if _, err := w.store.Transition(ctx, it.ID, queue.StatusUploaded, upd); err != nil {
		return err
	}
	w.metrics.ObserveUpload("uploaded", took)
	log.Info("uploaded", logx.String("file_code", res.FileCode), logx.String("url", res.URL), logx.Duration("took", took))
	return nil
}

func (w *Worker) uploadWithHeartbeat(ctx context.Context, it *queue.Item) (hosting.Result, error) {
	stopBeat := w.heartbeat(ctx, it.ID)
	defer stopBeat()
	return w.upload(ctx, it)
}

func (w *Worker) upload(ctx context.Context, it *queue.Item) (hosting.Result, error) {
	meta := hosting.Meta{Title: it.Title, Description: it.Description}
	switch {
	case it.HasFile() && w.files != nil:
		path, cleanup, err := fetchToTemp(ctx, w.files, w.config().TempDir, it)
		if err != nil {
			return hosting.Result{}, err
		}
		defer cleanup()
		meta.SnapshotPath = w.fetchSnapshot(ctx, filepath.Dir(path), it)
		return w.host.UploadFile(ctx, path, meta)
	case it.HasURL():
		return w.host.UploadURL(ctx, it.FileURL, meta)
	case it.HasFile():
		return hosting.Result{}, &queue.ConfigurationError{ID: it.ID, Reason: "file source but no file fetcher configured"}
	default:
		return hosting.Result{}, &queue.ConfigurationError{ID: it.ID, Reason: "no file or url source"}
	}
}

// fetchSnapshot stores the item's platform thumbnail in dir for the upload's
// snapshot part. It returns "" when there is none or the fetch failed.
func (w *Worker) fetchSnapshot(ctx context.Context, dir string, it *queue.Item) string {
	if it.ThumbnailFileID == "" {
		return ""
	}
	path, err := fetchFile(ctx, w.files, dir, "snapshot-*.jpg", it.ThumbnailFileID)
	if err != nil {
		w.log.Debug("thumbnail fetch failed; uploading without snapshot", logx.String("id", it.ID), logx.Err(err))
		return ""
	}
	return path
}

// fail records a failed attempt: retry_count is incremented and the item goes
// back to pending, or to failed once the ceiling is reached. Configuration
// errors cannot succeed on retry and fail immediately.
func (w *Worker) fail(ctx context.Context, it *queue.Item, cause error, took time.Duration, log logx.Logger) error {
	kind := hosting.KindOf(cause)
	w.metrics.IncHostingError(kind)

	n, err := w.store.IncrementRetry(ctx, it.ID)
	if err != nil {
		return err
	}
	to := queue.StatusPending
	var ce *queue.ConfigurationError
	if n >= w.config().MaxRetries || errors.As(cause, &ce) {
		to = queue.StatusFailed
	}
	if _, err := w.store.Transition(ctx, it.ID, to, queue.Update{ErrorMessage: errorMessage(cause)}); err != nil {
		return err
	}

	outcome := "retry"
	if to == queue.StatusFailed {
		outcome = "failed"
	}
	w.metrics.ObserveUpload(outcome, took)
	log.Warn("upload failed", logx.String("kind", kind), logx.Int("retry", n),
		logx.String("status", string(to)), logx.Err(cause))
	return nil
}

func errorMessage(err error) string {
	const maxRunes = 500
	return tgui.TruncRunes(err.Error(), maxRunes)
}

// heartbeat touches the claim every cfg.Heartbeat until the returned func is called.
func (w *Worker) heartbeat(ctx context.Context, id string) func() {
	every := w.config().Heartbeat
	quit := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-quit:
				return
			case <-ctx.Done():
				return
			case <-t.C:
				tctx, cancel := context.WithTimeout(ctx, 10*time.Second)
				if err := w.store.Touch(tctx, id); err != nil {
					w.log.Debug("claim heartbeat failed", logx.String("id", id), logx.Err(err))
				}
				cancel()
			}
		}
	}()
	return func() {
		close(quit)
		wg.Wait()
	}
}

// SweepStale requeues uploading items whose claim is older than StaleAfter.
// The retry count is left alone.
func (w *Worker) SweepStale(ctx context.Context) (int, error) {
	cutoff := w.now().Add(-w.config().StaleAfter)
	n, err := w.store.RequeueStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.metrics.AddStaleRequeued(n)
		w.log.Warn("requeued stale claims", logx.Int("count", n), logx.Time("cutoff", cutoff))
	}
	return n, nil
}

// RecoverClaims requeues every uploading item. It is meant for process start,
// before any worker runs: a claim that exists then belongs to a previous
// process, however recent its heartbeat.
func (w *Worker) RecoverClaims(ctx context.Context) (int, error) {
	cutoff := w.now().Add(time.Millisecond)
	n, err := w.store.RequeueStale(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		w.metrics.AddStaleRequeued(n)
		w.log.Warn("requeued claims left by previous run", logx.Int("count", n))
	}
	return n, nil
}

// sleep waits for d; it returns false if ctx or stop ended the wait.
func sleep(ctx context.Context, stop <-chan struct{}, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-stop:
		return false
	case <-t.C:
		return true
	}
}
