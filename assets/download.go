package assets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pevans/cpexport/metrics"
	"github.com/pevans/cpexport/notify"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DownloaderConfig holds configuration for the download manager.
type DownloaderConfig struct {
	// Note root; task local paths are resolved against it
	Root string
	// Total fetch attempts per image, including the first
	Attempts int
	// Wait before the second attempt; doubles for each further attempt
	InitialBackoff time.Duration
	// Timeout per fetch attempt
	Timeout time.Duration
	// Number of images fetched in parallel; 1 keeps queues sequential
	Concurrency int
	// User-Agent sent with every image request
	UserAgent string
}

// DefaultDownloaderConfig returns the default download configuration.
func DefaultDownloaderConfig() DownloaderConfig {
	return DownloaderConfig{
		Root:           ".",
		Attempts:       3,
		InitialBackoff: 1 * time.Second,
		Timeout:        10 * time.Second,
		Concurrency:    1,
		UserAgent:      "cpexport/1.0 (compatible; CP-Exporter receiver)",
	}
}

// Summary reports what happened to one queue.
type Summary struct {
	Session    string
	Total      int
	Downloaded int
	Failed     int
	Skipped    int
}

// Message renders the end-of-queue notification for the summary.
func (s Summary) Message() string {
	var msg string
	if s.Failed == 0 {
		msg = fmt.Sprintf("Downloaded %d images successfully.", s.Downloaded)
	} else {
		msg = fmt.Sprintf("Downloaded %d images. Failed to download %d images.", s.Downloaded, s.Failed)
	}
	if s.Skipped > 0 {
		msg += fmt.Sprintf(" Skipped %d existing images.", s.Skipped)
	}
	return msg
}

// Downloader mirrors remote images to disk with bounded retries. Queues are
// handed over with Dispatch and run in the background; the pending counter
// tracks tasks that have not been resolved yet.
type Downloader struct {
	config   DownloaderConfig
	client   *resty.Client
	notifier notify.Notifier
	metrics  *metrics.Collectors
	logger   *slog.Logger
	tracer   trace.Tracer

	pending atomic.Int64
	wg      sync.WaitGroup
}

// NewDownloader creates a new download manager. Zero-valued configuration
// fields take their defaults; notifier, collectors and logger may be nil.
func NewDownloader(
	config DownloaderConfig,
	notifier notify.Notifier,
	collectors *metrics.Collectors,
	logger *slog.Logger,
) *Downloader {
	defaults := DefaultDownloaderConfig()
	if config.Root == "" {
		config.Root = defaults.Root
	}
	if config.Attempts < 1 {
		config.Attempts = defaults.Attempts
	}
	if config.InitialBackoff <= 0 {
		config.InitialBackoff = defaults.InitialBackoff
	}
	if config.Timeout <= 0 {
		config.Timeout = defaults.Timeout
	}
	if config.Concurrency < 1 {
		config.Concurrency = defaults.Concurrency
	}
	if config.UserAgent == "" {
		config.UserAgent = defaults.UserAgent
	}
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = notify.NewLogNotifier(logger)
	}

	client := resty.New().
		SetTimeout(config.Timeout).
		SetHeader("User-Agent", config.UserAgent).
		SetRedirectPolicy(resty.FlexibleRedirectPolicy(5))

	return &Downloader{
		config:   config,
		client:   client,
		notifier: notifier,
		metrics:  collectors,
		logger:   logger,
		tracer:   otel.Tracer(tracerName),
	}
}

// Pending returns the number of dispatched tasks not yet resolved.
func (d *Downloader) Pending() int64 {
	return d.pending.Load()
}

// Dispatch starts processing tasks in the background and returns
// immediately. The pending counter is raised before Dispatch returns.
func (d *Downloader) Dispatch(tasks []Task) {
	if len(tasks) == 0 {
		return
	}

	d.addPending(len(tasks))
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		d.run(context.Background(), tasks)
	}()
}

// Wait blocks until every dispatched queue has drained or ctx is done.
func (d *Downloader) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes tasks synchronously and returns the summary.
func (d *Downloader) Run(ctx context.Context, tasks []Task) Summary {
	d.addPending(len(tasks))
	return d.run(ctx, tasks)
}

// run expects the pending counter to already include tasks.
func (d *Downloader) run(ctx context.Context, tasks []Task) Summary {
	summary := Summary{Session: uuid.NewString(), Total: len(tasks)}
	if len(tasks) == 0 {
		return summary
	}

	logger := d.logger.With(slog.String("session", summary.Session))
	logger.Info("downloading images", slog.Int("count", len(tasks)))

	outcomes := make([]string, len(tasks))
	if err := d.ensureDirs(tasks); err != nil {
		logger.Error("failed to create assets directory", slog.String("error", err.Error()))
		for i := range tasks {
			outcomes[i] = d.resolve(metrics.OutcomeFailed)
		}
	} else {
		// Semaphore of size 1 keeps the queue strictly sequential
		sem := make(chan struct{}, d.config.Concurrency)
		var wg sync.WaitGroup
		for i, task := range tasks {
			sem <- struct{}{}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer func() { <-sem }()
				outcomes[i] = d.resolve(d.process(ctx, logger, task))
			}()
		}
		wg.Wait()
	}

	for _, outcome := range outcomes {
		switch outcome {
		case metrics.OutcomeDownloaded:
			summary.Downloaded++
		case metrics.OutcomeFailed:
			summary.Failed++
		case metrics.OutcomeSkipped:
			summary.Skipped++
		}
	}

	logger.Info("image queue finished",
		slog.Int("downloaded", summary.Downloaded),
		slog.Int("failed", summary.Failed),
		slog.Int("skipped", summary.Skipped),
	)
	d.notifier.Notify(ctx, summary.Message())

	return summary
}

// process resolves a single task and returns its outcome.
func (d *Downloader) process(ctx context.Context, logger *slog.Logger, task Task) string {
	ctx, span := d.tracer.Start(ctx, "assets.Download", trace.WithAttributes(
		attribute.String("asset.url", task.URL),
		attribute.String("asset.path", task.LocalPath),
		attribute.String("asset.kind", string(task.Kind)),
	))
	defer span.End()

	dest := d.destination(task)
	if _, err := os.Stat(dest); err == nil {
		logger.Info("skipping image, file already exists", slog.String("path", dest))
		return metrics.OutcomeSkipped
	}

	data, err := d.fetchWithRetry(ctx, logger, task.URL)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "download failed")
		logger.Error("failed to download image after retries",
			slog.String("url", task.URL),
			slog.String("error", err.Error()),
		)
		return metrics.OutcomeFailed
	}

	if err := writeFile(dest, data); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "write failed")
		logger.Error("failed to save image", slog.String("path", dest), slog.String("error", err.Error()))
		return metrics.OutcomeFailed
	}

	logger.Info("downloaded image", slog.String("url", task.URL), slog.String("path", dest))
	return metrics.OutcomeDownloaded
}

// resolve records a finished task.
func (d *Downloader) resolve(outcome string) string {
	d.addPending(-1)
	d.metrics.DownloadFinished(outcome)
	return outcome
}

func (d *Downloader) addPending(delta int) {
	d.pending.Add(int64(delta))
	d.metrics.AddPending(delta)
}

// retryPolicy waits InitialBackoff, then twice that, and so on, for at
// most Attempts-1 retries. There is no jitter.
func (d *Downloader) retryPolicy() backoff.BackOff {
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = d.config.InitialBackoff
	exp.RandomizationFactor = 0
	exp.Multiplier = 2
	exp.MaxInterval = d.config.InitialBackoff << uint(d.config.Attempts)
	exp.MaxElapsedTime = 0
	exp.Reset()

	return backoff.WithMaxRetries(exp, uint64(d.config.Attempts-1))
}

// fetchWithRetry fetches url under the retry policy. Every error, including
// a timed out attempt, consumes one attempt.
func (d *Downloader) fetchWithRetry(ctx context.Context, logger *slog.Logger, url string) ([]byte, error) {
	var data []byte
	attempt := 0

	operation := func() error {
		attempt++
		d.metrics.FetchAttempted()
		body, err := d.fetch(ctx, url)
		if err != nil {
			return err
		}
		data = body
		return nil
	}

	onRetry := func(err error, wait time.Duration) {
		logger.Warn("image fetch attempt failed",
			slog.String("url", url),
			slog.Int("attempt", attempt),
			slog.Int("attempts", d.config.Attempts),
			slog.Duration("retry_in", wait),
			slog.String("error", err.Error()),
		)
	}

	if err := backoff.RetryNotify(operation, backoff.WithContext(d.retryPolicy(), ctx), onRetry); err != nil {
		return nil, fmt.Errorf("failed after %d attempts: %w", attempt, err)
	}
	return data, nil
}

// fetch performs a single GET bounded by the per-attempt timeout.
func (d *Downloader) fetch(ctx context.Context, url string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, d.config.Timeout)
	defer cancel()

	resp, err := d.client.R().SetContext(ctx).Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch image: %w", err)
	}
	if !resp.IsSuccess() {
		return nil, fmt.Errorf("HTTP error: %s", resp.Status())
	}
	if len(resp.Body()) == 0 {
		return nil, errors.New("empty response")
	}

	return resp.Body(), nil
}

// destination maps a task's slash-separated local path onto the note root.
func (d *Downloader) destination(task Task) string {
	return filepath.Join(d.config.Root, filepath.FromSlash(task.LocalPath))
}

// ensureDirs creates every directory the queue writes into.
func (d *Downloader) ensureDirs(tasks []Task) error {
	seen := make(map[string]bool)
	for _, task := range tasks {
		dir := filepath.Dir(d.destination(task))
		if seen[dir] {
			continue
		}
		seen[dir] = true
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	return nil
}

// writeFile writes data next to dest and renames it into place, so a
// crash never leaves a partial image under the final name.
func writeFile(dest string, data []byte) error {
	tmp := dest + ".part"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write image: %w", err)
	}
	if err := os.Rename(tmp, dest); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move image into place: %w", err)
	}
	return nil
}
