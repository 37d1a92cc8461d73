package worker

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/cuongbtq/refminer-intake/internal/worker/domain"
	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Queue is the source of job messages. Get must not block waiting for a
// message: ok is false when the queue is empty.
type Queue interface {
	Get(ctx context.Context, autoAck bool) (amqp.Delivery, bool, error)
}

// DedupOracle answers whether a repository has already been mined
type DedupOracle interface {
	ProjectExists(ctx context.Context, gitURL string) (bool, error)
}

// Pipeline mines one repository. It owns writing the dedup record.
type Pipeline interface {
	Process(ctx context.Context, job domain.Job, opts domain.Options) error
}

// Config holds worker configuration
type Config struct {
	Logger   *slog.Logger
	Queue    Queue
	Oracle   DedupOracle
	Pipeline Pipeline
	Options  domain.Options

	// AutoAck removes messages on fetch; otherwise they are settled after processing
	AutoAck bool

	PollInterval      time.Duration
	MaxPollInterval   time.Duration
	ReconnectInterval time.Duration
	JobTimeout        time.Duration
	DedupTimeout      time.Duration
}

// Worker drains the queue one job at a time
type Worker struct {
	logger            *slog.Logger
	workerID          string
	queue             Queue
	oracle            DedupOracle
	pipeline          Pipeline
	options           domain.Options
	autoAck           bool
	pollInterval      time.Duration
	maxPollInterval   time.Duration
	reconnectInterval time.Duration
	jobTimeout        time.Duration
	dedupTimeout      time.Duration
	stats             counters
}

// NewWorker creates a new worker instance
func NewWorker(cfg Config) *Worker {
	workerID := "intake-" + uuid.NewString()

	return &Worker{
		logger:            cfg.Logger.With(slog.String("worker_id", workerID)),
		workerID:          workerID,
		queue:             cfg.Queue,
		oracle:            cfg.Oracle,
		pipeline:          cfg.Pipeline,
		options:           cfg.Options,
		autoAck:           cfg.AutoAck,
		pollInterval:      cfg.PollInterval,
		maxPollInterval:   cfg.MaxPollInterval,
		reconnectInterval: cfg.ReconnectInterval,
		jobTimeout:        cfg.JobTimeout,
		dedupTimeout:      cfg.DedupTimeout,
	}
}

// ID returns the worker's instance identifier
func (w *Worker) ID() string {
	return w.workerID
}

// Start runs the intake loop until ctx is canceled. Fetch, dedup and pipeline
// failures are logged and never end the loop.
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting intake loop",
		slog.Bool("auto_ack", w.autoAck),
		slog.Duration("poll_interval", w.pollInterval),
		slog.Duration("job_timeout", w.jobTimeout),
	)

	idle := newBackoff(w.pollInterval, w.maxPollInterval)
	reconnect := newBackoff(w.reconnectInterval, w.maxPollInterval)
	deferral := newBackoff(w.reconnectInterval, w.maxPollInterval)

	for {
		if ctx.Err() != nil {
			w.logger.Info("Intake loop stopped - context canceled",
				slog.Any("stats", w.Stats()),
			)
			return nil
		}

		delivery, ok, err := w.queue.Get(ctx, w.autoAck)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			w.stats.fetchErrors.Add(1)
			delay := reconnect.next()
			w.logger.Error("Failed to fetch message from queue",
				slog.Any("error", err),
				slog.Duration("retry_after", delay),
			)
			sleep(ctx, delay)
			continue
		}
		reconnect.reset()

		if !ok {
			w.stats.emptyPolls.Add(1)
			delay := idle.next()
			w.logger.Debug("Waiting for the queue",
				slog.Duration("retry_after", delay),
			)
			sleep(ctx, delay)
			continue
		}
		idle.reset()

		switch w.handleDelivery(ctx, delivery) {
		case domain.OutcomeDeferred:
			// The message went back to the queue; do not fetch it again right away.
			delay := deferral.next()
			w.logger.Debug("Backing off after deferred job",
				slog.Duration("retry_after", delay),
			)
			sleep(ctx, delay)
		case domain.OutcomeProcessed, domain.OutcomeSkipped, domain.OutcomeFailed:
			deferral.reset()
		}
	}
}

// Stats is a snapshot of what the loop has done so far
type Stats struct {
	Processed    int64 `json:"processed"`
	Skipped      int64 `json:"skipped"`
	Failed       int64 `json:"failed"`
	Malformed    int64 `json:"malformed"`
	Deferred     int64 `json:"deferred"`
	Lost         int64 `json:"lost"`
	DedupRetries int64 `json:"dedup_retries"`
	EmptyPolls   int64 `json:"empty_polls"`
	FetchErrors  int64 `json:"fetch_errors"`
}

type counters struct {
	processed    atomic.Int64
	skipped      atomic.Int64
	failed       atomic.Int64
	malformed    atomic.Int64
	deferred     atomic.Int64
	lost         atomic.Int64
	dedupRetries atomic.Int64
	emptyPolls   atomic.Int64
	fetchErrors  atomic.Int64
}

func (c *counters) record(outcome domain.Outcome) {
	switch outcome {
	case domain.OutcomeProcessed:
		c.processed.Add(1)
	case domain.OutcomeSkipped:
		c.skipped.Add(1)
	case domain.OutcomeFailed:
		c.failed.Add(1)
	case domain.OutcomeMalformed:
		c.malformed.Add(1)
	case domain.OutcomeDeferred:
		c.deferred.Add(1)
	case domain.OutcomeLost:
		c.lost.Add(1)
	}
}

// Stats returns the current counters. Safe to call from other goroutines.
func (w *Worker) Stats() Stats {
	return Stats{
		Processed:    w.stats.processed.Load(),
		Skipped:      w.stats.skipped.Load(),
		Failed:       w.stats.failed.Load(),
		Malformed:    w.stats.malformed.Load(),
		Deferred:     w.stats.deferred.Load(),
		Lost:         w.stats.lost.Load(),
		DedupRetries: w.stats.dedupRetries.Load(),
		EmptyPolls:   w.stats.emptyPolls.Load(),
		FetchErrors:  w.stats.fetchErrors.Load(),
	}
}

// backoff doubles from base up to max and starts over after reset
type backoff struct {
	base    time.Duration
	max     time.Duration
	current time.Duration
}

func newBackoff(base, ceiling time.Duration) *backoff {
	if base <= 0 {
		base = time.Millisecond
	}
	if ceiling < base {
		ceiling = base
	}
	return &backoff{base: base, max: ceiling}
}

func (b *backoff) next() time.Duration {
	if b.current == 0 {
		b.current = b.base
		return b.current
	}
	b.current *= 2
	if b.current > b.max {
		b.current = b.max
	}
	return b.current
}

func (b *backoff) reset() {
	b.current = 0
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
