package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/cuongbtq/refminer-intake/internal/worker/domain"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fetch is one scripted answer of fakeQueue.Get
type fetch struct {
	body  string
	empty bool
	err   error
}

// fakeQueue replays a script and cancels the loop once it runs out
type fakeQueue struct {
	mu        sync.Mutex
	script    []fetch
	calls     int
	fetchedAt []time.Time
	autoAck   []bool
	acks      *fakeAcknowledger
	cancel    context.CancelFunc
}

func (q *fakeQueue) Get(ctx context.Context, autoAck bool) (amqp.Delivery, bool, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.calls++
	q.fetchedAt = append(q.fetchedAt, time.Now())
	q.autoAck = append(q.autoAck, autoAck)

	if len(q.script) == 0 {
		q.cancel()
		return amqp.Delivery{}, false, nil
	}

	next := q.script[0]
	q.script = q.script[1:]

	switch {
	case next.err != nil:
		return amqp.Delivery{}, false, next.err
	case next.empty:
		return amqp.Delivery{}, false, nil
	}

	return amqp.Delivery{
		Acknowledger: q.acks,
		DeliveryTag:  uint64(q.calls),
		Body:         []byte(next.body),
	}, true, nil
}

type settlement struct {
	tag     uint64
	kind    string
	requeue bool
}

type fakeAcknowledger struct {
	mu      sync.Mutex
	settled []settlement
}

func (a *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, kind: "ack"})
	return nil
}

func (a *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, kind: "nack", requeue: requeue})
	return nil
}

func (a *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.settled = append(a.settled, settlement{tag: tag, kind: "reject", requeue: requeue})
	return nil
}

type fakeOracle struct {
	mu      sync.Mutex
	records map[string]bool
	errs    []error
	calls   []string
	onCall  func(n int)
}

func (o *fakeOracle) ProjectExists(ctx context.Context, gitURL string) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.calls = append(o.calls, gitURL)
	if o.onCall != nil {
		o.onCall(len(o.calls))
	}
	if len(o.errs) > 0 {
		err := o.errs[0]
		o.errs = o.errs[1:]
		if err != nil {
			return false, err
		}
	}
	return o.records[gitURL], nil
}

func (q *fakeQueue) fetches() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.calls
}

func (o *fakeOracle) record(gitURL string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.records == nil {
		o.records = map[string]bool{}
	}
	o.records[gitURL] = true
}

type fakePipeline struct {
	mu      sync.Mutex
	calls   []domain.Job
	options []domain.Options
	run     func(ctx context.Context, job domain.Job) error
}

func (p *fakePipeline) Process(ctx context.Context, job domain.Job, opts domain.Options) error {
	p.mu.Lock()
	p.calls = append(p.calls, job)
	p.options = append(p.options, opts)
	run := p.run
	p.mu.Unlock()

	if run == nil {
		return nil
	}
	return run(ctx, job)
}

func (p *fakePipeline) urls() []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	urls := make([]string, 0, len(p.calls))
	for _, job := range p.calls {
		urls = append(urls, job.GitURL)
	}
	return urls
}

type harness struct {
	queue    *fakeQueue
	oracle   *fakeOracle
	pipeline *fakePipeline
	acks     *fakeAcknowledger
	worker   *Worker
	ctx      context.Context
}

func newHarness(t *testing.T, script []fetch, mutate func(*Config)) *harness {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)

	acks := &fakeAcknowledger{}
	h := &harness{
		queue:    &fakeQueue{script: script, acks: acks, cancel: cancel},
		oracle:   &fakeOracle{records: map[string]bool{}},
		pipeline: &fakePipeline{},
		acks:     acks,
		ctx:      ctx,
	}

	cfg := Config{
		Logger:            slog.New(slog.NewTextHandler(io.Discard, nil)),
		Queue:             h.queue,
		Oracle:            h.oracle,
		Pipeline:          h.pipeline,
		AutoAck:           true,
		PollInterval:      time.Millisecond,
		MaxPollInterval:   2 * time.Millisecond,
		ReconnectInterval: time.Millisecond,
		JobTimeout:        time.Second,
		DedupTimeout:      time.Second,
		Options: domain.Options{
			StoragePath:         "/data/results/",
			Threshold:           50,
			StoreFullSourceCode: true,
		},
	}
	if mutate != nil {
		mutate(&cfg)
	}
	h.worker = NewWorker(cfg)
	return h
}

func (h *harness) run(t *testing.T) {
	t.Helper()
	require.NoError(t, h.worker.Start(h.ctx))
	require.ErrorIs(t, h.ctx.Err(), context.Canceled, "loop should end because the script ran out")
}

func TestWorker_ProcessesNewJob(t *testing.T) {
	h := newHarness(t, []fetch{{body: "x,https://example.com/repo.git,datasetA"}}, nil)

	h.run(t)

	require.Len(t, h.pipeline.calls, 1)
	assert.Equal(t, domain.Job{ID: "x", GitURL: "https://example.com/repo.git", Dataset: "datasetA"}, h.pipeline.calls[0])
	assert.Equal(t, domain.Options{StoragePath: "/data/results/", Threshold: 50, StoreFullSourceCode: true}, h.pipeline.options[0])
	assert.Equal(t, []string{"https://example.com/repo.git"}, h.oracle.calls)
	assert.Equal(t, int64(1), h.worker.Stats().Processed)
}

func TestWorker_SkipsRecordedProject(t *testing.T) {
	h := newHarness(t, []fetch{
		{body: "1,https://example.com/seen.git,apache"},
		{body: "2,https://example.com/seen.git,github"},
	}, nil)
	h.oracle.record("https://example.com/seen.git")

	h.run(t)

	assert.Empty(t, h.pipeline.calls)
	assert.Len(t, h.oracle.calls, 2)
	assert.Equal(t, int64(2), h.worker.Stats().Skipped)
}

func TestWorker_PipelineFailureDoesNotStopLoop(t *testing.T) {
	tests := []struct {
		name string
		run  func(ctx context.Context, job domain.Job) error
	}{
		{
			name: "returned error",
			run: func(ctx context.Context, job domain.Job) error {
				if job.GitURL == "https://example.com/bad.git" {
					return errors.New("clone failed")
				}
				return nil
			},
		},
		{
			name: "panic",
			run: func(ctx context.Context, job domain.Job) error {
				if job.GitURL == "https://example.com/bad.git" {
					panic("nil commit")
				}
				return nil
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, []fetch{
				{body: "1,https://example.com/bad.git,apache"},
				{body: "2,https://example.com/good.git,apache"},
			}, nil)
			h.pipeline.run = tt.run

			h.run(t)

			assert.Equal(t, []string{"https://example.com/bad.git", "https://example.com/good.git"}, h.pipeline.urls())
			assert.Equal(t, 3, h.queue.calls, "loop must fetch again after the failure")
			stats := h.worker.Stats()
			assert.Equal(t, int64(1), stats.Failed)
			assert.Equal(t, int64(1), stats.Processed)
		})
	}
}

func TestWorker_ProcessJobWrapsFailures(t *testing.T) {
	h := newHarness(t, nil, nil)
	h.pipeline.run = func(ctx context.Context, job domain.Job) error {
		panic(errors.New("index out of range"))
	}

	err := h.worker.processJob(context.Background(), &domain.Job{GitURL: "https://example.com/a.git"})

	var pipelineErr *domain.PipelineError
	require.ErrorAs(t, err, &pipelineErr)
	assert.Equal(t, "https://example.com/a.git", pipelineErr.GitURL)
	assert.Contains(t, err.Error(), "pipeline panic")
}

func TestWorker_JobTimeout(t *testing.T) {
	h := newHarness(t, []fetch{
		{body: "1,https://example.com/hangs.git,apache"},
		{body: "2,https://example.com/next.git,apache"},
	}, func(cfg *Config) {
		cfg.JobTimeout = 20 * time.Millisecond
	})
	h.pipeline.run = func(ctx context.Context, job domain.Job) error {
		if job.GitURL == "https://example.com/hangs.git" {
			<-ctx.Done()
			return ctx.Err()
		}
		return nil
	}

	h.run(t)

	assert.Equal(t, []string{"https://example.com/hangs.git", "https://example.com/next.git"}, h.pipeline.urls())
	assert.Equal(t, int64(1), h.worker.Stats().Failed)
	assert.Equal(t, int64(1), h.worker.Stats().Processed)
}

func TestWorker_MalformedMessageSkipsGate(t *testing.T) {
	h := newHarness(t, []fetch{
		{body: "onlyonefield"},
		{body: "1,https://example.com/a.git,apache"},
	}, nil)

	h.run(t)

	assert.Equal(t, []string{"https://example.com/a.git"}, h.oracle.calls)
	assert.Equal(t, []string{"https://example.com/a.git"}, h.pipeline.urls())
	assert.Equal(t, int64(1), h.worker.Stats().Malformed)
}

func TestWorker_EmptyQueue(t *testing.T) {
	h := newHarness(t, []fetch{{empty: true}, {empty: true}, {empty: true}}, nil)

	h.run(t)

	assert.Empty(t, h.oracle.calls)
	assert.Empty(t, h.pipeline.calls)
	assert.Equal(t, 4, h.queue.calls)
	assert.Equal(t, int64(4), h.worker.Stats().EmptyPolls)
}

func TestWorker_EndToEndDedup(t *testing.T) {
	h := newHarness(t, []fetch{
		{body: "1,repoA,datasetA"},
		{body: "1,repoA,datasetA"},
	}, nil)
	// The pipeline writes the dedup record as a side effect.
	h.pipeline.run = func(ctx context.Context, job domain.Job) error {
		h.oracle.record(job.GitURL)
		return nil
	}

	h.run(t)

	require.Len(t, h.pipeline.calls, 1)
	assert.Equal(t, "repoA", h.pipeline.calls[0].GitURL)
	assert.Equal(t, []string{"repoA", "repoA"}, h.oracle.calls)
	assert.Equal(t, int64(1), h.worker.Stats().Skipped)
}

func TestWorker_AutoAckHoldsJobThroughOracleOutage(t *testing.T) {
	h := newHarness(t, []fetch{
		{body: "1,https://example.com/a.git,apache"},
		{body: "2,https://example.com/b.git,apache"},
		{body: "3,https://example.com/c.git,apache"},
	}, func(cfg *Config) {
		cfg.ReconnectInterval = 20 * time.Millisecond
		cfg.MaxPollInterval = 40 * time.Millisecond
	})
	down := errors.New("connection refused")
	h.oracle.errs = []error{down, down, down}

	var fetchesDuringOutage []int
	h.oracle.onCall = func(n int) {
		if n <= 4 {
			fetchesDuringOutage = append(fetchesDuringOutage, h.queue.fetches())
		}
	}

	start := time.Now()
	h.run(t)

	// Waits of 20ms, 40ms and 40ms before the database came back.
	assert.GreaterOrEqual(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, []int{1, 1, 1, 1}, fetchesDuringOutage, "no new message may be taken while the oracle is down")
	assert.Equal(t, []string{"https://example.com/a.git", "https://example.com/b.git", "https://example.com/c.git"}, h.pipeline.urls())

	stats := h.worker.Stats()
	assert.Equal(t, int64(3), stats.Processed)
	assert.Equal(t, int64(3), stats.DedupRetries)
	assert.Zero(t, stats.Lost)
	assert.Zero(t, stats.Deferred)
}

func TestWorker_AutoAckShutdownDuringOutageLosesJob(t *testing.T) {
	var cancel context.CancelFunc
	h := newHarness(t, []fetch{
		{body: "1,https://example.com/a.git,apache"},
		{body: "2,https://example.com/b.git,apache"},
	}, nil)
	h.ctx, cancel = context.WithCancel(h.ctx)
	defer cancel()

	down := errors.New("connection refused")
	h.oracle.errs = []error{down, down, down, down}
	h.oracle.onCall = func(n int) {
		if n == 2 {
			cancel()
		}
	}

	require.NoError(t, h.worker.Start(h.ctx))

	assert.Empty(t, h.pipeline.calls)
	assert.Equal(t, 1, h.queue.calls)
	stats := h.worker.Stats()
	assert.Equal(t, int64(1), stats.Lost)
	assert.Zero(t, stats.Deferred)
}

func TestWorker_ManualAckBacksOffAfterDeferredJob(t *testing.T) {
	// The broker hands the requeued message back on every fetch.
	h := newHarness(t, []fetch{
		{body: "1,https://example.com/a.git,apache"},
		{body: "1,https://example.com/a.git,apache"},
		{body: "1,https://example.com/a.git,apache"},
		{body: "1,https://example.com/a.git,apache"},
	}, func(cfg *Config) {
		cfg.AutoAck = false
		cfg.ReconnectInterval = 20 * time.Millisecond
		cfg.MaxPollInterval = 40 * time.Millisecond
	})
	down := errors.New("too many connections")
	h.oracle.errs = []error{down, down, down}

	h.run(t)

	require.Len(t, h.queue.fetchedAt, 5)
	gaps := []time.Duration{20 * time.Millisecond, 40 * time.Millisecond, 40 * time.Millisecond}
	for i, want := range gaps {
		assert.GreaterOrEqual(t, h.queue.fetchedAt[i+1].Sub(h.queue.fetchedAt[i]), want, "fetch %d came too soon", i+2)
	}

	assert.Equal(t, []settlement{
		{tag: 1, kind: "nack", requeue: true},
		{tag: 2, kind: "nack", requeue: true},
		{tag: 3, kind: "nack", requeue: true},
		{tag: 4, kind: "ack"},
	}, h.acks.settled)
	assert.Equal(t, []string{"https://example.com/a.git"}, h.pipeline.urls())

	stats := h.worker.Stats()
	assert.Equal(t, int64(3), stats.Deferred)
	assert.Equal(t, int64(1), stats.Processed)
	assert.Zero(t, stats.DedupRetries)
}

func TestWorker_FetchErrorsAreRetried(t *testing.T) {
	h := newHarness(t, []fetch{
		{err: errors.New("connection reset by peer")},
		{err: errors.New("connection refused")},
		{body: "1,https://example.com/a.git,apache"},
	}, nil)

	h.run(t)

	assert.Equal(t, []string{"https://example.com/a.git"}, h.pipeline.urls())
	assert.Equal(t, int64(2), h.worker.Stats().FetchErrors)
}

func TestWorker_AutoAckNeverSettles(t *testing.T) {
	h := newHarness(t, []fetch{
		{body: "1,https://example.com/a.git,apache"},
		{body: "bad"},
	}, nil)

	h.run(t)

	assert.Empty(t, h.acks.settled)
	for _, autoAck := range h.queue.autoAck {
		assert.True(t, autoAck)
	}
}

func TestWorker_ManualAck(t *testing.T) {
	h := newHarness(t, []fetch{
		{body: "1,https://example.com/ok.git,apache"},    // tag 1: processed
		{body: "bad"},                                    // tag 2: malformed
		{body: "3,https://example.com/fails.git,apache"}, // tag 3: pipeline failure
		{body: "4,https://example.com/seen.git,apache"},  // tag 4: skipped
		{body: "5,https://example.com/later.git,apache"}, // tag 5: oracle down
	}, func(cfg *Config) {
		cfg.AutoAck = false
	})
	h.oracle.record("https://example.com/seen.git")
	h.oracle.errs = []error{nil, nil, nil, errors.New("too many connections")}
	h.pipeline.run = func(ctx context.Context, job domain.Job) error {
		if job.GitURL == "https://example.com/fails.git" {
			return errors.New("exit status 1")
		}
		return nil
	}

	h.run(t)

	assert.Equal(t, []settlement{
		{tag: 1, kind: "ack"},
		{tag: 2, kind: "reject"},
		{tag: 3, kind: "ack"},
		{tag: 4, kind: "ack"},
		{tag: 5, kind: "nack", requeue: true},
	}, h.acks.settled)
	for _, autoAck := range h.queue.autoAck {
		assert.False(t, autoAck)
	}
}

func TestWorker_ShutdownDuringJobRequeues(t *testing.T) {
	var cancel context.CancelFunc
	h := newHarness(t, []fetch{{body: "1,https://example.com/a.git,apache"}}, func(cfg *Config) {
		cfg.AutoAck = false
	})
	h.ctx, cancel = context.WithCancel(h.ctx)
	defer cancel()
	h.pipeline.run = func(ctx context.Context, job domain.Job) error {
		cancel()
		<-ctx.Done()
		return ctx.Err()
	}

	require.NoError(t, h.worker.Start(h.ctx))

	assert.Equal(t, []settlement{{tag: 1, kind: "nack", requeue: true}}, h.acks.settled)
	assert.Equal(t, 1, h.queue.calls)
	assert.Equal(t, int64(1), h.worker.Stats().Deferred)
}

func TestWorker_StartReturnsWhenCanceled(t *testing.T) {
	h := newHarness(t, []fetch{{body: "1,https://example.com/a.git,apache"}}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	require.NoError(t, h.worker.Start(ctx))
	assert.Zero(t, h.queue.calls)
}

func TestShouldRequeue(t *testing.T) {
	assert.True(t, shouldRequeue(domain.NewRetryableError(errors.New("db down"))))
	assert.True(t, shouldRequeue(context.Canceled))
	assert.False(t, shouldRequeue(domain.ErrMalformedMessage))
	assert.False(t, shouldRequeue(errors.New("unknown")))
}

func TestBackoff(t *testing.T) {
	b := newBackoff(10*time.Millisecond, 50*time.Millisecond)

	assert.Equal(t, 10*time.Millisecond, b.next())
	assert.Equal(t, 20*time.Millisecond, b.next())
	assert.Equal(t, 40*time.Millisecond, b.next())
	assert.Equal(t, 50*time.Millisecond, b.next())
	assert.Equal(t, 50*time.Millisecond, b.next())

	b.reset()
	assert.Equal(t, 10*time.Millisecond, b.next())

	assert.Equal(t, time.Millisecond, newBackoff(0, 0).next())
}

func TestNewWorker_ID(t *testing.T) {
	h := newHarness(t, nil, nil)
	assert.Regexp(t, `^intake-[0-9a-f-]{36}$`, h.worker.ID())
}
