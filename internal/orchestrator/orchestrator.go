package orchestrator

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/miradorstack/mirador-sentinel/internal/deadletter"
	"github.com/miradorstack/mirador-sentinel/internal/events"
	"github.com/miradorstack/mirador-sentinel/internal/metrics"
	"github.com/miradorstack/mirador-sentinel/internal/models"
	"github.com/miradorstack/mirador-sentinel/internal/scoring"
	"github.com/miradorstack/mirador-sentinel/internal/utils"
)

// ErrClosed is returned by Enqueue after shutdown has begun.
var ErrClosed = errors.New("orchestrator closed")

// Options bounds the orchestrator's batching and dispatch behaviour.
type Options struct {
	MaxBatchSize     int
	MaxBatchDelay    time.Duration
	MaxRetries       int
	ConcurrencyLimit int64
	ScoreTimeout     time.Duration
	InitialBackoff   time.Duration
	QueueDepth       int
}

func (o *Options) applyDefaults() {
	if o.MaxBatchSize <= 0 {
		o.MaxBatchSize = 50
	}
	if o.MaxBatchDelay <= 0 {
		o.MaxBatchDelay = 2 * time.Second
	}
	if o.MaxRetries < 0 {
		o.MaxRetries = 3
	}
	if o.ConcurrencyLimit <= 0 {
		o.ConcurrencyLimit = 4
	}
	if o.ScoreTimeout <= 0 {
		o.ScoreTimeout = 10 * time.Second
	}
	if o.InitialBackoff <= 0 {
		o.InitialBackoff = 500 * time.Millisecond
	}
	if o.QueueDepth <= 0 {
		o.QueueDepth = o.MaxBatchSize * 2
	}
}

// Orchestrator maintains a bounded in-flight window of scoring batches.
// Batches form on a size/time double trigger; the semaphore caps concurrent
// scoring calls so a saturated capability stalls ingestion instead of
// buffering without bound.
type Orchestrator struct {
	logger *slog.Logger
	scorer scoring.Scorer
	sink   deadletter.Sink
	bus    events.Publisher
	opts   Options

	sem      *semaphore.Weighted
	input    chan models.LogEvent
	results  chan BatchResult
	loopDone chan struct{}
	workers  sync.WaitGroup
	latency  *utils.LatencyTracker

	mu     sync.RWMutex
	closed bool
}

// NewOrchestrator constructs an Orchestrator. sink and bus may be nil, in
// which case dead-lettered batches are only reported through Results.
func NewOrchestrator(logger *slog.Logger, scorer scoring.Scorer, sink deadletter.Sink, bus events.Publisher, opts Options) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	opts.applyDefaults()
	return &Orchestrator{
		logger:   logger,
		scorer:   scorer,
		sink:     sink,
		bus:      bus,
		opts:     opts,
		sem:      semaphore.NewWeighted(opts.ConcurrencyLimit),
		input:    make(chan models.LogEvent, opts.QueueDepth),
		results:  make(chan BatchResult, opts.ConcurrencyLimit*2),
		loopDone: make(chan struct{}),
		latency:  utils.NewLatencyTracker(1024),
	}
}

// Start launches the batch-forming loop.
func (o *Orchestrator) Start(ctx context.Context) {
	go o.run(ctx)
}

// Enqueue hands an event to the batcher. It blocks when the in-flight window
// is saturated; that blocking is the pipeline's backpressure.
func (o *Orchestrator) Enqueue(ctx context.Context, event models.LogEvent) error {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.closed {
		return ErrClosed
	}
	select {
	case o.input <- event:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Results streams batch verdicts to the aggregation stage. The channel is
// closed once Close has drained all in-flight work.
func (o *Orchestrator) Results() <-chan BatchResult {
	return o.results
}

// Close flushes pending events, waits for in-flight batches, and closes the
// results channel.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	o.closed = true
	close(o.input)
	o.mu.Unlock()

	<-o.loopDone
	o.workers.Wait()
	close(o.results)

	if o.latency.Count() > 0 {
		p50, p95, max := o.latency.Summary()
		o.logger.Info("scoring latency at shutdown",
			slog.Duration("p50", p50),
			slog.Duration("p95", p95),
			slog.Duration("max", max),
		)
	}
}

func (o *Orchestrator) run(ctx context.Context) {
	defer close(o.loopDone)

	var pending []models.LogEvent
	var flushTimer *time.Timer
	var timerC <-chan time.Time

	stopTimer := func() {
		if flushTimer != nil {
			flushTimer.Stop()
			flushTimer = nil
			timerC = nil
		}
	}
	flush := func() {
		if len(pending) == 0 {
			return
		}
		batch := pending
		pending = nil
		stopTimer()
		o.dispatch(ctx, batch)
	}

	for {
		select {
		case event, ok := <-o.input:
			if !ok {
				flush()
				return
			}
			pending = append(pending, event)
			if len(pending) >= o.opts.MaxBatchSize {
				flush()
				continue
			}
			if flushTimer == nil {
				// Delay is measured from the oldest unflushed event.
				flushTimer = time.NewTimer(o.opts.MaxBatchDelay)
				timerC = flushTimer.C
			}
		case <-timerC:
			flushTimer = nil
			timerC = nil
			flush()
		case <-ctx.Done():
			stopTimer()
			if len(pending) > 0 {
				o.emit(BatchResult{
					BatchID: uuid.NewString(),
					Events:  pending,
					Outcome: OutcomeRetriableFailure,
					Err:     ctx.Err(),
				})
			}
			return
		}
	}
}

func (o *Orchestrator) dispatch(ctx context.Context, batch []models.LogEvent) {
	if err := o.sem.Acquire(ctx, 1); err != nil {
		o.emit(BatchResult{
			BatchID: uuid.NewString(),
			Events:  batch,
			Outcome: OutcomeRetriableFailure,
			Err:     err,
		})
		return
	}
	o.workers.Add(1)
	go o.score(ctx, batch)
}

func (o *Orchestrator) score(ctx context.Context, batch []models.LogEvent) {
	defer o.workers.Done()
	defer o.sem.Release(1)

	batchID := uuid.NewString()
	start := time.Now()
	attempts := 0
	var scores []models.ScoreResult

	operation := func() error {
		attempts++
		attemptCtx, cancel := context.WithTimeout(ctx, o.opts.ScoreTimeout)
		defer cancel()
		out, err := o.scorer.Score(attemptCtx, batch)
		if err != nil {
			return err
		}
		if err := scoring.ValidateResults(batch, out); err != nil {
			return err
		}
		scores = out
		return nil
	}

	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = o.opts.InitialBackoff
	err := backoff.Retry(operation, backoff.WithContext(backoff.WithMaxRetries(policy, uint64(o.opts.MaxRetries)), ctx))
	duration := time.Since(start)
	o.latency.Observe(duration)

	switch {
	case err == nil:
		outcome := metrics.OutcomeSuccess
		if attempts > 1 {
			outcome = metrics.OutcomeRetried
		}
		metrics.ObserveBatch(outcome, attempts, duration)
		o.emit(BatchResult{
			BatchID:  batchID,
			Events:   batch,
			Scores:   scores,
			Outcome:  OutcomeSuccess,
			Attempts: attempts,
			Duration: duration,
		})
	case ctx.Err() != nil:
		metrics.ObserveBatch(metrics.OutcomeCancelled, attempts, duration)
		o.logger.Warn("scoring batch cancelled",
			slog.String("batch_id", batchID),
			slog.Int("attempts", attempts),
		)
		o.emit(BatchResult{
			BatchID:  batchID,
			Events:   batch,
			Outcome:  OutcomeRetriableFailure,
			Attempts: attempts,
			Duration: duration,
			Err:      err,
		})
	default:
		o.deadLetter(ctx, batchID, batch, attempts, duration, err)
	}
}

func (o *Orchestrator) deadLetter(ctx context.Context, batchID string, batch []models.LogEvent, attempts int, duration time.Duration, cause error) {
	metrics.ObserveBatch(metrics.OutcomeDeadLettered, attempts, duration)
	metrics.AddAnalysisFailed(len(batch))
	o.logger.Error("scoring batch dead-lettered",
		slog.String("batch_id", batchID),
		slog.Int("events", len(batch)),
		slog.Int("attempts", attempts),
		slog.Any("error", cause),
	)

	if o.sink != nil {
		record := deadletter.Record{
			BatchID:   batchID,
			Events:    batch,
			Attempts:  attempts,
			LastError: cause.Error(),
			FailedAt:  time.Now().UTC(),
		}
		if err := o.sink.Write(ctx, record); err != nil {
			o.logger.Error("dead-letter write failed",
				slog.String("batch_id", batchID),
				slog.Any("error", err),
			)
		}
	}

	if o.bus != nil {
		for _, event := range batch {
			o.bus.Publish(events.NewAnalysisFailed(events.Failure{
				EventID:  event.ID,
				SourceID: event.SourceID,
				BatchID:  batchID,
				Reason:   cause.Error(),
			}))
		}
	}

	o.emit(BatchResult{
		BatchID:  batchID,
		Events:   batch,
		Outcome:  OutcomeDeadLettered,
		Attempts: attempts,
		Duration: duration,
		Err:      cause,
	})
}

func (o *Orchestrator) emit(result BatchResult) {
	o.results <- result
}
