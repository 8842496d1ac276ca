// Package worker runs the background side of the ticket lifecycle: archival
// jobs fed by ticket_closed events and a sweeper that re-enqueues stale archives.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/spec-kit/guild-tickets/internal/cache"
	"github.com/spec-kit/guild-tickets/internal/domain"
	"github.com/spec-kit/guild-tickets/internal/events"
	"github.com/spec-kit/guild-tickets/internal/observability"
	"github.com/spec-kit/guild-tickets/internal/service"
	"github.com/spec-kit/guild-tickets/pkg/util/errorutil"
)

const lockKeyPrefix = "archive:lock:"

// ArchiveRunner is the part of the archive service the worker drives.
type ArchiveRunner interface {
	Run(ctx context.Context, ticketID string) error
	Stale(ctx context.Context, cutoff time.Time, limit int) ([]domain.ArchiveState, error)
}

// ArchiveWorkerConfig tunes the job runner.
type ArchiveWorkerConfig struct {
	Workers       int
	QueueSize     int
	MaxAttempts   int
	SweepSchedule string
	StaleAfter    time.Duration
	LockTTL       time.Duration
}

// ArchiveWorkerDependencies bundles collaborators for the worker.
type ArchiveWorkerDependencies struct {
	Runner  ArchiveRunner
	Cache   cache.Cache
	Metrics *observability.Metrics
	Logger  *zap.Logger
	Config  ArchiveWorkerConfig
	// Backoff builds the retry policy of one job; defaults to exponential.
	Backoff func() backoff.BackOff
}

// ArchiveWorker archives closed tickets on a bounded pool of goroutines.
// A ticket is processed by at most one goroutine per process, and the
// cache lock keeps other instances off it while a run is in progress.
type ArchiveWorker struct {
	runner     ArchiveRunner
	cache      cache.Cache
	metrics    *observability.Metrics
	logger     *zap.Logger
	cfg        ArchiveWorkerConfig
	newBackoff func() backoff.BackOff
	instance   string
	now        func() time.Time

	queue chan string

	mu       sync.Mutex
	inflight map[string]struct{}

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewArchiveWorker constructs a stopped worker.
func NewArchiveWorker(deps ArchiveWorkerDependencies) *ArchiveWorker {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := deps.Config
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 1
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 10 * time.Minute
	}
	newBackoff := deps.Backoff
	if newBackoff == nil {
		newBackoff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 2 * time.Second
			b.MaxInterval = time.Minute
			b.MaxElapsedTime = 0
			return b
		}
	}
	return &ArchiveWorker{
		runner:     deps.Runner,
		cache:      deps.Cache,
		metrics:    deps.Metrics,
		logger:     logger,
		cfg:        cfg,
		newBackoff: newBackoff,
		instance:   uuid.NewString(),
		now:        time.Now,
		queue:      make(chan string, cfg.QueueSize),
		inflight:   make(map[string]struct{}),
	}
}

// Subscribe hands every closed ticket to the worker.
func (w *ArchiveWorker) Subscribe(dispatcher events.Dispatcher) {
	dispatcher.Subscribe(events.EventTicketClosed, w.handleTicketClosed)
}

// handleTicketClosed only enqueues: the pending archive row was written together
// with the close, so a dropped job is picked up by the sweeper.
func (w *ArchiveWorker) handleTicketClosed(_ context.Context, event events.Event) error {
	w.Enqueue(event.TicketID)
	return nil
}

// Enqueue schedules an archival run. It never blocks; a ticket that is already
// queued or running, or that does not fit in the queue, is left to the sweeper.
func (w *ArchiveWorker) Enqueue(ticketID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, busy := w.inflight[ticketID]; busy {
		return false
	}
	select {
	case w.queue <- ticketID:
		w.inflight[ticketID] = struct{}{}
		w.metrics.SetArchiveQueueDepth(len(w.queue))
		return true
	default:
		w.logger.Warn("archive queue full; leaving ticket to the sweeper", zap.String("ticket_id", ticketID))
		return false
	}
}

// Start launches the pool and, when a schedule is configured, the sweeper.
func (w *ArchiveWorker) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	w.cancel = cancel

	if w.cfg.SweepSchedule != "" {
		w.cron = cron.New(cron.WithLocation(time.UTC))
		if _, err := w.cron.AddFunc(w.cfg.SweepSchedule, func() { w.Sweep(ctx) }); err != nil {
			cancel()
			return err
		}
		w.cron.Start()
	}

	for i := 0; i < w.cfg.Workers; i++ {
		w.wg.Add(1)
		go w.loop(ctx)
	}
	w.logger.Info("archive worker started",
		zap.Int("workers", w.cfg.Workers), zap.String("sweep_schedule", w.cfg.SweepSchedule))
	return nil
}

// Stop cancels running jobs and waits for the pool to exit. Interrupted runs
// keep their cursor and are resumed by the next sweep.
func (w *ArchiveWorker) Stop() {
	if w.cron != nil {
		<-w.cron.Stop().Done()
	}
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

func (w *ArchiveWorker) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ticketID := <-w.queue:
			w.metrics.SetArchiveQueueDepth(len(w.queue))
			w.process(ctx, ticketID)
			w.mu.Lock()
			delete(w.inflight, ticketID)
			w.mu.Unlock()
		}
	}
}

// Sweep re-enqueues archives that have not progressed for StaleAfter.
func (w *ArchiveWorker) Sweep(ctx context.Context) {
	cutoff := w.now().Add(-w.cfg.StaleAfter)
	states, err := w.runner.Stale(ctx, cutoff, w.cfg.QueueSize)
	if err != nil {
		w.logger.Error("archive sweep failed", zap.Error(err))
		return
	}
	queued := 0
	for _, state := range states {
		if w.Enqueue(state.TicketID) {
			queued++
		}
	}
	if queued > 0 {
		w.logger.Info("re-enqueued stale archives", zap.Int("count", queued))
	}
}

func (w *ArchiveWorker) process(ctx context.Context, ticketID string) {
	logger := w.logger.With(zap.String("ticket_id", ticketID))

	if w.cache != nil {
		acquired, err := w.cache.SetNX(ctx, lockKeyPrefix+ticketID, w.instance, w.cfg.LockTTL)
		if err != nil {
			logger.Warn("archive lock unavailable; running without it", zap.Error(err))
		} else if !acquired {
			logger.Debug("archive already running elsewhere")
			return
		} else {
			defer func() {
				unlockCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
				defer cancel()
				if err := w.cache.Delete(unlockCtx, lockKeyPrefix+ticketID); err != nil {
					logger.Warn("archive lock release failed", zap.Error(err))
				}
			}()
		}
	}

	attempt := 0
	operation := func() error {
		attempt++
		err := w.runner.Run(ctx, ticketID)
		if err == nil || retryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	policy := backoff.WithContext(backoff.WithMaxRetries(w.newBackoff(), uint64(w.cfg.MaxAttempts-1)), ctx)
	notify := func(err error, wait time.Duration) {
		logger.Warn("archive attempt failed; retrying", zap.Int("attempt", attempt), zap.Duration("wait", wait), zap.Error(err))
	}

	if err := backoff.RetryNotify(operation, policy, notify); err != nil {
		logger.Error("archive gave up", zap.Int("attempts", attempt), zap.Error(err))
	}
}

// retryable reports whether another attempt may get further.
func retryable(err error) bool {
	var partial *service.PartialError
	if errors.As(err, &partial) {
		return true
	}
	return errorutil.HasCode(err, errorutil.CodeExternalService)
}
