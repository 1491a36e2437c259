package services

import (
	"context"
	"sync"
	"time"

	"github.com/bugloop/bugloop/internal/config"
	"github.com/bugloop/bugloop/internal/models"
	"github.com/bugloop/bugloop/internal/tracker"
	"github.com/bugloop/bugloop/pkg/logger"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
)

// Worker drains the forward queue. One drain loop runs per process;
// integrations are processed concurrently up to a bounded pool while
// entries within one integration stay strictly serialized, so ordering
// and idempotency reasoning never crosses an integration boundary.
type Worker struct {
	db  *gorm.DB
	cfg *config.SyncConfig
	svc *SyncService
	log zerolog.Logger

	sem  chan struct{}
	stop chan struct{}
	wg   sync.WaitGroup

	mu      sync.Mutex
	active  map[uint]bool // integrations with an in-flight entry
	running bool
}

func NewWorker(db *gorm.DB, cfg *config.SyncConfig, svc *SyncService) *Worker {
	concurrency := cfg.WorkerConcurrency
	if concurrency <= 0 {
		concurrency = 1
	}
	return &Worker{
		db:     db,
		cfg:    cfg,
		svc:    svc,
		log:    logger.Module("worker"),
		sem:    make(chan struct{}, concurrency),
		active: make(map[uint]bool),
	}
}

// Start launches the drain loop.
func (w *Worker) Start() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.running {
		return
	}
	w.running = true
	w.stop = make(chan struct{})

	// A crash leaves claimed entries in processing, a state nothing
	// selects for. No claimant can be live before the loop starts, so
	// every processing row here is an orphan; put them back in line.
	if n, err := w.svc.Store().RecoverOrphaned(time.Now()); err != nil {
		w.log.Error().Err(err).Msg("failed to recover orphaned queue entries")
	} else if n > 0 {
		w.log.Warn().Int64("entries", n).Msg("requeued entries orphaned by a previous run")
	}

	w.wg.Add(1)
	go w.loop()
	w.log.Info().Int("concurrency", cap(w.sem)).Msg("sync worker started")
}

// Stop shuts the loop down and waits for in-flight entries to finish.
func (w *Worker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	close(w.stop)
	w.mu.Unlock()

	w.wg.Wait()
	w.log.Info().Msg("sync worker stopped")
}

// Processing reports whether the worker currently holds an active
// (non-backoff-waiting) entry for the integration. Backing-off entries
// sit in the store with a future next-attempt time and do not count.
func (w *Worker) Processing(integrationID uint) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.active[integrationID]
}

func (w *Worker) loop() {
	defer w.wg.Done()

	interval := w.cfg.PollInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Immediate first pass so restarts pick up leftover entries fast.
	w.dispatch()

	for {
		select {
		case <-w.stop:
			return
		case <-ticker.C:
			w.dispatch()
		}
	}
}

// dispatch launches one serial processor per integration with due
// work, bounded by the pool. Integrations already being processed are
// skipped; their processor picks up newly due entries itself.
func (w *Worker) dispatch() {
	ids, err := w.svc.Store().DueIntegrations(time.Now())
	if err != nil {
		w.log.Error().Err(err).Msg("failed to list due integrations")
		return
	}

	for _, id := range ids {
		w.mu.Lock()
		if w.active[id] {
			w.mu.Unlock()
			continue
		}
		w.mu.Unlock()

		select {
		case w.sem <- struct{}{}:
		default:
			return // pool exhausted, next tick resumes
		}

		w.mu.Lock()
		if w.active[id] {
			w.mu.Unlock()
			<-w.sem
			continue
		}
		w.active[id] = true
		w.mu.Unlock()

		w.wg.Add(1)
		go w.processIntegration(id)
	}
}

// processIntegration runs the integration's queue FIFO until no due
// entry remains. Entries waiting out a retry backoff are not due, so
// the processor exits instead of blocking and a later tick resumes.
func (w *Worker) processIntegration(integrationID uint) {
	defer w.wg.Done()
	defer func() {
		w.mu.Lock()
		delete(w.active, integrationID)
		w.mu.Unlock()
		<-w.sem
	}()

	for {
		select {
		case <-w.stop:
			return
		default:
		}

		entry, err := w.claimNext(integrationID)
		if err != nil {
			w.log.Error().Err(err).Uint("integration_id", integrationID).Msg("failed to claim queue entry")
			return
		}
		if entry == nil {
			return
		}

		w.processEntry(entry)
	}
}

// claimNext pops the oldest due pending entry, marking it processing
// under the same lock the enqueue path takes.
func (w *Worker) claimNext(integrationID uint) (*models.SyncQueueEntry, error) {
	w.svc.mu.Lock()
	defer w.svc.mu.Unlock()

	entry, err := w.svc.Store().NextDue(integrationID, time.Now())
	if err != nil || entry == nil {
		return nil, err
	}

	entry.State = models.EntryStateProcessing
	if err := w.svc.Store().Update(entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (w *Worker) processEntry(entry *models.SyncQueueEntry) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	entry.AttemptCount++
	issue, err := w.svc.Forwarder().Forward(ctx, entry, nil)
	now := time.Now()

	switch {
	case err == nil:
		entry.State = models.EntryStateDone
		entry.LastError = ""
		entry.FinishedAt = &now
		if storeErr := w.svc.Store().Update(entry); storeErr != nil {
			w.log.Error().Err(storeErr).Uint("entry_id", entry.ID).Msg("failed to persist completion")
		}
		w.log.Info().
			Uint("report_id", entry.ReportID).
			Uint("integration_id", entry.IntegrationID).
			Int("issue_number", issue.Number).
			Int("attempts", entry.AttemptCount).
			Msg("queue entry done")

	case tracker.IsRetryable(err) && entry.AttemptCount < w.maxAttempts():
		// Back off without blocking the integration's processor: the
		// entry returns to pending with a future attempt time and the
		// report stays at pending so the UI shows in-progress, not a
		// false error.
		delay := w.backoff(entry.AttemptCount)
		entry.State = models.EntryStatePending
		entry.LastError = err.Error()
		entry.NextAttemptAt = now.Add(delay)
		if storeErr := w.svc.Store().Update(entry); storeErr != nil {
			w.log.Error().Err(storeErr).Uint("entry_id", entry.ID).Msg("failed to persist retry state")
		}
		w.log.Warn().
			Uint("report_id", entry.ReportID).
			Int("attempt", entry.AttemptCount).
			Dur("backoff", delay).
			Err(err).
			Msg("forward failed, will retry")

	default:
		// Terminal tracker error, or retry budget exhausted. Retrying
		// a permission error only wastes quota, so those short-circuit
		// without consuming the budget.
		w.failEntry(entry, err, now)
	}
}

// failEntry moves the entry out of the active queue and records the
// failure on the report. Nothing resurrects a failed entry
// automatically; retry-sync re-enqueues with a fresh counter.
func (w *Worker) failEntry(entry *models.SyncQueueEntry, cause error, now time.Time) {
	entry.State = models.EntryStateFailed
	entry.LastError = cause.Error()
	entry.FinishedAt = &now
	if storeErr := w.svc.Store().Update(entry); storeErr != nil {
		w.log.Error().Err(storeErr).Uint("entry_id", entry.ID).Msg("failed to persist failure")
	}

	err := w.db.Model(&models.Report{}).Where("id = ?", entry.ReportID).
		Updates(map[string]interface{}{
			"sync_status": models.SyncStatusError,
			"sync_error":  cause.Error(),
		}).Error
	if err != nil {
		w.log.Error().Err(err).Uint("report_id", entry.ReportID).Msg("failed to record sync error on report")
	}

	w.log.Error().
		Uint("report_id", entry.ReportID).
		Uint("integration_id", entry.IntegrationID).
		Int("attempts", entry.AttemptCount).
		Bool("terminal", tracker.IsTerminal(cause)).
		Err(cause).
		Msg("queue entry failed")
}

func (w *Worker) maxAttempts() int {
	if w.cfg.MaxAttempts <= 0 {
		return 1
	}
	return w.cfg.MaxAttempts
}

// backoff returns the delay before attempt n+1: base doubled per
// failed attempt, capped.
func (w *Worker) backoff(attempts int) time.Duration {
	base := w.cfg.BackoffBase
	if base <= 0 {
		base = 30 * time.Second
	}
	limit := w.cfg.BackoffCap
	if limit <= 0 {
		limit = 15 * time.Minute
	}

	delay := base
	for i := 1; i < attempts && delay < limit; i++ {
		delay *= 2
	}
	if delay > limit {
		delay = limit
	}
	return delay
}
