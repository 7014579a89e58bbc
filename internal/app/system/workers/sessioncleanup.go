// internal/app/system/workers/sessioncleanup.go
package workers

import (
	"context"
	"sync"
	"time"

	"github.com/dalemusser/ridechat/internal/app/system/timeouts"
	"go.uber.org/zap"
)

// InactiveCloser closes sessions that have been idle for longer than a threshold.
type InactiveCloser interface {
	CloseInactiveSessions(ctx context.Context, inactiveThreshold time.Duration) (int64, error)
}

// SessionCleanup is a background worker that closes inactive sessions.
// A closed session can no longer open realtime connections.
type SessionCleanup struct {
	sessions          InactiveCloser
	log               *zap.Logger
	interval          time.Duration
	inactiveThreshold time.Duration
	stopCh            chan struct{}
	stopOnce          sync.Once
	wg                sync.WaitGroup
}

// NewSessionCleanup creates a new session cleanup worker.
//
// Parameters:
//   - store: the sessions store
//   - logger: zap logger for logging
//   - interval: how often to sweep (e.g., 5 minutes)
//   - inactiveThreshold: idle time before a session is closed (e.g., 24 hours)
func NewSessionCleanup(store InactiveCloser, logger *zap.Logger, interval, inactiveThreshold time.Duration) *SessionCleanup {
	return &SessionCleanup{
		sessions:          store,
		log:               logger,
		interval:          interval,
		inactiveThreshold: inactiveThreshold,
		stopCh:            make(chan struct{}),
	}
}

// Start begins the background cleanup loop.
func (w *SessionCleanup) Start() {
	w.wg.Add(1)
	go w.run()
	w.log.Info("session cleanup worker started",
		zap.Duration("interval", w.interval),
		zap.Duration("inactive_threshold", w.inactiveThreshold))
}

// Stop signals the worker to stop and waits for it to finish.
// Calling Stop more than once is safe.
func (w *SessionCleanup) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.wg.Wait()
		w.log.Info("session cleanup worker stopped")
	})
}

// Sweep runs one cleanup pass and returns how many sessions were closed.
func (w *SessionCleanup) Sweep(ctx context.Context) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, timeouts.Long())
	defer cancel()

	count, err := w.sessions.CloseInactiveSessions(ctx, w.inactiveThreshold)
	if err != nil {
		w.log.Error("failed to close inactive sessions", zap.Error(err))
		return 0, err
	}
	if count > 0 {
		w.log.Info("closed inactive sessions", zap.Int64("count", count))
	}
	return count, nil
}

func (w *SessionCleanup) run() {
	defer w.wg.Done()

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			_, _ = w.Sweep(context.Background())
		}
	}
}
