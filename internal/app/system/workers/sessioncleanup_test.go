package workers_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/ridechat/internal/app/store/sessions"
	"github.com/dalemusser/ridechat/internal/app/system/workers"
	"github.com/dalemusser/ridechat/internal/testutil"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type countingCloser struct {
	calls atomic.Int32
	err   error
}

func (c *countingCloser) CloseInactiveSessions(context.Context, time.Duration) (int64, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestSessionCleanup_TicksUntilStopped(t *testing.T) {
	closer := &countingCloser{}
	w := workers.NewSessionCleanup(closer, zap.NewNop(), 5*time.Millisecond, time.Hour)
	w.Start()

	deadline := time.Now().Add(2 * time.Second)
	for closer.calls.Load() < 2 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	w.Stop()
	w.Stop()

	if closer.calls.Load() < 2 {
		t.Fatalf("expected at least 2 sweeps, got %d", closer.calls.Load())
	}
	after := closer.calls.Load()
	time.Sleep(20 * time.Millisecond)
	if closer.calls.Load() != after {
		t.Error("worker kept sweeping after Stop")
	}
}

func TestSessionCleanup_SweepError(t *testing.T) {
	closer := &countingCloser{err: errors.New("boom")}
	w := workers.NewSessionCleanup(closer, zap.NewNop(), time.Hour, time.Hour)

	if _, err := w.Sweep(context.Background()); err == nil {
		t.Error("expected sweep error to be returned")
	}
}

func TestSessionCleanup_ClosesIdleSessions(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	store := sessions.New(db)
	idle, err := store.Create(ctx, primitive.NewObjectID(), "127.0.0.1", "test", sessions.CreatedByLogin)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	fresh, err := store.Create(ctx, primitive.NewObjectID(), "127.0.0.1", "test", sessions.CreatedByLogin)
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err = db.Collection("sessions").UpdateOne(ctx,
		bson.M{"_id": idle.ID},
		bson.M{"$set": bson.M{"last_active_at": time.Now().UTC().Add(-2 * time.Hour)}})
	if err != nil {
		t.Fatalf("backdate failed: %v", err)
	}

	w := workers.NewSessionCleanup(store, zap.NewNop(), time.Hour, time.Hour)
	n, err := w.Sweep(ctx)
	if err != nil {
		t.Fatalf("Sweep failed: %v", err)
	}
	if n != 1 {
		t.Errorf("closed: got %d, want 1", n)
	}

	got, _ := store.GetByID(ctx, idle.ID)
	if got.Active() || got.EndReason != sessions.EndInactive {
		t.Errorf("idle session: active=%v reason=%q", got.Active(), got.EndReason)
	}
	got, _ = store.GetByID(ctx, fresh.ID)
	if !got.Active() {
		t.Error("fresh session should stay open")
	}
}
