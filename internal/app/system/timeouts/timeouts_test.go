package timeouts_test

import (
	"context"
	"testing"
	"time"

	"github.com/dalemusser/ridechat/internal/app/system/timeouts"
	"go.uber.org/zap"
)

func TestDefaults(t *testing.T) {
	timeouts.Reset()
	defer timeouts.Reset()

	if timeouts.Short() != timeouts.DefaultShort {
		t.Errorf("Short: got %v, want %v", timeouts.Short(), timeouts.DefaultShort)
	}
	if timeouts.Handshake() != timeouts.DefaultHandshake {
		t.Errorf("Handshake: got %v, want %v", timeouts.Handshake(), timeouts.DefaultHandshake)
	}
}

func TestConfigure_IgnoresZeroValues(t *testing.T) {
	timeouts.Reset()
	defer timeouts.Reset()

	timeouts.Configure(timeouts.Config{Handshake: 3 * time.Second})

	if timeouts.Handshake() != 3*time.Second {
		t.Errorf("Handshake: got %v, want 3s", timeouts.Handshake())
	}
	if timeouts.Medium() != timeouts.DefaultMedium {
		t.Errorf("Medium changed unexpectedly: %v", timeouts.Medium())
	}
}

func TestWithTimeout_Expires(t *testing.T) {
	ctx, cancel := timeouts.WithTimeout(context.Background(), time.Millisecond, zap.NewNop(), "test op")
	defer cancel()

	select {
	case <-ctx.Done():
	case <-time.After(time.Second):
		t.Fatal("expected context to expire")
	}
	if ctx.Err() != context.DeadlineExceeded {
		t.Errorf("expected DeadlineExceeded, got %v", ctx.Err())
	}
}
