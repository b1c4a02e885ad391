package accel

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"videolingo/internal/config"
	"videolingo/internal/logging"
)

func TestReclaimRunsGCAndCommand(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "reclaimed")
	r := New([]string{"sh", "-c", "touch \"$0\"", marker}, time.Second, logging.NewNop())
	gcCalls := 0
	r.gc = func() { gcCalls++ }

	r.Reclaim(context.Background())

	if gcCalls != 1 {
		t.Fatalf("expected gc once, got %d", gcCalls)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected reclaim command to run: %v", err)
	}
}

func TestReclaimSwallowsCommandFailure(t *testing.T) {
	r := New([]string{"sh", "-c", "exit 3"}, time.Second, logging.NewNop())
	r.gc = func() {}
	r.Reclaim(context.Background())
}

func TestReclaimMissingBinaryIsIgnored(t *testing.T) {
	r := New([]string{"/nonexistent/reclaim-helper"}, time.Second, logging.NewNop())
	r.gc = func() {}
	r.Reclaim(context.Background())
}

func TestReclaimNilReceiver(t *testing.T) {
	var r *Reclaimer
	r.Reclaim(context.Background())
}

func TestReclaimRunsDespiteCancelledContext(t *testing.T) {
	marker := filepath.Join(t.TempDir(), "reclaimed")
	r := NewFromConfig(config.Accelerator{
		ReclaimCommand:        []string{"sh", "-c", "touch \"$0\"", marker},
		ReclaimTimeoutSeconds: 5,
	}, logging.NewNop())
	r.gc = func() {}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	r.Reclaim(ctx)

	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected reclaim command to run on cancelled ctx: %v", err)
	}
}
