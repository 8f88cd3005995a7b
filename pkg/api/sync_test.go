package api

import (
	"context"
	"errors"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/caribu66/veruspulse-sub005/pkg/errs"
)

func TestStartSyncAccepted(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/api/sync" {
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
		w.Write([]byte(`{"success":true,"data":{"status":"running"}}`))
	})

	running, err := c.StartSync(context.Background())
	if err != nil || running {
		t.Fatalf("StartSync = %v, %v", running, err)
	}
}

func TestStartSyncConflictIsNotAnError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"success":false,"error":"sync already in progress"}`))
	})

	running, err := c.StartSync(context.Background())
	if err != nil {
		t.Fatalf("409 surfaced as error: %v", err)
	}
	if !running {
		t.Fatal("409 should report alreadyRunning")
	}
}

func TestStartSyncServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	if _, err := c.StartSync(context.Background()); !errs.Is(err, errs.KindNetwork) {
		t.Fatalf("err = %v, want network error", err)
	}
}

func progressServer(t *testing.T, statuses ...string) (*Client, *atomic.Int32) {
	t.Helper()
	var calls atomic.Int32
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		n := int(calls.Add(1)) - 1
		if n >= len(statuses) {
			n = len(statuses) - 1
		}
		p := SyncProgress{Status: statuses[n], Total: 10, Processed: n, PercentComplete: float64(n * 10)}
		if p.Status == SyncError {
			p.Error = "rpc timeout"
		}
		envelope(t, w, http.StatusOK, p)
	})
	return c, &calls
}

func TestWaitSyncCompletes(t *testing.T) {
	c, calls := progressServer(t, SyncRunning, SyncRunning, SyncCompleted)

	p, err := c.WaitSync(context.Background(), 5*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("WaitSync: %v", err)
	}
	if p.Status != SyncCompleted {
		t.Errorf("status = %s", p.Status)
	}
	if got := calls.Load(); got != 3 {
		t.Errorf("progress polls = %d, want 3", got)
	}
}

func TestWaitSyncReportsJobFailure(t *testing.T) {
	c, _ := progressServer(t, SyncRunning, SyncError)

	_, err := c.WaitSync(context.Background(), 5*time.Millisecond, time.Second)
	if !errors.Is(err, ErrSyncFailed) {
		t.Fatalf("err = %v, want ErrSyncFailed", err)
	}
}

func TestWaitSyncCeiling(t *testing.T) {
	c, _ := progressServer(t, SyncRunning)

	p, err := c.WaitSync(context.Background(), 5*time.Millisecond, 50*time.Millisecond)
	if !errs.Is(err, errs.KindTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if p.Status != SyncRunning {
		t.Errorf("last progress = %+v", p)
	}
}

func TestWaitSyncCancelled(t *testing.T) {
	c, _ := progressServer(t, SyncRunning)

	ctx, cancel := context.WithCancel(context.Background())
	time.AfterFunc(30*time.Millisecond, cancel)
	_, err := c.WaitSync(ctx, 5*time.Millisecond, time.Minute)
	if !errs.IsCancellation(err) {
		t.Fatalf("err = %v, want cancellation", err)
	}
}

func TestSyncProgressAcceptsPaused(t *testing.T) {
	c, _ := progressServer(t, SyncPaused)

	p, err := c.SyncProgress(context.Background())
	if err != nil {
		t.Fatalf("SyncProgress(paused): %v", err)
	}
	if p.Status != SyncPaused || p.Done() {
		t.Errorf("progress = %+v, want paused and not done", p)
	}
}

func TestWaitSyncWaitsThroughPause(t *testing.T) {
	c, calls := progressServer(t, SyncRunning, SyncPaused, SyncPaused, SyncCompleted)

	p, err := c.WaitSync(context.Background(), 5*time.Millisecond, time.Second)
	if err != nil {
		t.Fatalf("WaitSync: %v", err)
	}
	if p.Status != SyncCompleted {
		t.Errorf("status = %s", p.Status)
	}
	if got := calls.Load(); got != 4 {
		t.Errorf("progress polls = %d, want 4", got)
	}
}

func TestWaitSyncCeilingReportsPause(t *testing.T) {
	c, _ := progressServer(t, SyncPaused)

	p, err := c.WaitSync(context.Background(), 5*time.Millisecond, 50*time.Millisecond)
	if !errs.Is(err, errs.KindTimeout) {
		t.Fatalf("err = %v, want timeout", err)
	}
	if p.Status != SyncPaused {
		t.Errorf("last progress = %+v, want the paused report", p)
	}
}
