package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/caribu66/veruspulse-sub005/pkg/errs"
)

// DefaultSyncCeiling bounds how long WaitSync polls before giving up.
const DefaultSyncCeiling = 5 * time.Minute

// DefaultSyncPoll is the progress polling period used by WaitSync.
const DefaultSyncPoll = 2 * time.Second

// ErrSyncFailed is returned by WaitSync when the backend reports the job
// ended in error.
var ErrSyncFailed = errors.New("sync job failed")

// StartSync asks the backend to start a background synchronization job.
// A 409 response means an equivalent job is already running; it is
// reported as alreadyRunning with a nil error.
func (c *Client) StartSync(ctx context.Context) (alreadyRunning bool, err error) {
	const op = "start sync"

	resp, err := c.do(ctx, op, http.MethodPost, c.endpoint("/api/sync", nil))
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusConflict {
		c.log.Debug("sync already running")
		return true, nil
	}

	env, rerr := readEnvelope(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		se := &StatusError{Code: resp.StatusCode}
		if rerr == nil {
			se.Message = env.Error
		}
		return false, errs.Network(op, se)
	}
	if rerr != nil {
		return false, errs.Schema(op, rerr)
	}
	if !env.Success {
		return false, errs.Schemaf(op, "backend refused sync: %s", env.Error)
	}
	return false, nil
}

// SyncProgress returns the state of the background sync job.
func (c *Client) SyncProgress(ctx context.Context) (SyncProgress, error) {
	var out SyncProgress
	err := c.get(ctx, "sync progress", "/api/sync/progress", nil, &out)
	return out, err
}

// WaitSync polls SyncProgress every period until the job completes or
// fails. After ceiling it gives up with a timeout error. Transient
// progress failures are logged and retried on the next poll. Zero values
// select DefaultSyncPoll and DefaultSyncCeiling.
func (c *Client) WaitSync(ctx context.Context, every, ceiling time.Duration) (SyncProgress, error) {
	const op = "wait sync"
	if every <= 0 {
		every = DefaultSyncPoll
	}
	if ceiling <= 0 {
		ceiling = DefaultSyncCeiling
	}

	deadline := c.clock.NewTimer(ceiling)
	defer deadline.Stop()
	ticker := c.clock.NewTicker(every)
	defer ticker.Stop()

	var last SyncProgress
	for {
		p, err := c.SyncProgress(ctx)
		switch {
		case errs.IsCancellation(err):
			return last, err
		case err != nil:
			c.log.Debug("sync progress unavailable", "error", err)
		default:
			last = p
			if p.Status == SyncError {
				return p, fmt.Errorf("%s: %w: %s", op, ErrSyncFailed, p.Error)
			}
			if p.Done() {
				return p, nil
			}
		}

		select {
		case <-ctx.Done():
			return last, classifyContext(op, ctx.Err())
		case <-deadline.C():
			return last, errs.Timeout(op, fmt.Errorf("sync did not finish within %s", ceiling))
		case <-ticker.C():
		}
	}
}
