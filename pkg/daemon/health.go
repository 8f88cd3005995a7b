package daemon

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
	"github.com/caribu66/veruspulse-sub005/pkg/cache"
	"github.com/caribu66/veruspulse-sub005/pkg/poll"
)

// HealthStatus is the daemon state published to the health file and the
// HEALTH command.
type HealthStatus struct {
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"startedAt"`
	UpdatedAt time.Time `json:"updatedAt"`
	Uptime    string    `json:"uptime"`

	// Healthy is true when no feed's most recent cycle failed.
	Healthy bool           `json:"healthy"`
	Feeds   []poll.Session `json:"feeds"`
	Cache   cache.Stats    `json:"cache"`

	// Sync is the last observed background sync progress, if any.
	Sync *api.SyncProgress `json:"sync,omitempty"`
}

// newHealthStatus derives Healthy from the feed sessions.
func newHealthStatus(pid int, started, now time.Time, feeds []poll.Session, stats cache.Stats, progress *api.SyncProgress) *HealthStatus {
	h := &HealthStatus{
		PID:       pid,
		StartedAt: started,
		UpdatedAt: now,
		Uptime:    now.Sub(started).Truncate(time.Second).String(),
		Healthy:   true,
		Feeds:     feeds,
		Cache:     stats,
		Sync:      progress,
	}
	for _, f := range feeds {
		if f.LastError != "" {
			h.Healthy = false
			break
		}
	}
	return h
}

// WriteHealthFile writes the health status as indented JSON to path.
// The write is atomic: content goes to a temporary file first, then is
// renamed into place to prevent partial reads.
func WriteHealthFile(path string, status *HealthStatus) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create health directory: %w", err)
	}

	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal health status: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp health file: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename health file: %w", err)
	}

	return nil
}

// ReadHealthFile reads and parses the health status JSON from path.
func ReadHealthFile(path string) (*HealthStatus, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read health file: %w", err)
	}

	var status HealthStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("unmarshal health file: %w", err)
	}

	return &status, nil
}
