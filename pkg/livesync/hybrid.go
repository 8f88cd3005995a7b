package livesync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/caribu66/veruspulse-sub005/pkg/merge"
)

// HybridConfig describes a feed that merges a live and a historical source
// of the same record.
type HybridConfig[L, H any] struct {
	// Feed carries the shared feed settings. Its Fetch and ID are ignored.
	Feed Config[merge.ViewModel]

	Live       func(ctx context.Context) (L, error)
	Historical func(ctx context.Context) (H, error)
	Table      *merge.Table
}

// NewHybridFeed returns a feed whose single item is the merged view-model.
// Both sources are fetched concurrently. When one fails the other is
// merged alone and the failure is logged; when both fail the cycle fails.
func NewHybridFeed[L, H any](cfg HybridConfig[L, H]) (*Feed[merge.ViewModel], error) {
	if cfg.Live == nil || cfg.Historical == nil {
		return nil, fmt.Errorf("hybrid feed %s: both sources are required", cfg.Feed.Key)
	}
	if cfg.Table == nil {
		return nil, fmt.Errorf("hybrid feed %s: nil merge table", cfg.Feed.Key)
	}
	log := cfg.Feed.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	log = log.With("feed", cfg.Feed.Key)

	fc := cfg.Feed
	fc.ID = nil
	fc.Fetch = func(ctx context.Context) ([]merge.ViewModel, error) {
		vm, err := fetchHybrid(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return []merge.ViewModel{vm}, nil
	}
	return NewFeed(fc)
}

func fetchHybrid[L, H any](ctx context.Context, cfg HybridConfig[L, H], log *slog.Logger) (merge.ViewModel, error) {
	var (
		live, historical map[string]any
		liveErr, histErr error
	)

	// Neither source cancels the other; a partial result is still useful.
	// Each goroutine owns its own result variables.
	var wg sync.WaitGroup
	wg.Go(func() { live, liveErr = fetchMap(ctx, cfg.Live) })
	wg.Go(func() { historical, histErr = fetchMap(ctx, cfg.Historical) })
	wg.Wait()

	switch {
	case liveErr != nil && histErr != nil:
		return merge.ViewModel{}, errors.Join(liveErr, histErr)
	case liveErr != nil:
		if ctx.Err() != nil {
			return merge.ViewModel{}, liveErr
		}
		log.Warn("live source failed, using historical only", "error", liveErr)
	case histErr != nil:
		if ctx.Err() != nil {
			return merge.ViewModel{}, histErr
		}
		log.Warn("historical source failed, using live only", "error", histErr)
	}
	return merge.Merge(live, historical, cfg.Table), nil
}

func fetchMap[V any](ctx context.Context, fetch func(context.Context) (V, error)) (map[string]any, error) {
	v, err := fetch(ctx)
	if err != nil {
		return nil, err
	}
	return merge.ToMap(v)
}
