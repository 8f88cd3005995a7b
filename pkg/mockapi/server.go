// Package mockapi serves a deterministic in-process VerusPulse backend.
// It backs the -use-mocks mode and the integration tests of the feeds and
// the API client.
package mockapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/dimfeld/httptreemux/v5"
	"k8s.io/utils/clock"

	"github.com/caribu66/veruspulse-sub005/pkg/api"
)

// DefaultHeight is the chain height of a fresh dataset.
const DefaultHeight = 3_200_000

// Routes served by the mock backend.
const (
	RouteBlocks     = "/api/blocks/latest"
	RouteMempool    = "/api/mempool"
	RouteActivity   = "/api/activity"
	RouteTrending   = "/api/trending"
	RouteFeatured   = "/api/verusids/featured"
	RouteIdentity   = "/api/verusids/:name"
	RouteStakeLive  = "/api/staking/:id/live"
	RouteStakeHist  = "/api/staking/:id/historical"
	RouteSync       = "/api/sync"
	RouteSyncStatus = "/api/sync/progress"
)

type handlerFunc func(ctx context.Context, w http.ResponseWriter, r *http.Request) error

// statusError carries the HTTP status for an expected failure.
type statusError struct {
	err    error
	status int
}

func (e *statusError) Error() string { return e.err.Error() }

func withStatus(status int, format string, args ...any) error {
	return &statusError{err: fmt.Errorf(format, args...), status: status}
}

// Option configures a Server.
type Option func(*Server)

// WithSeed fixes the random seed for generated data.
func WithSeed(seed uint64) Option {
	return func(s *Server) { s.seed = seed }
}

// WithClock injects the clock used for block times and AutoAdvance.
func WithClock(c clock.WithTicker) Option {
	return func(s *Server) { s.clock = c }
}

// WithLogger sets the request logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.log = l }
}

// WithSyncSteps sets how many progress polls a sync job takes to finish.
func WithSyncSteps(n int) Option {
	return func(s *Server) { s.syncSteps = n }
}

// Server is the mock backend. It is safe for concurrent use.
type Server struct {
	mux       *httptreemux.ContextMux
	log       *slog.Logger
	clock     clock.WithTicker
	seed      uint64
	syncSteps int

	mu       sync.Mutex
	data     *dataset
	failNext map[string]int
	delay    map[string]time.Duration
	requests map[string]int
	sync     api.SyncProgress
}

// New builds a mock backend with generated data.
func New(opts ...Option) *Server {
	s := &Server{
		log:       slog.New(slog.DiscardHandler),
		clock:     clock.RealClock{},
		seed:      1,
		syncSteps: 4,
		failNext:  make(map[string]int),
		delay:     make(map[string]time.Duration),
		requests:  make(map[string]int),
		sync:      api.SyncProgress{Status: api.SyncIdle},
	}
	for _, opt := range opts {
		opt(s)
	}
	base := s.clock.Now().Unix() - DefaultHeight*60
	s.data = newDataset(s.seed, base, DefaultHeight)

	s.mux = httptreemux.NewContextMux()
	s.mux.NotFoundHandler = func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, api.Envelope{Error: "route not found"})
	}

	s.handle(http.MethodGet, RouteBlocks, s.blocks)
	s.handle(http.MethodGet, RouteMempool, s.mempool)
	s.handle(http.MethodGet, RouteActivity, s.activity)
	s.handle(http.MethodGet, RouteTrending, s.trending)
	s.handle(http.MethodGet, RouteFeatured, s.featured)
	s.handle(http.MethodGet, RouteIdentity, s.identity)
	s.handle(http.MethodGet, RouteStakeLive, s.stakingLive)
	s.handle(http.MethodGet, RouteStakeHist, s.stakingHistorical)
	s.handle(http.MethodPost, RouteSync, s.startSync)
	s.handle(http.MethodGet, RouteSyncStatus, s.syncProgress)
	return s
}

// Handler returns the HTTP handler.
func (s *Server) Handler() http.Handler { return s.mux }

// handle registers h under route with failure injection, request counting
// and envelope error encoding.
func (s *Server) handle(method, route string, h handlerFunc) {
	s.mux.Handle(method, route, func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.requests[route]++
		fail := s.failNext[route] > 0
		if fail {
			s.failNext[route]--
		}
		delay := s.delay[route]
		s.mu.Unlock()

		if delay > 0 {
			select {
			case <-time.After(delay):
			case <-r.Context().Done():
				return
			}
		}

		var err error
		if fail {
			err = withStatus(http.StatusServiceUnavailable, "injected failure")
		} else {
			err = h(r.Context(), w, r)
		}
		if err == nil {
			return
		}

		status := http.StatusInternalServerError
		var se *statusError
		if errors.As(err, &se) {
			status = se.status
		}
		s.log.Debug("mock request failed", "route", route, "status", status, "error", err)
		writeJSON(w, status, api.Envelope{Error: err.Error()})
	})
}

// --- Control ---

// FailNext makes the next n requests to route fail with 503.
func (s *Server) FailNext(route string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext[route] = n
}

// Delay holds every request to route for d before answering.
func (s *Server) Delay(route string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay[route] = d
}

// Requests returns how many requests route has received.
func (s *Server) Requests(route string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[route]
}

// Advance mines one block and records one activity event. It returns the
// new head block.
func (s *Server) Advance() api.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	b := s.data.pushBlock(s.data.head().Height + 1)
	s.data.pushActivity()
	return b
}

// Head returns the current head block.
func (s *Server) Head() api.Block {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.data.head()
}

// AutoAdvance calls Advance every interval until ctx is done.
func (s *Server) AutoAdvance(ctx context.Context, every time.Duration) {
	t := s.clock.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C():
			b := s.Advance()
			s.log.Debug("mock block mined", "height", b.Height)
		}
	}
}

// ListenAndServe serves on addr until ctx is done and returns the base URL
// once the listener is bound.
func (s *Server) ListenAndServe(ctx context.Context, addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", fmt.Errorf("mock api listen: %w", err)
	}
	srv := &http.Server{
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("mock api stopped", "error", err)
		}
	}()
	return "http://" + ln.Addr().String(), nil
}

// --- Handlers ---

func (s *Server) blocks(_ context.Context, w http.ResponseWriter, r *http.Request) error {
	limit, err := parseLimit(r, 10)
	if err != nil {
		return err
	}
	s.mu.Lock()
	out := clip(s.data.blocks, limit)
	s.mu.Unlock()
	return respond(w, out)
}

func (s *Server) mempool(_ context.Context, w http.ResponseWriter, _ *http.Request) error {
	s.mu.Lock()
	out := s.data.mempool()
	s.mu.Unlock()
	return respond(w, out)
}

func (s *Server) activity(_ context.Context, w http.ResponseWriter, r *http.Request) error {
	limit, err := parseLimit(r, 20)
	if err != nil {
		return err
	}
	s.mu.Lock()
	out := clip(s.data.activity, limit)
	s.mu.Unlock()
	return respond(w, out)
}

func (s *Server) trending(_ context.Context, w http.ResponseWriter, _ *http.Request) error {
	s.mu.Lock()
	out := s.data.trending()
	s.mu.Unlock()
	return respond(w, out)
}

func (s *Server) featured(_ context.Context, w http.ResponseWriter, _ *http.Request) error {
	s.mu.Lock()
	out := s.data.featured()
	s.mu.Unlock()
	return respond(w, out)
}

func (s *Server) identity(ctx context.Context, w http.ResponseWriter, _ *http.Request) error {
	name := httptreemux.ContextParams(ctx)["name"]
	s.mu.Lock()
	id, ok := s.data.lookup(name)
	s.mu.Unlock()
	if !ok {
		return withStatus(http.StatusNotFound, "identity %q not found", name)
	}
	return respond(w, id)
}

func (s *Server) stakingLive(ctx context.Context, w http.ResponseWriter, _ *http.Request) error {
	rec, err := s.stakingRecord(ctx)
	if err != nil {
		return err
	}
	return respond(w, rec.live)
}

func (s *Server) stakingHistorical(ctx context.Context, w http.ResponseWriter, _ *http.Request) error {
	rec, err := s.stakingRecord(ctx)
	if err != nil {
		return err
	}
	return respond(w, rec.hist)
}

func (s *Server) stakingRecord(ctx context.Context) (stakingRecord, error) {
	q := httptreemux.ContextParams(ctx)["id"]
	s.mu.Lock()
	defer s.mu.Unlock()
	id, ok := s.data.lookup(q)
	if !ok {
		return stakingRecord{}, withStatus(http.StatusNotFound, "identity %q not found", q)
	}
	return s.data.staking[id.Address], nil
}

func (s *Server) startSync(_ context.Context, w http.ResponseWriter, _ *http.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sync.Status == api.SyncRunning {
		return withStatus(http.StatusConflict, "sync already in progress")
	}
	s.sync = api.SyncProgress{
		Status: api.SyncRunning,
		Total:  s.syncSteps * 25,
	}
	return respond(w, s.sync)
}

// syncProgress advances a running job by one step per poll.
func (s *Server) syncProgress(_ context.Context, w http.ResponseWriter, _ *http.Request) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.sync.Status == api.SyncRunning {
		step := s.sync.Total / max(s.syncSteps, 1)
		s.sync.Processed = min(s.sync.Processed+step, s.sync.Total)
		if s.sync.Total > 0 {
			s.sync.PercentComplete = float64(s.sync.Processed) * 100 / float64(s.sync.Total)
		}
		if len(s.data.identities) > 0 {
			s.sync.Current = s.data.identities[s.sync.Processed%len(s.data.identities)].Name + "@"
		}
		remaining := int64(s.sync.Total-s.sync.Processed) * 2
		s.sync.EstimatedTimeRemaining = &remaining
		if s.sync.Processed >= s.sync.Total {
			s.sync.Status = api.SyncCompleted
			s.sync.Current = ""
			s.sync.EstimatedTimeRemaining = nil
		}
	}
	return respond(w, s.sync)
}

// --- Encoding ---

func respond(w http.ResponseWriter, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode data: %w", err)
	}
	writeJSON(w, http.StatusOK, api.Envelope{Success: true, Data: raw})
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, withStatus(http.StatusBadRequest, "invalid limit %q", raw)
	}
	return n, nil
}

func clip[T any](items []T, limit int) []T {
	if limit > len(items) {
		limit = len(items)
	}
	return append([]T(nil), items[:limit]...)
}
