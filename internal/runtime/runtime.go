package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/loqalabs/loqa-interview/internal/analytics"
	"github.com/loqalabs/loqa-interview/internal/bus"
	"github.com/loqalabs/loqa-interview/internal/config"
	"github.com/loqalabs/loqa-interview/internal/coordinator"
	"github.com/loqalabs/loqa-interview/internal/dialogue"
	"github.com/loqalabs/loqa-interview/internal/evaluation"
	"github.com/loqalabs/loqa-interview/internal/eventstore"
	"github.com/loqalabs/loqa-interview/internal/natsserver"
	"github.com/loqalabs/loqa-interview/internal/protocol"
)

var errSessionNotFound = errors.New("interview session not found")

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	telemetry   *telemetry
	metrics     http.Handler
	ready       atomic.Bool
	wg          sync.WaitGroup

	nats      *natsserver.EmbeddedServer
	bus       *bus.Client
	store     *eventstore.Store
	generator dialogue.Generator
	evaluator *evaluation.Evaluator
	policy    analytics.Policy

	mu       sync.RWMutex
	sessions map[string]*session
}

type session struct {
	id       string
	coord    *coordinator.Coordinator
	adapters sessionAdapters
	rec      *recorder
	created  time.Time
	done     chan struct{}
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:      cfg,
		logger:   logger,
		sessions: make(map[string]*session),
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	tel, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.telemetry = tel
	r.metrics = tel.handler

	if err := r.prepare(ctx); err != nil {
		r.teardown()
		return err
	}

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           r.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	<-ctx.Done()
	r.logger.Info("runtime stopping")
	r.ready.Store(false)
	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()
	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()
	r.teardown()

	if err := r.telemetry.shutdown(shutdownCtx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}

	return nil
}

// prepare brings up the bus, the history store and the dialogue stack.
func (r *Runtime) prepare(ctx context.Context) error {
	policy, err := policyFrom(r.cfg.Analytics)
	if err != nil {
		return err
	}
	r.policy = policy

	if r.cfg.Bus.Enabled {
		r.nats, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return err
		}
		busCfg := r.cfg.Bus
		if url := r.nats.ClientURL(); url != "" {
			busCfg.Servers = []string{url}
		}
		r.bus, err = bus.Connect(ctx, busCfg, r.logger)
		if err != nil {
			return err
		}
		if r.cfg.Bus.EventStream != "" {
			subjects := []string{protocol.SubjectInterviewEvents + ".>"}
			if err := r.bus.EnsureStream(r.cfg.Bus.EventStream, subjects, 0); err != nil {
				r.logger.Warn("interview event stream unavailable", slog.String("error", err.Error()))
			}
		}
	}

	r.store, err = eventstore.Open(ctx, r.cfg.EventStore, r.logger)
	if err != nil {
		return fmt.Errorf("open event store: %w", err)
	}

	gen, backend, err := dialogue.NewGenerator(r.cfg.Dialogue)
	if err != nil {
		return fmt.Errorf("dialogue: %w", err)
	}
	r.generator = gen

	if r.cfg.Evaluation.Enabled {
		catalogue, err := evaluation.LoadCatalogue(r.cfg.Evaluation.Catalogue)
		if err != nil {
			return err
		}
		r.evaluator = evaluation.NewEvaluator(backend, catalogue, r.policy, r.logger)
	}
	return nil
}

func (r *Runtime) teardown() {
	r.closeSessions()
	if r.store != nil {
		if err := r.store.Close(); err != nil {
			r.logger.Warn("event store close failed", slog.String("error", err.Error()))
		}
	}
	r.bus.Close()
	r.nats.Shutdown()
}

func policyFrom(cfg config.AnalyticsConfig) (analytics.Policy, error) {
	mode, err := analytics.ParseLengthMode(cfg.ResponseLength)
	if err != nil {
		return analytics.Policy{}, err
	}
	return analytics.Policy{MaxSpeechRate: cfg.MaxSpeechRate, ResponseLength: mode}, nil
}

func (r *Runtime) coordinatorConfig() coordinator.Config {
	return coordinator.Config{
		Locale:            r.cfg.Capture.Locale,
		SilenceTimeout:    r.cfg.Capture.SilenceTimeout(),
		ListenWindow:      r.cfg.Capture.ListenWindow(),
		OpeningText:       r.cfg.Interview.OpeningText,
		NudgeText:         r.cfg.Interview.NudgeText,
		FallbackText:      r.cfg.Interview.FallbackText,
		GenerationTimeout: r.cfg.Dialogue.Timeout(),
	}
}

// createSession wires a coordinator to fresh adapters and starts the
// interview.
func (r *Runtime) createSession(ctx context.Context) (*session, error) {
	id := uuid.NewString()
	adapters, err := r.buildAdapters(id)
	if err != nil {
		return nil, err
	}
	if err := r.store.AppendInterview(ctx, id); err != nil {
		adapters.close()
		return nil, fmt.Errorf("record interview: %w", err)
	}

	s := &session{
		id:       id,
		adapters: adapters,
		rec:      newRecorder(id, r.store, r.bus, r.logger),
		created:  time.Now(),
		done:     make(chan struct{}),
	}
	s.coord = coordinator.New(r.coordinatorConfig(), adapters.capture, adapters.speech, r.generator,
		coordinator.WithID(id),
		coordinator.WithLogger(r.logger),
	)
	s.coord.Subscribe(s.rec.notify)

	r.mu.Lock()
	r.sessions[id] = s
	r.mu.Unlock()

	if err := s.coord.StartSession(ctx); err != nil {
		r.removeSession(id)
		return nil, err
	}
	r.logger.Info("interview started", slog.String("session_id", id))
	return s, nil
}

func (r *Runtime) lookup(id string) (*session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	if !ok {
		return nil, errSessionNotFound
	}
	return s, nil
}

// removeSession concludes and releases a live session. It reports whether
// the session existed.
func (r *Runtime) removeSession(id string) bool {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if !ok {
		return false
	}
	s.close()
	return true
}

func (r *Runtime) closeSessions() {
	r.mu.Lock()
	sessions := r.sessions
	r.sessions = make(map[string]*session)
	r.mu.Unlock()
	for _, s := range sessions {
		s.close()
	}
}

// close is called once, by whoever removed the session from the map.
func (s *session) close() {
	close(s.done)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	_ = s.coord.Conclude(ctx)
	s.coord.Close()
	s.rec.close()
	s.adapters.close()
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() && (r.bus == nil || r.bus.Healthy()) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
