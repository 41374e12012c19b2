package app

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"ai-speech-intelligence-service/internal/config"
	"ai-speech-intelligence-service/internal/observability/logging"
)

// Application holds process-wide state for the service: the session root
// context, in-flight session tracking and the resources to release on exit.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	ready atomic.Bool

	// sessMu orders sessions.Add against the start of Shutdown.
	sessMu   sync.Mutex
	draining bool
	sessions sync.WaitGroup
	active   atomic.Int64

	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	closers []closer
}

type closer struct {
	name string
	fn   func() error
}

// New constructs a new Application from the provided configuration.
func New(cfg *config.Configuration) *Application {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Application{
		Cfg:    cfg,
		ctx:    ctx,
		cancel: cancel,
	}
	a.setupLogger()

	appLogger := a.Logger.With().
		Str("method", "New").
		Logger()

	appLogger.Info().Msg("AI Speech Intelligence service application created")
	return a
}

// setupLogger configures zerolog for the service.
func (a *Application) setupLogger() {
	logging.Init(logging.Config{
		Level:   a.Cfg.Observability.LogLevel,
		Format:  a.Cfg.Observability.LogFormat,
		Service: "ai-speech-intelligence-service",
	})
	a.Logger = logging.WithComponent("application")

	a.Logger.Info().
		Str("logLevel", zerolog.GlobalLevel().String()).
		Str("logFormat", a.Cfg.Observability.LogFormat).
		Msg("Logger setup completed")
}

// AddCloser registers a resource to release on Shutdown. Closers run in
// reverse registration order.
func (a *Application) AddCloser(name string, fn func() error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.closers = append(a.closers, closer{name: name, fn: fn})
}

// Start marks the service ready to serve traffic.
func (a *Application) Start() error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	a.ready.Store(true)
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Msg("AI Speech Intelligence service starting")

	return nil
}

// Ready reports whether the service accepts new sessions.
func (a *Application) Ready() bool {
	return a.ready.Load()
}

// SessionContext is the parent context of every live session. It is
// canceled when shutdown begins.
func (a *Application) SessionContext() context.Context {
	return a.ctx
}

// TrackSession registers an in-flight session and reports false once
// Shutdown has begun. The returned func must be called once the session is
// closed; it is a no-op when tracking was refused.
func (a *Application) TrackSession() (func(), bool) {
	a.sessMu.Lock()
	defer a.sessMu.Unlock()
	if a.draining {
		return func() {}, false
	}
	a.sessions.Add(1)
	a.active.Add(1)
	var once sync.Once
	return func() {
		once.Do(func() {
			a.active.Add(-1)
			a.sessions.Done()
		})
	}, true
}

// ActiveSessions returns the number of tracked sessions.
func (a *Application) ActiveSessions() int64 {
	return a.active.Load()
}

// Shutdown stops accepting sessions, ends streaming on the open ones, waits
// for them to finalize until ctx is done and then releases resources.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Int64("activeSessions", a.active.Load()).Msg("AI Speech Intelligence service shutting down")
	a.sessMu.Lock()
	a.draining = true
	a.ready.Store(false)
	a.sessMu.Unlock()
	a.cancel()

	drained := make(chan struct{})
	go func() {
		a.sessions.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		shutdownLogger.Info().Msg("All sessions finalized")
	case <-ctx.Done():
		shutdownLogger.Warn().Int64("activeSessions", a.active.Load()).Msg("Shutdown deadline reached with sessions in flight")
	}

	a.mu.Lock()
	closers := a.closers
	a.closers = nil
	a.mu.Unlock()
	for i := len(closers) - 1; i >= 0; i-- {
		if err := closers[i].fn(); err != nil {
			shutdownLogger.Warn().Err(err).Str("resource", closers[i].name).Msg("Close failed")
		}
	}
}
