package session

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"jobpilot/pkg/bus"
	"jobpilot/pkg/config"
	"jobpilot/pkg/logx"
	"jobpilot/pkg/metrics"
)

// ActionFunc is one unit of browser work, executed with exclusive access to
// the driver.
type ActionFunc func(ctx context.Context, drv Driver) (any, error)

type actionRequest struct {
	ctx   context.Context
	fn    ActionFunc
	reply chan actionResult
	kind  string
}

type actionResult struct {
	value any
	err   error
}

// Manager serializes all browser work through a single worker goroutine.
// The queue holds at most one pending action; further callers block until
// the slot frees, so browser operations never overlap.
type Manager struct {
	cfg         config.SessionConfig
	driver      Driver
	broadcaster *bus.Broadcaster
	recorder    *metrics.Recorder
	logger      *logx.Logger

	queue    chan actionRequest
	shutdown chan struct{}
	wg       sync.WaitGroup

	mu    sync.Mutex
	state State
}

// NewManager creates a session manager over the given driver. broadcaster
// and recorder may be nil.
func NewManager(cfg config.SessionConfig, driver Driver, broadcaster *bus.Broadcaster, recorder *metrics.Recorder) *Manager {
	return &Manager{
		cfg:         cfg,
		driver:      driver,
		broadcaster: broadcaster,
		recorder:    recorder,
		logger:      logx.NewLogger("session"),
		queue:       make(chan actionRequest, 1),
		shutdown:    make(chan struct{}),
		state:       StateUninitialized,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) setState(state State, detail string) {
	m.mu.Lock()
	if m.state == state {
		m.mu.Unlock()
		return
	}
	prev := m.state
	m.state = state
	m.mu.Unlock()

	m.logger.Info("session %s -> %s", prev, state)
	if m.broadcaster != nil {
		m.broadcaster.PublishSessionChanged(string(state), detail)
	}
}

// Start launches the browser and the action worker. On a degraded session
// it makes exactly one recovery attempt, reporting ErrSessionUnavailable if
// the browser still won't come up. Calling Start on a ready manager is a
// no-op.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	switch m.state {
	case StateClosed:
		m.mu.Unlock()
		return ErrSessionClosed
	case StateDegraded:
		m.mu.Unlock()
		if err := m.reinitialize(ctx); err != nil {
			return err
		}
		m.setState(StateReady, "")
		return nil
	case StateUninitialized:
		m.state = StateStarting
		m.mu.Unlock()
	default:
		m.mu.Unlock()
		return nil
	}

	if err := m.driver.Start(ctx, m.cfg.ProfileDir, m.cfg.Headless); err != nil {
		m.setState(StateUninitialized, "")
		return fmt.Errorf("failed to start browser session: %w", err)
	}

	m.wg.Add(1)
	go m.worker()

	m.setState(StateReady, "")
	return nil
}

// Perform runs fn with exclusive driver access. It blocks until the action
// slot frees, the action completes, or ctx is cancelled while still queued.
func (m *Manager) Perform(ctx context.Context, kind string, fn ActionFunc) (any, error) {
	if m.State() == StateClosed {
		return nil, ErrSessionClosed
	}
	if m.State() == StateUninitialized {
		return nil, fmt.Errorf("session not started: %w", ErrSessionUnavailable)
	}

	req := actionRequest{
		ctx:   ctx,
		fn:    fn,
		reply: make(chan actionResult, 1),
		kind:  kind,
	}

	select {
	case m.queue <- req:
	case <-ctx.Done():
		return nil, fmt.Errorf("action %s abandoned while queued: %w", kind, ctx.Err())
	case <-m.shutdown:
		return nil, ErrSessionClosed
	}

	select {
	case result := <-req.reply:
		return result.value, result.err
	case <-m.shutdown:
		return nil, ErrSessionClosed
	}
}

func (m *Manager) worker() {
	defer m.wg.Done()
	for {
		select {
		case <-m.shutdown:
			return
		case req := <-m.queue:
			start := time.Now()
			value, err := m.execute(req)
			if m.recorder != nil {
				m.recorder.ObserveSessionAction(req.kind, err == nil, time.Since(start))
			}
			req.reply <- actionResult{value: value, err: err}
		}
	}
}

// execute runs one action: probe first, reinitialize once if the context is
// dead, then run the action with at most one retry after a mid-action
// context loss.
func (m *Manager) execute(req actionRequest) (any, error) {
	ctx := req.ctx
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("action %s cancelled before execution: %w", req.kind, err)
	}

	actionCtx := ctx
	var cancel context.CancelFunc
	if m.cfg.ActionTimeout > 0 {
		actionCtx, cancel = context.WithTimeout(ctx, m.cfg.ActionTimeout)
		defer cancel()
	}

	if err := m.driver.Probe(actionCtx); err != nil {
		m.logger.Warn("probe before %s failed: %v", req.kind, err)
		if err := m.reinitialize(actionCtx); err != nil {
			return nil, err
		}
	}

	value, err := req.fn(actionCtx, m.driver)
	if err == nil {
		m.setState(StateReady, "")
		return value, nil
	}
	if !errors.Is(err, ErrContextClosed) {
		return nil, err
	}

	// The browser died mid-action: bring it back and retry exactly once.
	m.logger.Warn("browser context lost during %s, reinitializing", req.kind)
	if err := m.reinitialize(actionCtx); err != nil {
		return nil, err
	}

	value, err = req.fn(actionCtx, m.driver)
	if err != nil {
		if errors.Is(err, ErrContextClosed) {
			m.setState(StateDegraded, "browser context lost twice")
			return nil, fmt.Errorf("action %s failed after reinitialization: %w", req.kind, ErrSessionUnavailable)
		}
		return nil, err
	}
	m.setState(StateReady, "")
	return value, nil
}

// reinitialize tears the browser down and starts it fresh on the same
// profile. Failure leaves the session degraded.
func (m *Manager) reinitialize(ctx context.Context) error {
	_ = m.driver.Close()
	if err := m.driver.Start(ctx, m.cfg.ProfileDir, m.cfg.Headless); err != nil {
		m.setState(StateDegraded, "browser restart failed")
		return fmt.Errorf("failed to reinitialize browser: %v: %w", err, ErrSessionUnavailable)
	}
	m.logger.Info("browser session reinitialized")
	return nil
}

// Close shuts the worker down and closes the browser. In-flight callers
// receive ErrSessionClosed.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil
	}
	started := m.state != StateUninitialized
	m.state = StateClosed
	m.mu.Unlock()

	close(m.shutdown)
	if started {
		m.wg.Wait()
	}
	if m.broadcaster != nil {
		m.broadcaster.PublishSessionChanged(string(StateClosed), "")
	}
	if err := m.driver.Close(); err != nil {
		return fmt.Errorf("failed to close browser: %w", err)
	}
	return nil
}
