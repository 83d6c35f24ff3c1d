// Package session owns the single browser automation session. All browser
// work funnels through one worker so actions never interleave, and a dead
// browser context is reinitialized transparently once per action.
package session

import (
	"context"
	"errors"
)

// Sentinel errors for session consumers.
var (
	// ErrSessionUnavailable indicates the session could not be recovered
	// for this action; the session is degraded until a later action succeeds.
	ErrSessionUnavailable = errors.New("browser session unavailable")

	// ErrSessionClosed indicates the manager has been shut down.
	ErrSessionClosed = errors.New("browser session closed")

	// ErrContextClosed is returned by drivers when the underlying browser
	// context has died. The manager treats it as recoverable.
	ErrContextClosed = errors.New("browser context closed")
)

// Driver abstracts the browser automation backend. Implementations are not
// required to be safe for concurrent use; the manager serializes all calls.
type Driver interface {
	// Start launches the browser with the given persistent profile.
	Start(ctx context.Context, profileDir string, headless bool) error

	// Probe performs a cheap liveness check on the browser context.
	Probe(ctx context.Context) error

	// Navigate loads a URL in the active page.
	Navigate(ctx context.Context, url string) error

	// IsLoggedIn reports whether the profile has a live login on the platform.
	IsLoggedIn(ctx context.Context, platform string) (bool, error)

	// Close tears the browser down. Safe to call on a dead context.
	Close() error
}

// State is the session lifecycle state.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateStarting      State = "starting"
	StateReady         State = "ready"
	StateDegraded      State = "degraded"
	StateClosed        State = "closed"
)
