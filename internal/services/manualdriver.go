package services

import (
	"context"
	"sync"

	"jobpilot/pkg/logx"
	"jobpilot/pkg/session"
)

// ManualDriver is the driver used when no browser automation backend is
// wired in. It treats the operator's own browser as the "session": every
// navigation is logged as an instruction, login is taken on trust, and the
// optional extraction/fill capabilities are absent, so searches come back
// empty and fill attempts fail with a clear error.
type ManualDriver struct {
	logger *logx.Logger

	mu      sync.Mutex
	started bool
}

func NewManualDriver() *ManualDriver {
	return &ManualDriver{logger: logx.NewLogger("driver")}
}

func (d *ManualDriver) Start(_ context.Context, profileDir string, headless bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = true
	d.logger.Info("manual driver active (profile %s, headless=%v ignored)", profileDir, headless)
	return nil
}

func (d *ManualDriver) Probe(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.started {
		return session.ErrContextClosed
	}
	return nil
}

func (d *ManualDriver) Navigate(_ context.Context, url string) error {
	d.logger.Info("open in your browser: %s", url)
	return nil
}

func (d *ManualDriver) IsLoggedIn(_ context.Context, platform string) (bool, error) {
	d.logger.Info("assuming %s login is handled in your browser", platform)
	return true, nil
}

func (d *ManualDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.started = false
	return nil
}
