package session

import (
	"context"
	"fmt"
	"sync"

	"jobpilot/pkg/logx"
)

// FormSpec describes one application form to fill.
type FormSpec struct {
	Answers         map[string]string `json:"answers,omitempty"`
	JobID           string            `json:"job_id"`
	SourceURL       string            `json:"source_url"`
	Platform        string            `json:"platform"`
	ResumePath      string            `json:"resume_path"`
	CoverLetterPath string            `json:"cover_letter_path,omitempty"`
	EasyApply       bool              `json:"easy_apply"`
}

// FillResult reports what a strategy accomplished. Submitted is false when
// the form was filled but requires manual review before submission.
type FillResult struct {
	Detail    string `json:"detail,omitempty"`
	Submitted bool   `json:"submitted"`
}

// FormFillStrategy fills an application form for one platform. Strategies
// run inside the manager's worker, so they have exclusive driver access.
type FormFillStrategy interface {
	Platform() string
	Fill(ctx context.Context, drv Driver, spec *FormSpec) (*FillResult, error)
}

// StrategyRegistry maps platforms to their form-fill strategies.
type StrategyRegistry struct {
	mu         sync.RWMutex
	strategies map[string]FormFillStrategy
	logger     *logx.Logger
}

// NewStrategyRegistry creates an empty registry.
func NewStrategyRegistry() *StrategyRegistry {
	return &StrategyRegistry{
		strategies: make(map[string]FormFillStrategy),
		logger:     logx.NewLogger("session"),
	}
}

// Register adds a strategy, replacing any previous one for the platform.
func (r *StrategyRegistry) Register(strategy FormFillStrategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.strategies[strategy.Platform()] = strategy
}

// Get returns the strategy for a platform.
func (r *StrategyRegistry) Get(platform string) (FormFillStrategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	strategy, ok := r.strategies[platform]
	if !ok {
		return nil, fmt.Errorf("no form-fill strategy registered for platform %q", platform)
	}
	return strategy, nil
}

// FillForm runs the platform's strategy as one queued action.
func (m *Manager) FillForm(ctx context.Context, registry *StrategyRegistry, spec *FormSpec) (*FillResult, error) {
	strategy, err := registry.Get(spec.Platform)
	if err != nil {
		return nil, err
	}

	value, err := m.Perform(ctx, "fill_form:"+spec.Platform, func(actionCtx context.Context, drv Driver) (any, error) {
		if err := drv.Navigate(actionCtx, spec.SourceURL); err != nil {
			return nil, err
		}
		return strategy.Fill(actionCtx, drv, spec)
	})
	if err != nil {
		return nil, err
	}

	result, ok := value.(*FillResult)
	if !ok {
		return nil, fmt.Errorf("strategy for %s returned unexpected result type", spec.Platform)
	}
	return result, nil
}
