package services

import (
	"context"
	"fmt"

	"jobpilot/pkg/logx"
	"jobpilot/pkg/session"
)

// FormFiller is an optional Driver capability: completing the application
// form currently on screen. Production drivers implement it; without it a
// fill attempt fails cleanly instead of pretending to submit.
type FormFiller interface {
	FillApplicationForm(ctx context.Context, spec *session.FormSpec) (*session.FillResult, error)
}

// platformStrategy is the shared strategy shape for both platforms. The
// manager has already navigated to the listing when Fill runs.
type platformStrategy struct {
	platform string
	logger   *logx.Logger
}

func (s *platformStrategy) Platform() string { return s.platform }

func (s *platformStrategy) Fill(ctx context.Context, drv session.Driver, spec *session.FormSpec) (*session.FillResult, error) {
	if !spec.EasyApply {
		// External application flows redirect off-platform; those need the
		// operator, so the item is filled but never auto-submitted.
		s.logger.Info("%s listing %s is not easy-apply, leaving submission to the operator", s.platform, spec.JobID)
	}

	filler, ok := drv.(FormFiller)
	if !ok {
		return nil, fmt.Errorf("driver cannot fill %s application forms", s.platform)
	}

	result, err := filler.FillApplicationForm(ctx, spec)
	if err != nil {
		return nil, err
	}
	if !spec.EasyApply {
		result.Submitted = false
	}
	return result, nil
}

// NewLinkedInStrategy returns the form-fill strategy for LinkedIn Easy Apply.
func NewLinkedInStrategy() session.FormFillStrategy {
	return &platformStrategy{platform: "linkedin", logger: logx.NewLogger("session")}
}

// NewIndeedStrategy returns the form-fill strategy for Indeed applications.
func NewIndeedStrategy() session.FormFillStrategy {
	return &platformStrategy{platform: "indeed", logger: logx.NewLogger("session")}
}
