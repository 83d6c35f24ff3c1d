package session

import (
	"context"
	"fmt"
	"time"
)

// Platform login pages the operator completes by hand; credentials are
// never automated.
var loginURLs = map[string]string{
	"linkedin": "https://www.linkedin.com/login",
	"indeed":   "https://secure.indeed.com/account/login",
}

// EnsureLoggedIn checks the platform's login state and, if logged out,
// opens the login page and polls until the operator completes login or the
// poll window expires. The whole wait happens inside one queued action so
// nothing else can grab the browser mid-login.
func (m *Manager) EnsureLoggedIn(ctx context.Context, platform string) error {
	url, ok := loginURLs[platform]
	if !ok {
		return fmt.Errorf("unknown platform %q", platform)
	}

	// Login polling deliberately ignores the per-action timeout: the
	// operator may need minutes to type credentials and pass 2FA.
	pollCtx, cancel := context.WithTimeout(ctx, m.cfg.LoginPollTimeout)
	defer cancel()

	_, err := m.Perform(pollCtx, "login:"+platform, func(_ context.Context, drv Driver) (any, error) {
		loggedIn, err := drv.IsLoggedIn(pollCtx, platform)
		if err != nil {
			return nil, err
		}
		if loggedIn {
			return nil, nil
		}

		m.logger.Info("%s login required, waiting for operator", platform)
		if m.broadcaster != nil {
			m.broadcaster.PublishSessionChanged("login_required", platform)
		}
		if err := drv.Navigate(pollCtx, url); err != nil {
			return nil, err
		}

		ticker := time.NewTicker(m.cfg.LoginPollEvery)
		defer ticker.Stop()
		for {
			select {
			case <-pollCtx.Done():
				return nil, fmt.Errorf("timed out waiting for %s login: %w", platform, pollCtx.Err())
			case <-ticker.C:
				loggedIn, err := drv.IsLoggedIn(pollCtx, platform)
				if err != nil {
					return nil, err
				}
				if loggedIn {
					m.logger.Info("%s login detected", platform)
					if m.broadcaster != nil {
						m.broadcaster.PublishSessionChanged("login_complete", platform)
					}
					return nil, nil
				}
			}
		}
	})
	return err
}
