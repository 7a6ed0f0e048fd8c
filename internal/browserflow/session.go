package browserflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"

	"github.com/drivelane/reyrey-auth/internal/crm"
	"github.com/drivelane/reyrey-auth/internal/tokenstore"
)

// Session is a live, authenticated browser session handed to the caller for
// further portal automation. The caller owns teardown via Close.
type Session struct {
	Browser *rod.Browser
	Page    *rod.Page
	Token   tokenstore.Token

	teardown func()
}

// Close releases the browser and its launcher resources.
func (s *Session) Close() {
	if s.teardown != nil {
		s.teardown()
		s.teardown = nil
	}
}

// Resume opens a browser session authenticated with an existing token by
// seeding the session cookie and verifying the dashboard loads. Returns a
// *LoginError with StageVerifySession when the portal rejects the token.
func (f *Flow) Resume(ctx context.Context, token tokenstore.Token) (*Session, error) {
	browser, teardown, err := f.connect(ctx)
	if err != nil {
		return nil, stageErr(StageVerifySession, err)
	}

	session, err := f.resumeOn(ctx, browser, token)
	if err != nil {
		teardown()
		return nil, err
	}
	session.teardown = teardown
	return session, nil
}

func (f *Flow) resumeOn(ctx context.Context, browser *rod.Browser, token tokenstore.Token) (*Session, error) {
	domain := token.Domain
	if domain == "" {
		domain = crm.Domain
	}
	err := browser.SetCookies([]*proto.NetworkCookieParam{{
		Name:   token.Name,
		Value:  token.Value,
		Domain: domain,
		Path:   "/",
	}})
	if err != nil {
		return nil, stageErr(StageVerifySession, err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return nil, stageErr(StageVerifySession, err)
	}
	page = page.Context(ctx)

	if err := page.Navigate(crm.LandingURL); err != nil {
		return nil, stageErr(StageVerifySession, err)
	}
	if err := page.Timeout(settleWaitTimeout).WaitLoad(); err != nil {
		return nil, stageErr(StageVerifySession, err)
	}

	if !verifyDashboard(page) {
		return nil, stageErr(StageVerifySession, fmt.Errorf("portal rejected cached token %q", token.Name))
	}

	slog.InfoContext(ctx, "resumed session with cached token", "token", token.Name)
	return &Session{Browser: browser, Page: page, Token: token}, nil
}

// LoginSession runs the full login flow and keeps the browser open,
// returning it as an authenticated session along with the fresh token.
func (f *Flow) LoginSession(ctx context.Context, creds Credentials, tokenName string) (*Session, error) {
	browser, teardown, err := f.connect(ctx)
	if err != nil {
		return nil, stageErr(StageNavigate, err)
	}

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		teardown()
		return nil, stageErr(StageNavigate, err)
	}

	token, err := f.performLogin(ctx, page, creds, tokenName)
	if err != nil {
		teardown()
		return nil, err
	}

	return &Session{
		Browser:  browser,
		Page:     page,
		Token:    token,
		teardown: teardown,
	}, nil
}
