package browserflow

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"

	"github.com/drivelane/reyrey-auth/internal/crm"
	"github.com/drivelane/reyrey-auth/internal/tokenstore"
)

// Option configures a Flow.
type Option func(*Flow)

// WithHeadless controls whether the browser runs headless. Defaults to true.
func WithHeadless(headless bool) Option {
	return func(f *Flow) {
		f.headless = headless
	}
}

// WithScreenshotDir enables a post-login screenshot into dir for diagnosing
// failed verifications. Disabled when empty.
func WithScreenshotDir(dir string) Option {
	return func(f *Flow) {
		f.screenshotDir = dir
	}
}

// WithControlURL connects to an already running browser instead of launching
// one. Used by tests.
func WithControlURL(controlURL string) Option {
	return func(f *Flow) {
		f.controlURL = controlURL
	}
}

// Flow performs scripted logins against the Focus CRM portal.
type Flow struct {
	headless      bool
	screenshotDir string
	controlURL    string
}

// New creates a login Flow.
func New(opts ...Option) *Flow {
	f := &Flow{headless: true}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// connect launches (or attaches to) a browser and returns it with a teardown
// function that is safe to call on every path.
func (f *Flow) connect(ctx context.Context) (*rod.Browser, func(), error) {
	controlURL := f.controlURL
	cleanup := func() {}

	if controlURL == "" {
		l := launcher.New().Headless(f.headless)
		launched, err := l.Launch()
		if err != nil {
			return nil, nil, fmt.Errorf("launching browser: %w", err)
		}
		controlURL = launched
		cleanup = l.Cleanup
	}

	browser := rod.New().ControlURL(controlURL).Context(ctx)
	if err := browser.Connect(); err != nil {
		cleanup()
		return nil, nil, fmt.Errorf("connecting to browser: %w", err)
	}

	teardown := func() {
		if err := browser.Close(); err != nil {
			slog.Warn("error closing browser", "error", err)
		}
		cleanup()
	}
	return browser, teardown, nil
}

// Login runs the full login flow and returns the extracted token. The
// browser session exists only for the duration of the call.
func (f *Flow) Login(ctx context.Context, creds Credentials, tokenName string) (tokenstore.Token, error) {
	browser, teardown, err := f.connect(ctx)
	if err != nil {
		return tokenstore.Token{}, stageErr(StageNavigate, err)
	}
	defer teardown()

	page, err := browser.Page(proto.TargetCreateTarget{URL: "about:blank"})
	if err != nil {
		return tokenstore.Token{}, stageErr(StageNavigate, err)
	}

	return f.performLogin(ctx, page, creds, tokenName)
}

// performLogin drives the login form on an open page and extracts the token.
func (f *Flow) performLogin(ctx context.Context, page *rod.Page, creds Credentials, tokenName string) (tokenstore.Token, error) {
	page = page.Context(ctx)

	// NavigateToLogin
	if err := page.Navigate(crm.PortalURL); err != nil {
		return tokenstore.Token{}, stageErr(StageNavigate, err)
	}
	slog.InfoContext(ctx, "navigated to login page", "url", crm.PortalURL)

	// FillCredentials
	userField, err := page.Timeout(formWaitTimeout).Element(`input[name="UserName"]`)
	if err != nil {
		return tokenstore.Token{}, stageErr(StageFillCredentials, fmt.Errorf("login form not found: %w", err))
	}
	if err := userField.Input(creds.Username); err != nil {
		return tokenstore.Token{}, stageErr(StageFillCredentials, err)
	}
	passField, err := page.Timeout(formWaitTimeout).Element(`input[name="Password"]`)
	if err != nil {
		return tokenstore.Token{}, stageErr(StageFillCredentials, err)
	}
	if err := passField.Input(creds.Password); err != nil {
		return tokenstore.Token{}, stageErr(StageFillCredentials, err)
	}

	// Submit
	waitIdle := page.WaitRequestIdle(requestIdleWindow, nil, nil, nil)
	if err := f.submit(ctx, page); err != nil {
		return tokenstore.Token{}, stageErr(StageSubmit, err)
	}

	// AwaitRedirect
	waitIdle()
	if err := page.WaitLoad(); err != nil {
		return tokenstore.Token{}, stageErr(StageAwaitRedirect, err)
	}
	f.screenshot(ctx, page)
	if !verifyDashboard(page) {
		return tokenstore.Token{}, stageErr(StageAwaitRedirect,
			fmt.Errorf("login verification failed: %s", loginErrorMessage(page)))
	}
	slog.InfoContext(ctx, "login verified", "url", page.MustInfo().URL)

	// ExtractToken
	cookies, err := page.Cookies(nil)
	if err != nil {
		return tokenstore.Token{}, stageErr(StageExtractToken, err)
	}
	token, err := tokenFromCookies(cookies, tokenName)
	if err != nil {
		return tokenstore.Token{}, stageErr(StageExtractToken, err)
	}

	slog.InfoContext(ctx, "extracted token from browser session", "token", token.Name)
	return token, nil
}

// submit clicks the sign-on button, trying known selector variants before a
// JavaScript fallback.
func (f *Flow) submit(ctx context.Context, page *rod.Page) error {
	for _, selector := range submitSelectors {
		has, el, err := page.Has(selector)
		if err != nil || !has {
			continue
		}
		slog.DebugContext(ctx, "found login button", "selector", selector)
		return el.Click(proto.InputMouseButtonLeft, 1)
	}

	slog.WarnContext(ctx, "no sign-on selector matched, trying javascript click")
	result, err := page.Eval(submitFallbackJS)
	if err != nil {
		return fmt.Errorf("javascript submit failed: %w", err)
	}
	if !result.Value.Bool() {
		return fmt.Errorf("no submit control found on login page")
	}
	return nil
}

// verifyDashboard reports whether the page shows a logged-in portal.
func verifyDashboard(page *rod.Page) bool {
	for _, probe := range dashboardSelectors {
		var (
			has bool
			err error
		)
		if probe.Text != "" {
			has, _, err = page.HasR(probe.Selector, probe.Text)
		} else {
			has, _, err = page.Has(probe.Selector)
		}
		if err == nil && has {
			return true
		}
	}
	return false
}

// loginErrorMessage extracts the portal's error banner, if any.
func loginErrorMessage(page *rod.Page) string {
	has, el, err := page.Has(".error-message")
	if err != nil || !has {
		return "unknown error"
	}
	text, err := el.Text()
	if err != nil || text == "" {
		return "unknown error"
	}
	return text
}

// screenshot saves the current page for diagnostics; failures are logged,
// never fatal.
func (f *Flow) screenshot(ctx context.Context, page *rod.Page) {
	if f.screenshotDir == "" {
		return
	}

	data, err := page.Screenshot(false, nil)
	if err != nil {
		slog.WarnContext(ctx, "screenshot failed", "error", err)
		return
	}
	if err := os.MkdirAll(f.screenshotDir, 0700); err != nil {
		slog.WarnContext(ctx, "screenshot directory unavailable", "error", err)
		return
	}
	path := filepath.Join(f.screenshotDir, "login_result.png")
	if err := os.WriteFile(path, data, 0600); err != nil {
		slog.WarnContext(ctx, "saving screenshot failed", "error", err)
		return
	}
	slog.DebugContext(ctx, "saved screenshot", "path", path)
}
