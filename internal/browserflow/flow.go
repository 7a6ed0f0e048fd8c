// Package browserflow drives a real browser session through the Focus CRM
// login form to obtain a fresh authentication token when no cached one is
// usable.
//
// The flow is a fixed sequence of stages; any failure aborts the whole flow
// and surfaces a *LoginError naming the stage that failed. The browser is
// owned by the flow for its duration only and is torn down on every path.
package browserflow

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-rod/rod/lib/proto"

	"github.com/drivelane/reyrey-auth/internal/crm"
	"github.com/drivelane/reyrey-auth/internal/tokenstore"
)

// Stage identifies a step of the login flow for failure attribution.
type Stage string

const (
	StageNavigate        Stage = "navigate"
	StageFillCredentials Stage = "fill_credentials"
	StageSubmit          Stage = "submit"
	StageAwaitRedirect   Stage = "await_redirect"
	StageExtractToken    Stage = "extract_token"
	StageVerifySession   Stage = "verify_session"
)

// LoginError reports a failed login flow together with the stage it failed
// at. No partial token accompanies it.
type LoginError struct {
	Stage Stage
	Err   error
}

func (e *LoginError) Error() string {
	return fmt.Sprintf("login flow failed at stage %s: %v", e.Stage, e.Err)
}

func (e *LoginError) Unwrap() error {
	return e.Err
}

// stageErr wraps err with its failing stage.
func stageErr(stage Stage, err error) error {
	return &LoginError{Stage: stage, Err: err}
}

// Credentials are the portal login credentials.
type Credentials struct {
	Username string
	Password string
}

// CredentialsFromEnv reads credentials from REYREY_USERNAME and
// REYREY_PASSWORD.
func CredentialsFromEnv() (Credentials, error) {
	creds := Credentials{
		Username: os.Getenv(crm.EnvUsername),
		Password: os.Getenv(crm.EnvPassword),
	}
	if creds.Username == "" || creds.Password == "" {
		return Credentials{}, fmt.Errorf("missing credentials in environment variables %s and %s",
			crm.EnvUsername, crm.EnvPassword)
	}
	return creds, nil
}

// Navigation and element-wait budgets, matching the portal's observed
// sluggishness.
const (
	formWaitTimeout   = 10 * time.Second
	settleWaitTimeout = 15 * time.Second
	requestIdleWindow = 300 * time.Millisecond
)

// submitSelectors are tried in order to find the sign-on button; the portal
// has shipped several variants of the form over time.
var submitSelectors = []string{
	`input[value="Sign On"]`,
	`input[name="Sign On"]`,
	`input[type="submit"]`,
	`input.submitButton`,
	`button[type="submit"]`,
}

// submitFallbackJS clicks the first submit-shaped control when none of the
// known selectors matched.
const submitFallbackJS = `() => {
	const buttons = document.querySelectorAll('input[type="submit"], button[type="submit"]');
	if (buttons.length === 0) return false;
	buttons[0].click();
	return true;
}`

// dashboardSelectors indicate a logged-in portal. CSS selectors are checked
// directly; entries with a Text field match on element text.
var dashboardSelectors = []struct {
	Selector string
	Text     string
}{
	{Selector: "a", Text: "Logout"},
	{Selector: ".dashboard-container"},
	{Selector: ".user-menu"},
	{Selector: "*", Text: "SALES GOALS"},
	{Selector: "*", Text: "ACTIVITY OVERVIEW"},
	{Selector: "*", Text: "My Clients"},
}

// tokenFromCookies picks the named token out of a cookie jar, falling back
// to the portal's secondary session cookie. The returned token always lives
// under the requested name, even when the fallback cookie supplied the
// value, so cache lookups for that name keep hitting it.
func tokenFromCookies(cookies []*proto.NetworkCookie, tokenName string) (tokenstore.Token, error) {
	byName := func(name string) (tokenstore.Token, bool) {
		for _, cookie := range cookies {
			if cookie.Name == name && cookie.Value != "" {
				token := tokenstore.Token{
					Value:     cookie.Value,
					Name:      tokenName,
					Domain:    crm.Domain,
					UpdatedAt: time.Now().UTC(),
				}
				if cookie.Expires > 0 {
					token.ExpiresAt = cookie.Expires.Time()
				}
				return token, true
			}
		}
		return tokenstore.Token{}, false
	}

	if token, ok := byName(tokenName); ok {
		return token, nil
	}
	if tokenName != crm.FallbackTokenName {
		if token, ok := byName(crm.FallbackTokenName); ok {
			return token, nil
		}
	}

	names := make([]string, 0, len(cookies))
	for _, cookie := range cookies {
		names = append(names, cookie.Name)
	}
	return tokenstore.Token{}, fmt.Errorf("cookie %q not present (available: %v)", tokenName, names)
}

// StageOf returns the failing stage of err, or "" if err is not a login
// flow failure.
func StageOf(err error) Stage {
	var loginErr *LoginError
	if errors.As(err, &loginErr) {
		return loginErr.Stage
	}
	return ""
}
