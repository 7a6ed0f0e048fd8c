// Package crm holds the Reynolds & Reynolds Focus CRM endpoints and request
// conventions shared by the validator, the browser login flow, and the
// authentication facade.
package crm

const (
	// PortalURL is the Focus CRM web portal, which doubles as the login page.
	PortalURL = "https://focus.dealer.reyrey.net/"

	// LandingURL is the post-login landing page used when resuming a session
	// from a cached token.
	LandingURL = "https://focus.dealer.reyrey.net/?bg=100037"

	// CheckTokenURL is the auth-service endpoint that reports whether a token
	// is still accepted. The token is passed both as a query parameter and as
	// a Token header.
	CheckTokenURL = "https://authservice.dealer.reyrey.net/api/Utils/CheckToken"

	// Domain is the cookie domain tokens are scoped to.
	Domain = "focus.dealer.reyrey.net"

	// DefaultTokenName is the session cookie the portal issues on login.
	DefaultTokenName = "DRT"

	// FallbackTokenName is extracted when the primary cookie is absent.
	FallbackTokenName = "FOCUSINUSE"
)

// Credential environment variables read by the browser login flow.
const (
	EnvUsername = "REYREY_USERNAME"
	EnvPassword = "REYREY_PASSWORD"
)

// Headers returns the header set the CRM API expects on authenticated
// requests.
func Headers(token string) map[string]string {
	return map[string]string{
		"Content-Type": "application/json;charset=utf-8",
		"Accept":       "*/*",
		"Origin":       "https://focus.dealer.reyrey.net",
		"Referer":      "https://focus.dealer.reyrey.net/",
		"Token":        token,
	}
}
