// Package session holds the cookie names and helpers shared by the handler
// and middleware packages.
//
// The session token travels in its own plain HttpOnly cookie and is checked
// against the credential store on every request. Everything else the
// browser carries between requests (the remembered login email, the pending
// registration challenge, flash messages) lives in cookies signed and
// encrypted by gorilla/sessions.
package session

import "time"

const (
	// CookieName is the name of the cookie that stores the session token.
	CookieName = "tmportal_session"

	// CookiePath ensures the cookie is sent with all requests.
	CookiePath = "/"

	// PrefsName is the long-lived cookie backing "remember me".
	PrefsName = "tmportal_prefs"

	// FlowName is the short-lived cookie carrying wizard state and flashes.
	FlowName = "tmportal_flow"

	// PrefsMaxAge keeps a remembered email for 30 days.
	PrefsMaxAge = 30 * 24 * time.Hour

	// FlowMaxAge outlives any pending OTP challenge.
	FlowMaxAge = time.Hour
)

// keys inside the gorilla sessions
const (
	keyRememberedEmail = "remembered_email"
	keyChallengeID     = "challenge_id"
)
