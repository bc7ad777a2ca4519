package session

import (
	"crypto/sha256"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/sessions"
)

// Store reads and writes the signed preference and flow cookies.
type Store struct {
	cookies *sessions.CookieStore
	secure  bool
	logger  *slog.Logger
}

// NewStore derives a signing key and an AES-256 key from secret.
func NewStore(secret string, secure bool, logger *slog.Logger) *Store {
	hashKey := sha256.Sum256([]byte(secret + "session-hash"))
	blockKey := sha256.Sum256([]byte(secret + "session-block"))

	cookies := sessions.NewCookieStore(hashKey[:], blockKey[:])
	cookies.Options = options(FlowMaxAge, secure)

	return &Store{cookies: cookies, secure: secure, logger: logger}
}

func options(maxAge time.Duration, secure bool) *sessions.Options {
	return &sessions.Options{
		Path:     CookiePath,
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// get never fails: a cookie that cannot be decoded (rotated secret, tampering)
// is replaced by an empty session.
func (s *Store) get(r *http.Request, name string, maxAge time.Duration) *sessions.Session {
	sess, err := s.cookies.Get(r, name)
	if err != nil {
		s.logger.Debug("discarding unreadable session cookie", "cookie", name, "error", err)
	}
	sess.Options = options(maxAge, s.secure)
	return sess
}

func (s *Store) save(w http.ResponseWriter, r *http.Request, sess *sessions.Session) {
	if err := sess.Save(r, w); err != nil {
		s.logger.Error("failed to save session cookie", "cookie", sess.Name(), "error", err)
	}
}

// =============================================================================
// Remembered Email
// =============================================================================

// RememberedEmail returns the email saved by "remember me", or "".
func (s *Store) RememberedEmail(r *http.Request) string {
	email, _ := s.get(r, PrefsName, PrefsMaxAge).Values[keyRememberedEmail].(string)
	return email
}

// RememberEmail saves email for prefilling the login form.
func (s *Store) RememberEmail(w http.ResponseWriter, r *http.Request, email string) {
	sess := s.get(r, PrefsName, PrefsMaxAge)
	sess.Values[keyRememberedEmail] = email
	s.save(w, r, sess)
}

// ForgetEmail removes the remembered email.
func (s *Store) ForgetEmail(w http.ResponseWriter, r *http.Request) {
	sess := s.get(r, PrefsName, PrefsMaxAge)
	if _, ok := sess.Values[keyRememberedEmail]; !ok {
		return
	}
	delete(sess.Values, keyRememberedEmail)
	s.save(w, r, sess)
}

// =============================================================================
// Registration Flow
// =============================================================================

// ChallengeID returns the pending registration challenge, or "".
func (s *Store) ChallengeID(r *http.Request) string {
	id, _ := s.get(r, FlowName, FlowMaxAge).Values[keyChallengeID].(string)
	return id
}

// SetChallengeID records the challenge started by this browser.
func (s *Store) SetChallengeID(w http.ResponseWriter, r *http.Request, id string) {
	sess := s.get(r, FlowName, FlowMaxAge)
	sess.Values[keyChallengeID] = id
	s.save(w, r, sess)
}

// ClearChallengeID forgets the pending challenge.
func (s *Store) ClearChallengeID(w http.ResponseWriter, r *http.Request) {
	sess := s.get(r, FlowName, FlowMaxAge)
	delete(sess.Values, keyChallengeID)
	s.save(w, r, sess)
}

// =============================================================================
// Flash Messages
// =============================================================================

// AddFlash queues a message for the next page render.
func (s *Store) AddFlash(w http.ResponseWriter, r *http.Request, message string) {
	sess := s.get(r, FlowName, FlowMaxAge)
	sess.AddFlash(message)
	s.save(w, r, sess)
}

// Flashes pops the queued messages. The cookie is only rewritten when there
// was something to pop.
func (s *Store) Flashes(w http.ResponseWriter, r *http.Request) []string {
	sess := s.get(r, FlowName, FlowMaxAge)
	raw := sess.Flashes()
	if len(raw) == 0 {
		return nil
	}
	s.save(w, r, sess)

	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if msg, ok := v.(string); ok {
			out = append(out, msg)
		}
	}
	return out
}
