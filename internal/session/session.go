package session

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/yagsothebrand/waitlist-api/internal/domain"
	"github.com/yagsothebrand/waitlist-api/internal/repo/postgres"
	"github.com/yagsothebrand/waitlist-api/pkg/auth"
	"github.com/yagsothebrand/waitlist-api/pkg/logger"
)

// Cookie names mirrored to the browser. The grant cookie carries a signed
// token rather than a bare flag, so it cannot be forged client-side.
const (
	CookieToken  = "waitlist_token"
	CookieAccess = "waitlist_access"
	CookieUser   = "waitlist_user"
)

// State is the session a visiting browser holds: the last-used waitlist
// token, whether the gate is open for it, and a cached identity snapshot.
type State struct {
	Token         string
	AccessGranted bool
	User          *domain.WaitlistRecord
	Loaded        bool
}

// Decision is the outcome of evaluating a navigation against the session.
type Decision struct {
	Action DecisionAction
	Target string
}

type DecisionAction string

const (
	DecisionWait     DecisionAction = "wait"
	DecisionAllow    DecisionAction = "allow"
	DecisionRedirect DecisionAction = "redirect"
)

// Manager owns all session I/O: cookie persistence on one side, store
// reconciliation on the other.
type Manager struct {
	repo           postgres.WaitlistRepo
	secret         string
	ttl            time.Duration
	cookieDomain   string
	cookieSecure   bool
	entryPath      string
	checkEmailPath string
}

type Config struct {
	Secret         string
	TTL            time.Duration
	CookieDomain   string
	CookieSecure   bool
	EntryPath      string
	CheckEmailPath string
}

func NewManager(repo postgres.WaitlistRepo, cfg Config) *Manager {
	if cfg.EntryPath == "" {
		cfg.EntryPath = "/"
	}
	if cfg.CheckEmailPath == "" {
		cfg.CheckEmailPath = "/check-email"
	}
	return &Manager{
		repo:           repo,
		secret:         cfg.Secret,
		ttl:            cfg.TTL,
		cookieDomain:   cfg.CookieDomain,
		cookieSecure:   cfg.CookieSecure,
		entryPath:      cfg.EntryPath,
		checkEmailPath: cfg.CheckEmailPath,
	}
}

// Hydrate reconciles persisted cookies against the store. A token that no
// longer resolves is treated as revoked: every session cookie is cleared and
// the browser is logged out. On a successful hydration the last-login
// bookkeeping fires in the background; its failure never affects the result.
func (m *Manager) Hydrate(ctx context.Context, w http.ResponseWriter, r *http.Request) (*State, error) {
	state := &State{Loaded: true}

	token := cookieValue(r, CookieToken)
	grant := cookieValue(r, CookieAccess)
	if token == "" || grant == "" {
		return state, nil
	}

	claims, err := auth.Parse(grant, m.secret)
	if err != nil || !claims.Granted || claims.Sub != token {
		// Forged, expired or mismatched grant. Drop everything.
		m.Clear(w)
		return state, nil
	}

	state.Token = token
	state.User = m.decodeSnapshot(r)
	if state.User != nil && state.User.ID != token {
		// Snapshot for a different record than the grant covers. Ignore it
		// and fall through to a store fetch.
		state.User = nil
	}

	if state.User == nil {
		rec, err := m.repo.GetByID(ctx, token)
		if err != nil {
			return nil, err
		}
		if rec == nil {
			m.Clear(w)
			return &State{Loaded: true}, nil
		}
		state.User = rec
		state.AccessGranted = true
		m.Persist(w, state)
	} else {
		state.AccessGranted = true
	}

	go func(id string) {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.repo.TouchLastLogin(ctx, id); err != nil {
			logger.Error("Failed to touch last login", "error", err, "token_id", id)
		}
	}(token)

	return state, nil
}

// Persist mirrors the session into long-lived cookies, site-wide.
func (m *Manager) Persist(w http.ResponseWriter, state *State) {
	grant := ""
	if state.AccessGranted {
		email := ""
		if state.User != nil {
			email = state.User.Email
		}
		tok, err := auth.NewSessionToken(state.Token, email, m.secret, m.ttl)
		if err != nil {
			logger.Error("Failed to sign session grant", "error", err)
			return
		}
		grant = tok
	}

	m.setCookie(w, CookieToken, state.Token)
	m.setCookie(w, CookieAccess, grant)
	m.setCookie(w, CookieUser, encodeSnapshot(state.User))
}

// Clear drops all session cookies.
func (m *Manager) Clear(w http.ResponseWriter) {
	for _, name := range []string{CookieToken, CookieAccess, CookieUser} {
		http.SetCookie(w, &http.Cookie{
			Name:     name,
			Value:    "",
			Path:     "/",
			Domain:   m.cookieDomain,
			MaxAge:   -1,
			HttpOnly: name == CookieAccess,
			Secure:   m.cookieSecure,
			SameSite: http.SameSiteLaxMode,
		})
	}
}

// IsPublicPath reports whether a path is reachable without a granted
// session: the entry form, the check-your-email interstitial, or any single
// non-empty segment (a candidate magic-link token).
func (m *Manager) IsPublicPath(path string) bool {
	if path == m.entryPath || path == m.checkEmailPath {
		return true
	}
	trimmed := strings.Trim(path, "/")
	return trimmed != "" && !strings.Contains(trimmed, "/")
}

// Evaluate decides whether a navigation may proceed. While the session is
// still loading the caller gets DecisionWait so it can hold rendering
// instead of flash-redirecting.
func (m *Manager) Evaluate(path string, state *State) Decision {
	if state == nil || !state.Loaded {
		return Decision{Action: DecisionWait}
	}
	if m.IsPublicPath(path) || state.AccessGranted {
		return Decision{Action: DecisionAllow}
	}
	return Decision{Action: DecisionRedirect, Target: m.entryPath}
}

func (m *Manager) setCookie(w http.ResponseWriter, name, value string) {
	if value == "" {
		http.SetCookie(w, &http.Cookie{
			Name: name, Value: "", Path: "/", Domain: m.cookieDomain, MaxAge: -1,
			Secure: m.cookieSecure, SameSite: http.SameSiteLaxMode,
		})
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   m.cookieDomain,
		Expires:  time.Now().Add(m.ttl),
		MaxAge:   int(m.ttl.Seconds()),
		HttpOnly: name == CookieAccess,
		Secure:   m.cookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
}

func (m *Manager) decodeSnapshot(r *http.Request) *domain.WaitlistRecord {
	raw := cookieValue(r, CookieUser)
	if raw == "" {
		return nil
	}
	data, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		return nil
	}
	var rec domain.WaitlistRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil
	}
	return &rec
}

func encodeSnapshot(rec *domain.WaitlistRecord) string {
	if rec == nil {
		return ""
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return ""
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}
