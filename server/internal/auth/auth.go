package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/alexedwards/scs/v2"
	"golang.org/x/crypto/bcrypt"
)

const sessionKey = "authenticated"

// HashPassword hashes a password using bcrypt
func HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(hash), nil
}

// CheckPassword compares a password with a bcrypt hash
func CheckPassword(password, hash string) bool {
	err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
	return err == nil
}

// GenerateAPIKey generates a random API key
func GenerateAPIKey() (string, error) {
	bytes := make([]byte, 32)
	if _, err := rand.Read(bytes); err != nil {
		return "", err
	}
	return "llml_" + hex.EncodeToString(bytes), nil
}

// Middleware gates requests for a single-operator deployment: one API key
// for ingestion clients, one password-backed session for the report page.
type Middleware struct {
	apiKey     string
	sessionMgr *scs.SessionManager
}

// NewMiddleware creates a new auth middleware
func NewMiddleware(apiKey string, sessionMgr *scs.SessionManager) *Middleware {
	return &Middleware{
		apiKey:     apiKey,
		sessionMgr: sessionMgr,
	}
}

// RequireAPIKey middleware requires the configured API key, accepted either
// as X-API-Key or as a bearer token.
func (m *Middleware) RequireAPIKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apiKey := r.Header.Get("X-API-Key")
		if apiKey == "" {
			auth := r.Header.Get("Authorization")
			if strings.HasPrefix(auth, "Bearer ") {
				apiKey = strings.TrimPrefix(auth, "Bearer ")
			}
		}

		if apiKey == "" {
			http.Error(w, "API key required", http.StatusUnauthorized)
			return
		}

		if m.apiKey == "" || subtle.ConstantTimeCompare([]byte(apiKey), []byte(m.apiKey)) != 1 {
			http.Error(w, "Invalid API key", http.StatusUnauthorized)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireSession middleware requires an authenticated session
func (m *Middleware) RequireSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.sessionMgr.GetBool(r.Context(), sessionKey) {
			http.Redirect(w, r, "/login", http.StatusSeeOther)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// MarkAuthenticated records a successful login on the session
func (m *Middleware) MarkAuthenticated(r *http.Request) {
	m.sessionMgr.Put(r.Context(), sessionKey, true)
}

// ClearSession destroys the session
func (m *Middleware) ClearSession(r *http.Request) {
	m.sessionMgr.Destroy(r.Context())
}
