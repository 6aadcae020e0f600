package httpserver

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/crypto/argon2"

	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/config"
	"github.com/fairyhunter13/ecohealth-ai-gateway/internal/domain"
)

const sessionCookie = "session"

// Argon2Params defines parameters for Argon2id password hashing
type Argon2Params struct {
	Memory      uint32
	Iterations  uint32
	Parallelism uint8
	SaltLen     uint32
	KeyLen      uint32
}

// DefaultArgon2Params are used by HashPassword callers that have no preference.
var DefaultArgon2Params = Argon2Params{
	Memory:      64 * 1024, // 64 MB
	Iterations:  3,
	Parallelism: 2,
	SaltLen:     16,
	KeyLen:      32,
}

// HashPassword creates an Argon2id hash of the password in the form
// argon2id$iterations$memory$parallelism$salt$hash (raw std base64).
func HashPassword(password string, params Argon2Params) (string, error) {
	salt := make([]byte, params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	hash := argon2.IDKey([]byte(password), salt, params.Iterations, params.Memory, params.Parallelism, params.KeyLen)
	return fmt.Sprintf("argon2id$%d$%d$%d$%s$%s",
		params.Iterations,
		params.Memory,
		params.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword verifies a password against its Argon2id hash
func VerifyPassword(password, encodedHash string) bool {
	parts := strings.Split(encodedHash, "$")
	if len(parts) != 6 || parts[0] != "argon2id" {
		return false
	}
	iters, err1 := parseUint32(parts[1])
	mem, err2 := parseUint32(parts[2])
	par64, err3 := parseUint32(parts[3])
	if err1 != nil || err2 != nil || err3 != nil {
		return false
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return false
	}
	expected, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(expected) == 0 {
		return false
	}
	par := uint8(math.MaxUint8)
	if par64 < math.MaxUint8 {
		par = uint8(par64)
	}
	actual := argon2.IDKey([]byte(password), salt, iters, mem, par, uint32(len(expected)))
	return subtle.ConstantTimeCompare(actual, expected) == 1
}

// SessionData represents session information
type SessionData struct {
	Username  string    `json:"username"`
	LoginTime time.Time `json:"loginTime"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// SessionManager issues and checks HMAC-signed session cookies for the
// admin surface.
type SessionManager struct {
	secret []byte
	cfg    config.Config
	ttl    time.Duration
	now    func() time.Time
}

// NewSessionManager creates a new session manager
func NewSessionManager(cfg config.Config) *SessionManager {
	return &SessionManager{
		secret: []byte(cfg.AdminSessionSecret),
		cfg:    cfg,
		ttl:    24 * time.Hour,
		now:    time.Now,
	}
}

// CheckCredentials compares against the configured admin account. A
// configured hash takes precedence over the plain password.
func (sm *SessionManager) CheckCredentials(username, password string) bool {
	userOK := subtle.ConstantTimeCompare([]byte(username), []byte(sm.cfg.AdminUsername)) == 1
	var passOK bool
	if sm.cfg.AdminPasswordHash != "" {
		passOK = VerifyPassword(password, sm.cfg.AdminPasswordHash)
	} else {
		passOK = sm.cfg.AdminPassword != "" && subtle.ConstantTimeCompare([]byte(password), []byte(sm.cfg.AdminPassword)) == 1
	}
	return userOK && passOK
}

// CreateSession returns a signed cookie value "username:login:expires.signature".
func (sm *SessionManager) CreateSession(username string) (string, SessionData) {
	now := sm.now()
	data := SessionData{Username: username, LoginTime: now, ExpiresAt: now.Add(sm.ttl)}
	payload := fmt.Sprintf("%s:%d:%d", base64.RawURLEncoding.EncodeToString([]byte(username)), now.Unix(), data.ExpiresAt.Unix())
	return payload + "." + sm.sign(payload), data
}

func (sm *SessionManager) sign(payload string) string {
	mac := hmac.New(sha256.New, sm.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// ValidateSession validates a session cookie value and returns session data
func (sm *SessionManager) ValidateSession(value string) (*SessionData, error) {
	payload, sig, ok := strings.Cut(value, ".")
	if !ok || payload == "" {
		return nil, fmt.Errorf("%w: invalid session format", domain.ErrUnauthorized)
	}
	if !hmac.Equal([]byte(sm.sign(payload)), []byte(sig)) {
		return nil, fmt.Errorf("%w: invalid session signature", domain.ErrUnauthorized)
	}
	parts := strings.Split(payload, ":")
	if len(parts) != 3 {
		return nil, fmt.Errorf("%w: invalid payload format", domain.ErrUnauthorized)
	}
	user, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, fmt.Errorf("%w: invalid payload format", domain.ErrUnauthorized)
	}
	data := &SessionData{
		Username:  string(user),
		LoginTime: time.Unix(parseInt64(parts[1]), 0),
		ExpiresAt: time.Unix(parseInt64(parts[2]), 0),
	}
	if !sm.now().Before(data.ExpiresAt) {
		return nil, fmt.Errorf("%w: session expired", domain.ErrUnauthorized)
	}
	return data, nil
}

func (sm *SessionManager) sameSite() http.SameSite {
	switch strings.ToLower(sm.cfg.AdminSessionSameSite) {
	case "lax":
		return http.SameSiteLaxMode
	case "none":
		return http.SameSiteNoneMode
	}
	return http.SameSiteStrictMode
}

// SetSessionCookie sets the session cookie on the response
func (sm *SessionManager) SetSessionCookie(w http.ResponseWriter, value string) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		HttpOnly: true,
		Secure:   !sm.cfg.IsDev(),
		SameSite: sm.sameSite(),
		MaxAge:   int(sm.ttl.Seconds()),
	})
}

// ClearSessionCookie clears the session cookie
func (sm *SessionManager) ClearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   !sm.cfg.IsDev(),
		SameSite: sm.sameSite(),
		MaxAge:   -1,
	})
}

type sessionKey struct{}

// SessionFrom returns the session stored by AuthRequired.
func SessionFrom(ctx context.Context) (*SessionData, bool) {
	s, ok := ctx.Value(sessionKey{}).(*SessionData)
	return s, ok
}

// AuthRequired rejects requests without a valid session with 401.
func (sm *SessionManager) AuthRequired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookie)
		if err != nil || cookie.Value == "" {
			writeError(w, r, fmt.Errorf("%w: login required", domain.ErrUnauthorized), nil)
			return
		}
		data, err := sm.ValidateSession(cookie.Value)
		if err != nil {
			sm.ClearSessionCookie(w)
			writeError(w, r, err, nil)
			return
		}
		ctx := context.WithValue(r.Context(), sessionKey{}, data)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

type loginRequest struct {
	Username string `json:"username" validate:"required,max=128"`
	Password string `json:"password" validate:"required,max=256"`
}

// LoginHandler exchanges admin credentials for a session cookie.
func (sm *SessionManager) LoginHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if details, err := decodeAndValidate(r, &req); err != nil {
			writeError(w, r, err, details)
			return
		}
		if !sm.CheckCredentials(req.Username, req.Password) {
			LoggerFrom(r).Warn("admin login failed", slog.String("username", req.Username))
			writeError(w, r, fmt.Errorf("%w: invalid credentials", domain.ErrUnauthorized), nil)
			return
		}
		value, data := sm.CreateSession(req.Username)
		sm.SetSessionCookie(w, value)
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "session": data})
	}
}

// LogoutHandler clears the session cookie.
func (sm *SessionManager) LogoutHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		sm.ClearSessionCookie(w)
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// parseInt64 safely parses string to int64, returns 0 on error
func parseInt64(s string) int64 {
	x, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return x
}

// parseUint32 parses a decimal string into uint32; returns error on failure
func parseUint32(s string) (uint32, error) {
	x, err := strconv.ParseUint(s, 10, 32)
	if err != nil {
		return 0, fmt.Errorf("parse")
	}
	return uint32(x), nil
}
