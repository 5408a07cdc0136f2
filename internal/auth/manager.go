// Package auth implements the dashboard's session-cookie login: an HS256 JWT
// in an HttpOnly cookie, validated against a configured demo-user allow-list.
package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"docvai-dashboard/internal/config"
)

// SessionCookie is the name of the session cookie set by /login.
const SessionCookie = "docvai_session"

var (
	ErrBadCredentials = errors.New("auth: invalid email or password")
	ErrInvalidSession = errors.New("auth: invalid session")
)

// Identity is the authenticated principal attached to a request.
type Identity struct {
	Email string `json:"email"`
	Name  string `json:"name"`
	// Admin marks requests authenticated by the X-Admin-Key header rather
	// than a session cookie.
	Admin bool `json:"admin,omitempty"`
}

// Claims is the only supported session token shape.
type Claims struct {
	jwt.RegisteredClaims

	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type Manager struct {
	secret      []byte
	sessionTTL  time.Duration
	disableAuth bool
	users       []config.DemoUser
}

func NewManager(cfg config.AuthConfig) (*Manager, error) {
	if cfg.Secret == "" && !cfg.DisableAuth {
		return nil, errors.New("auth: secret is required unless auth is disabled")
	}
	ttl := cfg.SessionTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	return &Manager{
		secret:      []byte(cfg.Secret),
		sessionTTL:  ttl,
		disableAuth: cfg.DisableAuth,
		users:       cfg.DemoUsers,
	}, nil
}

// Disabled reports whether the auth bypass flag is set. When true every
// request carries the bypass identity and /login accepts anything.
func (m *Manager) Disabled() bool { return m.disableAuth }

// SessionTTL is the cookie max-age the HTTP layer should set.
func (m *Manager) SessionTTL() time.Duration { return m.sessionTTL }

// BypassIdentity is the principal used when auth is disabled.
func BypassIdentity() Identity {
	return Identity{Email: "demo@docvai.local", Name: "Demo"}
}

// Login checks the allow-list and issues a session token. With auth
// disabled the credentials are ignored.
func (m *Manager) Login(email, password string, now time.Time) (string, Identity, error) {
	if m.disableAuth {
		id := BypassIdentity()
		tok, err := m.issue(id, now)
		return tok, id, err
	}

	email = strings.ToLower(strings.TrimSpace(email))
	for _, u := range m.users {
		if strings.ToLower(strings.TrimSpace(u.Email)) == email && u.Password == password {
			name := u.Name
			if name == "" {
				name = email
			}
			id := Identity{Email: email, Name: name}
			tok, err := m.issue(id, now)
			return tok, id, err
		}
	}
	return "", Identity{}, ErrBadCredentials
}

// Verify parses and validates a session token.
func (m *Manager) Verify(tokenString string, now time.Time) (Identity, error) {
	var claims Claims

	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	_, err := parser.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return Identity{}, ErrInvalidSession
	}

	validator := jwt.NewValidator(
		jwt.WithTimeFunc(func() time.Time { return now }),
		jwt.WithLeeway(30*time.Second), // clock skew tolerance
		jwt.WithIssuedAt(),
		jwt.WithExpirationRequired(),
	)
	if err := validator.Validate(claims.RegisteredClaims); err != nil {
		return Identity{}, ErrInvalidSession
	}
	if claims.Email == "" {
		return Identity{}, ErrInvalidSession
	}
	return Identity{Email: claims.Email, Name: claims.Name}, nil
}

// CheckAdminKey reports whether the given X-Admin-Key value grants access.
func (m *Manager) CheckAdminKey(key string) bool {
	return len(m.secret) > 0 && key != "" && key == string(m.secret)
}

func (m *Manager) issue(id Identity, now time.Time) (string, error) {
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(m.sessionTTL)),
			ID:        uuid.NewString(),
		},
		Email: id.Email,
		Name:  id.Name,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return t.SignedString(m.secret)
}
