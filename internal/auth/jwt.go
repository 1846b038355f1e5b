// Package auth provides the anonymous session collaborator. The tracker
// never has named accounts; it only needs "ensure a session exists and hand
// back a stable opaque id", which the managed backend's anonymous sign-in
// provided. Here that is a self-issued HS256 token whose subject is a
// random id, persisted locally so the session survives restarts.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fosdem-friends/talktrack/internal/localstore"
)

// TokenTypeAnonymous is the typ claim for anonymous session tokens.
const TokenTypeAnonymous = "anon"

// SessionExpiry is how long an anonymous session token stays valid. Long on
// purpose: losing the session id is harmless, the uid that matters is
// derived from (group, nickname), not from this token.
const SessionExpiry = 90 * 24 * time.Hour

// DefaultLeeway tolerates minor clock skew during validation.
const DefaultLeeway = 30 * time.Second

// ErrInvalidToken is returned when token validation fails.
var ErrInvalidToken = errors.New("invalid token")

// ErrEmptySecret is returned when the issuer is constructed without a secret.
var ErrEmptySecret = errors.New("signing secret cannot be empty")

// Claims are the JWT claims carried by an anonymous session token.
type Claims struct {
	jwt.RegisteredClaims
	Type string `json:"typ"`
}

// Authenticator is the external auth collaborator contract. Implementations
// must make EnsureAnonymousSession idempotent: an existing valid session is
// reused, never replaced.
type Authenticator interface {
	// EnsureAnonymousSession returns the current session id, establishing a
	// session first if none exists.
	EnsureAnonymousSession(ctx context.Context) (string, error)

	// OnAuthStateChange registers a callback invoked with the session id
	// whenever a session is established.
	OnAuthStateChange(fn func(sessionID string))
}

// Issuer is a JWT-backed Authenticator. The signed token is persisted in
// the local store under localstore.SessionKey.
type Issuer struct {
	secret []byte
	local  localstore.Store
	leeway time.Duration

	mu        sync.Mutex
	sessionID string
	listeners []func(string)
}

// NewIssuer creates an Issuer signing with secret and persisting tokens in
// local.
func NewIssuer(secret string, local localstore.Store) (*Issuer, error) {
	if secret == "" {
		return nil, ErrEmptySecret
	}
	return &Issuer{
		secret: []byte(secret),
		local:  local,
		leeway: DefaultLeeway,
	}, nil
}

// EnsureAnonymousSession returns the session id, minting and persisting a
// fresh token when no valid one exists.
func (i *Issuer) EnsureAnonymousSession(ctx context.Context) (string, error) {
	i.mu.Lock()
	if i.sessionID != "" {
		id := i.sessionID
		i.mu.Unlock()
		return id, nil
	}

	// Try the persisted token before minting a new identity.
	if raw := i.local.Get(localstore.SessionKey); raw != "" {
		if id, err := i.parse(raw); err == nil {
			i.sessionID = id
			i.mu.Unlock()
			i.notify(id)
			return id, nil
		}
	}

	id := uuid.New().String()
	token, err := i.sign(id)
	if err != nil {
		i.mu.Unlock()
		return "", err
	}
	if err := i.local.Set(localstore.SessionKey, token); err != nil {
		i.mu.Unlock()
		return "", fmt.Errorf("persist session token: %w", err)
	}
	i.sessionID = id
	i.mu.Unlock()

	i.notify(id)
	return id, nil
}

// OnAuthStateChange registers a session-state callback.
func (i *Issuer) OnAuthStateChange(fn func(sessionID string)) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.listeners = append(i.listeners, fn)
}

// Clear drops the in-memory and persisted session. The next
// EnsureAnonymousSession mints a fresh identity.
func (i *Issuer) Clear() error {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.sessionID = ""
	return i.local.Delete(localstore.SessionKey)
}

func (i *Issuer) notify(id string) {
	i.mu.Lock()
	listeners := make([]func(string), len(i.listeners))
	copy(listeners, i.listeners)
	i.mu.Unlock()

	for _, fn := range listeners {
		fn(id)
	}
}

func (i *Issuer) sign(sessionID string) (string, error) {
	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sessionID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(SessionExpiry)),
		},
		Type: TokenTypeAnonymous,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// parse validates a token and returns its subject.
func (i *Issuer) parse(raw string) (string, error) {
	var claims Claims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return i.secret, nil
	}, jwt.WithLeeway(i.leeway))
	if err != nil || !token.Valid {
		return "", ErrInvalidToken
	}
	if claims.Type != TokenTypeAnonymous || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}
