// Package auth verifies write-endpoint credentials and issues bearer tokens.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"agendacomic/internal/apierr"
)

// DefaultTokenTTL is how long an issued bearer token stays valid.
const DefaultTokenTTL = 30 * time.Minute

const issuer = "agendacomic"

// User is a configured account; PasswordHash is a bcrypt hash.
type User struct {
	Username     string
	PasswordHash string
}

// Principal is the authenticated caller handed to write handlers.
type Principal struct {
	Username string
}

// Authenticator checks passwords against a fixed user table and signs and
// verifies HS256 tokens.
type Authenticator struct {
	users  map[string]string
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithClock overrides time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(a *Authenticator) { a.now = now }
}

// New builds an Authenticator. An empty secret disables bearer tokens;
// basic credentials still work.
func New(users []User, secret string, ttl time.Duration, opts ...Option) *Authenticator {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	a := &Authenticator{
		users:  make(map[string]string, len(users)),
		secret: []byte(secret),
		ttl:    ttl,
		now:    time.Now,
	}
	for _, u := range users {
		if u.Username == "" || u.PasswordHash == "" {
			continue
		}
		a.users[u.Username] = u.PasswordHash
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

// HashPassword returns a bcrypt hash suitable for the config file.
func HashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword verifies a username/password pair.
func (a *Authenticator) CheckPassword(username, password string) (Principal, error) {
	hash, ok := a.users[username]
	if !ok {
		// Keep timing similar for unknown users.
		_ = bcrypt.CompareHashAndPassword(dummyHash(), []byte(password))
		return Principal{}, apierr.Authentication("incorrect username or password")
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)); err != nil {
		return Principal{}, apierr.Authentication("incorrect username or password")
	}
	return Principal{Username: username}, nil
}

var dummyHash = sync.OnceValue(func() []byte {
	h, _ := bcrypt.GenerateFromPassword([]byte("agendacomic"), bcrypt.DefaultCost)
	return h
})

// Token is the response of the token endpoint.
type Token struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
	ExpiresIn   int    `json:"expires_in"`
}

// IssueToken exchanges credentials for a signed bearer token.
func (a *Authenticator) IssueToken(username, password string) (Token, error) {
	if len(a.secret) == 0 {
		return Token{}, apierr.Authentication("token issuance is disabled")
	}
	p, err := a.CheckPassword(username, password)
	if err != nil {
		return Token{}, err
	}
	now := a.now()
	claims := jwt.RegisteredClaims{
		Subject:   p.Username,
		Issuer:    issuer,
		ID:        uuid.NewString(),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(a.ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return Token{}, fmt.Errorf("sign token: %w", err)
	}
	return Token{
		AccessToken: signed,
		TokenType:   "bearer",
		ExpiresIn:   int(a.ttl / time.Second),
	}, nil
}

// VerifyToken validates a bearer token and returns its principal.
func (a *Authenticator) VerifyToken(raw string) (Principal, error) {
	if len(a.secret) == 0 {
		return Principal{}, apierr.Authentication("bearer tokens are disabled")
	}
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Principal{}, apierr.Authentication("token expired")
		}
		return Principal{}, apierr.Authentication("invalid token")
	}
	if _, ok := a.users[claims.Subject]; !ok {
		return Principal{}, apierr.Authentication("unknown subject")
	}
	return Principal{Username: claims.Subject}, nil
}

type principalKey struct{}

// WithPrincipal stores p in ctx.
func WithPrincipal(ctx context.Context, p Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFrom returns the authenticated principal, if any.
func PrincipalFrom(ctx context.Context) (Principal, bool) {
	p, ok := ctx.Value(principalKey{}).(Principal)
	return p, ok
}
