package auth

import (
	"errors"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/strefethen/kef-hub-go/internal/config"
)

const (
	issuer   = "kef-hub"
	audience = "kef-hub-client"
)

// Client is the authenticated API caller named in the token subject.
type Client struct {
	Sub   string
	Scope Scope
}

// Scope limits what a token may do.
type Scope string

const (
	// ScopeControl may read state and send commands.
	ScopeControl Scope = "control"
	// ScopeRead may only read state and the change stream.
	ScopeRead Scope = "read"
)

var (
	ErrTokenExpired = errors.New("token expired")
	ErrTokenInvalid = errors.New("token invalid")
)

type tokenClaims struct {
	Scope Scope `json:"scope"`
	jwt.RegisteredClaims
}

// ParseScope maps a flag value to a Scope. Empty means control.
func ParseScope(value string) (Scope, error) {
	switch Scope(strings.ToLower(value)) {
	case "", ScopeControl:
		return ScopeControl, nil
	case ScopeRead:
		return ScopeRead, nil
	default:
		return "", errors.New("scope must be control or read")
	}
}

// GenerateToken signs an access token for client that expires after
// cfg.JWTAccessTokenExpirySec, or ttl when ttl is positive.
func GenerateToken(cfg config.Config, client Client, ttl time.Duration) (string, error) {
	if strings.TrimSpace(client.Sub) == "" {
		return "", errors.New("token subject is required")
	}
	if client.Scope == "" {
		client.Scope = ScopeControl
	}
	if ttl <= 0 {
		ttl = time.Duration(cfg.JWTAccessTokenExpirySec) * time.Second
	}

	now := time.Now()
	claims := tokenClaims{
		Scope: client.Scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   client.Sub,
			Issuer:    issuer,
			Audience:  []string{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(cfg.JWTSecret))
}

// VerifyToken parses and validates the JWT.
func VerifyToken(cfg config.Config, token string) (Client, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Name}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(issuer),
	)

	claims := &tokenClaims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(_ *jwt.Token) (any, error) {
		return []byte(cfg.JWTSecret), nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Client{}, ErrTokenExpired
		}
		return Client{}, ErrTokenInvalid
	}
	if parsed == nil || !parsed.Valid {
		return Client{}, ErrTokenInvalid
	}

	client := Client{Sub: claims.Subject, Scope: claims.Scope}
	if client.Sub == "" {
		return Client{}, ErrTokenInvalid
	}
	if client.Scope != ScopeControl && client.Scope != ScopeRead {
		return Client{}, ErrTokenInvalid
	}
	return client, nil
}
