package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	jwtlib "github.com/golang-jwt/jwt/v5"

	"github.com/aranyaone/relay/internal/domain"
)

// Options control signing and token lifetime.
type Options struct {
	Secret []byte        // HMAC key
	Alg    string        // HS256/HS384/HS512 (default HS256)
	TTL    time.Duration // token validity (default 2h)
}

// DefaultOptions returns HS256 options with a two hour TTL.
func DefaultOptions(secret []byte) Options {
	return Options{Secret: secret, Alg: "HS256", TTL: 2 * time.Hour}
}

// JWTAuthenticator resolves HMAC-signed bearer tokens into identities.
// It implements domain.Authenticator.
type JWTAuthenticator struct {
	opts Options
}

// NewJWTAuthenticator creates an authenticator from the given options.
func NewJWTAuthenticator(opts Options) (*JWTAuthenticator, error) {
	if len(opts.Secret) == 0 {
		return nil, fmt.Errorf("jwt authenticator requires a secret")
	}
	if _, err := signingMethod(opts.Alg); err != nil {
		return nil, err
	}
	return &JWTAuthenticator{opts: opts}, nil
}

// Generate issues a signed token for the identity. Used by the CLI and tests;
// in production tokens normally come from the surrounding platform.
func (a *JWTAuthenticator) Generate(identity domain.Identity) (string, error) {
	method, err := signingMethod(a.opts.Alg)
	if err != nil {
		return "", err
	}
	ttl := a.opts.TTL
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	now := time.Now()

	claims := jwtlib.MapClaims{
		"sub":  identity.ID,
		"name": identity.Name,
		"role": string(identity.Role),
		"iat":  now.Unix(),
		"nbf":  now.Unix(),
		"exp":  now.Add(ttl).Unix(),
	}
	return jwtlib.NewWithClaims(method, claims).SignedString(a.opts.Secret)
}

// Authenticate verifies the credential and extracts the identity claims.
// Any verification failure maps to domain.ErrAuthenticationFailed so callers
// never leak token internals to the client.
func (a *JWTAuthenticator) Authenticate(ctx context.Context, credential string) (domain.Identity, error) {
	if credential == "" {
		return domain.Identity{}, domain.ErrAuthenticationFailed
	}

	parsed, err := jwtlib.Parse(credential, func(t *jwtlib.Token) (interface{}, error) {
		// Only the HMAC family is accepted; anything else is an attack or a
		// misconfigured issuer.
		if _, ok := t.Method.(*jwtlib.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected alg: %v", t.Header["alg"])
		}
		return a.opts.Secret, nil
	})
	if err != nil || !parsed.Valid {
		return domain.Identity{}, domain.ErrAuthenticationFailed
	}

	claims, ok := parsed.Claims.(jwtlib.MapClaims)
	if !ok {
		return domain.Identity{}, domain.ErrAuthenticationFailed
	}

	sub, _ := claims["sub"].(string)
	if sub == "" {
		return domain.Identity{}, domain.ErrAuthenticationFailed
	}

	identity := domain.Identity{ID: sub, Role: domain.RoleUser}
	if name, ok := claims["name"].(string); ok {
		identity.Name = name
	}
	if role, ok := claims["role"].(string); ok && role != "" {
		identity.Role = domain.Role(role)
	}
	return identity, nil
}

func signingMethod(alg string) (jwtlib.SigningMethod, error) {
	switch strings.ToUpper(strings.TrimSpace(alg)) {
	case "", "HS256":
		return jwtlib.SigningMethodHS256, nil
	case "HS384":
		return jwtlib.SigningMethodHS384, nil
	case "HS512":
		return jwtlib.SigningMethodHS512, nil
	default:
		return nil, fmt.Errorf("unsupported alg: %s (use HS256/HS384/HS512)", alg)
	}
}
