// Package auth turns the credential a caller presents into the signer
// identity recorded as a post's author.
package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/subtle"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/ssargent/quill/pkg/codec"
)

// Errors
var (
	ErrUnsigned     = errors.New("request is not signed")
	ErrInvalidToken = errors.New("invalid origin token")
)

// Origin is the credential presented with a call.
type Origin struct {
	Token string
}

// Authenticator resolves an origin to a signer identity.
type Authenticator interface {
	Authenticate(ctx context.Context, origin Origin) (codec.Identity, error)
}

// TokenAuthenticator accepts EdDSA-signed JWTs whose subject is the hex
// encoded public key that signed them.
type TokenAuthenticator struct {
	// MaxAge bounds how long after its iat a token is accepted. Zero disables
	// the check.
	MaxAge time.Duration
	// Leeway absorbs clock skew on exp, iat and nbf.
	Leeway time.Duration
	// Now overrides the clock in tests.
	Now func() time.Time
}

func (a *TokenAuthenticator) now() time.Time {
	if a.Now != nil {
		return a.Now()
	}
	return time.Now()
}

// Authenticate verifies origin's token and returns the subject's identity.
func (a *TokenAuthenticator) Authenticate(ctx context.Context, origin Origin) (codec.Identity, error) {
	if origin.Token == "" {
		return codec.Identity{}, ErrUnsigned
	}

	var signer codec.Identity
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(origin.Token, claims, func(token *jwt.Token) (interface{}, error) {
		id, err := codec.ParseIdentity(claims.Subject)
		if err != nil {
			return nil, fmt.Errorf("subject is not a public key: %w", err)
		}
		signer = id
		return ed25519.PublicKey(id[:]), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodEdDSA.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(a.Leeway),
		jwt.WithTimeFunc(a.now),
	)
	if err != nil {
		return codec.Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return codec.Identity{}, ErrInvalidToken
	}

	if a.MaxAge > 0 {
		if claims.IssuedAt == nil {
			return codec.Identity{}, fmt.Errorf("%w: missing iat", ErrInvalidToken)
		}
		if a.now().Sub(claims.IssuedAt.Time) > a.MaxAge+a.Leeway {
			return codec.Identity{}, fmt.Errorf("%w: token older than %s", ErrInvalidToken, a.MaxAge)
		}
	}
	return signer, nil
}

// SignToken issues a token for the key pair's public half, valid for ttl.
func SignToken(priv ed25519.PrivateKey, ttl time.Duration, now time.Time) (string, error) {
	if len(priv) != ed25519.PrivateKeySize {
		return "", fmt.Errorf("invalid private key size %d", len(priv))
	}
	id, err := codec.IdentityFromBytes(priv.Public().(ed25519.PublicKey))
	if err != nil {
		return "", err
	}

	claims := jwt.RegisteredClaims{
		Subject:   id.String(),
		IssuedAt:  jwt.NewNumericDate(now),
		NotBefore: jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims).SignedString(priv)
}

// StaticAuthenticator maps fixed tokens to identities.
type StaticAuthenticator struct {
	mu     sync.RWMutex
	tokens map[string]codec.Identity
}

// NewStaticAuthenticator creates an authenticator over the given table.
func NewStaticAuthenticator(tokens map[string]codec.Identity) *StaticAuthenticator {
	a := &StaticAuthenticator{tokens: make(map[string]codec.Identity, len(tokens))}
	for tok, id := range tokens {
		a.tokens[tok] = id
	}
	return a
}

// Add registers token for id.
func (a *StaticAuthenticator) Add(token string, id codec.Identity) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.tokens[token] = id
}

// Authenticate looks the token up in the table.
func (a *StaticAuthenticator) Authenticate(ctx context.Context, origin Origin) (codec.Identity, error) {
	if origin.Token == "" {
		return codec.Identity{}, ErrUnsigned
	}

	a.mu.RLock()
	defer a.mu.RUnlock()
	for tok, id := range a.tokens {
		if subtle.ConstantTimeCompare([]byte(tok), []byte(origin.Token)) == 1 {
			return id, nil
		}
	}
	return codec.Identity{}, ErrInvalidToken
}

// Chain tries each authenticator in turn and returns the first identity
// resolved. ErrUnsigned short-circuits since no authenticator can accept an
// empty credential.
type Chain []Authenticator

// Authenticate implements Authenticator.
func (c Chain) Authenticate(ctx context.Context, origin Origin) (codec.Identity, error) {
	if origin.Token == "" {
		return codec.Identity{}, ErrUnsigned
	}
	err := ErrInvalidToken
	for _, a := range c {
		id, aerr := a.Authenticate(ctx, origin)
		if aerr == nil {
			return id, nil
		}
		err = aerr
	}
	return codec.Identity{}, err
}

// Deny rejects every origin as unsigned.
var Deny Authenticator = deny{}

type deny struct{}

func (deny) Authenticate(context.Context, Origin) (codec.Identity, error) {
	return codec.Identity{}, ErrUnsigned
}
