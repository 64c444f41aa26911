package admin

import (
	"crypto/rsa"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

// TokenIssuer mints and checks the RS256 provisioning tokens admins
// hand out to accounts. The signed JWT is what the account stores and
// presents to external systems; the engine only mirrors its expiry
// and revocation state into the credential store.
type TokenIssuer struct {
	key    *rsa.PrivateKey
	issuer string
	ttl    time.Duration
}

// NewTokenIssuer creates a provisioning token issuer.
func NewTokenIssuer(key *rsa.PrivateKey, issuer string, ttl time.Duration) *TokenIssuer {
	return &TokenIssuer{key: key, issuer: issuer, ttl: ttl}
}

// Issue signs a provisioning token for the account. The returned
// expiry is exactly the token's exp claim so the store mirror cannot
// drift from the token itself.
func (ti *TokenIssuer) Issue(accountID uuid.UUID) (string, time.Time, error) {
	now := time.Now()
	exp := now.Add(ti.ttl)

	token, err := jwt.NewBuilder().
		Subject(accountID.String()).
		Issuer(ti.issuer).
		IssuedAt(now).
		Expiration(exp).
		JwtID(uuid.New().String()).
		Build()
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to build provisioning token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.RS256(), ti.key))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign provisioning token: %w", err)
	}

	return string(signed), exp, nil
}

// Verify parses and checks a provisioning token's signature, issuer
// and expiry, and returns the subject account id.
func (ti *TokenIssuer) Verify(tokenString string) (uuid.UUID, error) {
	parsed, err := jwt.Parse(
		[]byte(tokenString),
		jwt.WithKey(jwa.RS256(), ti.key.Public()),
		jwt.WithIssuer(ti.issuer),
	)
	if err != nil {
		return uuid.Nil, err
	}

	sub, ok := parsed.Subject()
	if !ok {
		return uuid.Nil, fmt.Errorf("provisioning token has no subject")
	}

	accountID, err := uuid.Parse(sub)
	if err != nil {
		return uuid.Nil, fmt.Errorf("provisioning token subject is not an account id: %w", err)
	}

	return accountID, nil
}
