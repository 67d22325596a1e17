// Package scriptauth implements C11, a boundary-only authenticator for
// the (out-of-scope) external script-extension runner's callback
// requests: mint and validate short-lived HS256 JWTs carrying a
// script id. This package does not discover, spawn, or sandbox scripts.
package scriptauth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hrygo/dbgtoolsrv/internal/dbgerrors"
)

// Authenticator issues and validates script callback tokens.
type Authenticator struct {
	secret []byte
}

// New builds an Authenticator from an HMAC secret. The secret must be
// non-empty.
func New(secret string) (*Authenticator, error) {
	if secret == "" {
		return nil, dbgerrors.New(dbgerrors.KindInvalidInput, "scriptauth secret must not be empty")
	}
	return &Authenticator{secret: []byte(secret)}, nil
}

type scriptClaims struct {
	ScriptID string `json:"script_id"`
	jwt.RegisteredClaims
}

// IssueToken mints a token carrying scriptID, expiring after ttl; a
// non-positive ttl is replaced with 5 minutes.
func (a *Authenticator) IssueToken(scriptID string, ttl time.Duration) (string, error) {
	if scriptID == "" {
		return "", dbgerrors.New(dbgerrors.KindInvalidInput, "scriptID must not be empty")
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	now := time.Now()
	claims := scriptClaims{
		ScriptID: scriptID,
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(a.secret)
	if err != nil {
		return "", dbgerrors.Wrap(dbgerrors.KindFatal, err, "sign script callback token")
	}
	return signed, nil
}

// Validate checks token's signature and expiry, returning the carried
// script id on success.
func (a *Authenticator) Validate(tokenString string) (string, error) {
	claims := &scriptClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, dbgerrors.New(dbgerrors.KindInvalidInput, "unexpected signing method")
		}
		return a.secret, nil
	})
	if err != nil {
		return "", dbgerrors.Wrap(dbgerrors.KindInvalidInput, err, "validate script callback token")
	}
	if !token.Valid || claims.ScriptID == "" {
		return "", dbgerrors.New(dbgerrors.KindInvalidInput, "invalid script callback token")
	}
	return claims.ScriptID, nil
}
