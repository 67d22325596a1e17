package scriptauth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"
)

func TestIssueThenValidateRoundTrips(t *testing.T) {
	auth, err := New("test-secret")
	require.NoError(t, err)

	token, err := auth.IssueToken("script-1", time.Minute)
	require.NoError(t, err)

	scriptID, err := auth.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "script-1", scriptID)
}

func TestValidateRejectsExpiredToken(t *testing.T) {
	auth, err := New("test-secret")
	require.NoError(t, err)

	// IssueToken replaces a non-positive ttl with its default, so mint an
	// already-expired token directly with the same secret.
	past := time.Now().Add(-time.Minute)
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, scriptClaims{
		ScriptID: "script-1",
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(past.Add(-time.Minute)),
			ExpiresAt: jwt.NewNumericDate(past),
		},
	}).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = auth.Validate(token)
	require.Error(t, err)
}

func TestValidateRejectsTamperedSignature(t *testing.T) {
	issuer, err := New("secret-a")
	require.NoError(t, err)
	other, err := New("secret-b")
	require.NoError(t, err)

	token, err := issuer.IssueToken("script-1", time.Minute)
	require.NoError(t, err)

	_, err = other.Validate(token)
	require.Error(t, err)
}

func TestIssueTokenRejectsEmptyScriptID(t *testing.T) {
	auth, err := New("test-secret")
	require.NoError(t, err)

	_, err = auth.IssueToken("", time.Minute)
	require.Error(t, err)
}

func TestNewRejectsEmptySecret(t *testing.T) {
	_, err := New("")
	require.Error(t, err)
}

func TestIssueTokenDefaultsNonPositiveTTL(t *testing.T) {
	auth, err := New("test-secret")
	require.NoError(t, err)

	token, err := auth.IssueToken("script-1", 0)
	require.NoError(t, err)

	scriptID, err := auth.Validate(token)
	require.NoError(t, err)
	require.Equal(t, "script-1", scriptID)
}
