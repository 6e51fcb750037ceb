package server

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyRoundTrip(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	token, err := auth.Issue("42", time.Hour)
	require.NoError(t, err)

	userID, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, "42", userID)
}

func TestVerifyRejectsMissingToken(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	_, err := auth.Verify("")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsGarbage(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	_, err := auth.Verify("not.a.token")
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	claims := jwt.RegisteredClaims{
		Subject:   "42",
		IssuedAt:  jwt.NewNumericDate(time.Now().Add(-2 * time.Hour)),
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Hour)),
	}
	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = auth.Verify(expired)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	issuer := NewAuthenticator("secret-a")
	verifier := NewAuthenticator("secret-b")

	token, err := issuer.Issue("42", time.Hour)
	require.NoError(t, err)

	_, err = verifier.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}

func TestVerifyRejectsTokenWithoutSubject(t *testing.T) {
	auth := NewAuthenticator("test-secret")

	claims := jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	require.NoError(t, err)

	_, err = auth.Verify(token)
	assert.ErrorIs(t, err, ErrUnauthorized)
}
