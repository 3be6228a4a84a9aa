package oauthserver

import (
	"crypto/sha256"
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestVerifyPKCES256(t *testing.T) {
	verifier := "some-random-verifier-string-value"
	sum := sha256.Sum256([]byte(verifier))
	challenge := base64.RawURLEncoding.EncodeToString(sum[:])

	assert.True(t, verifyPKCE("S256", challenge, verifier))
	assert.False(t, verifyPKCE("S256", challenge, "wrong-verifier"))
}

func TestVerifyPKCEPlain(t *testing.T) {
	assert.True(t, verifyPKCE("plain", "same-value", "same-value"))
	assert.True(t, verifyPKCE("", "same-value", "same-value"))
	assert.False(t, verifyPKCE("plain", "a", "b"))
}

func TestVerifyPKCEUnknownMethod(t *testing.T) {
	assert.False(t, verifyPKCE("bogus", "a", "a"))
}

func TestNewOpaqueTokenIsURLSafeAndUnique(t *testing.T) {
	a, err := newOpaqueToken(32)
	assert.NoError(t, err)
	b, err := newOpaqueToken(32)
	assert.NoError(t, err)
	assert.NotEqual(t, a, b)
	assert.NotEmpty(t, a)
}
