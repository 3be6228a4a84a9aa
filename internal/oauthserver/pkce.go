package oauthserver

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
)

// newOpaqueToken generates a URL-safe random identifier, used for client
// ids, authorization codes and access tokens.
func newOpaqueToken(nbytes int) (string, error) {
	buf := make([]byte, nbytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("oauthserver: generate token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

// verifyPKCE checks a code_verifier against the challenge recorded at
// /authorize time, per RFC 7636. "plain" is accepted (RFC 7636 §4.2 allows
// it) but S256 is what every client in practice uses.
func verifyPKCE(method, challenge, verifier string) bool {
	switch method {
	case "", "plain":
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(verifier)) == 1
	case "S256":
		sum := sha256.Sum256([]byte(verifier))
		computed := base64.RawURLEncoding.EncodeToString(sum[:])
		return subtle.ConstantTimeCompare([]byte(challenge), []byte(computed)) == 1
	default:
		return false
	}
}
