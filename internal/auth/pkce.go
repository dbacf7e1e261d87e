package auth

import (
	"crypto/sha256"
	"encoding/base64"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// maxVerifierLength is the upper bound RFC 7636 places on a code verifier.
// A SHA-256 digest encodes to 43 characters, the lower bound, so the
// truncation below never fires in practice.
const maxVerifierLength = 128

// GenerateVerifier derives a PKCE code verifier from a fresh random seed.
// The seed is a UUID concatenated with a high-resolution timestamp, hashed
// through SHA-256 and encoded as URL-safe base64 without padding.
func GenerateVerifier() string {
	seed := uuid.NewString() + strconv.FormatInt(time.Now().UnixNano(), 10)
	digest := sha256.Sum256([]byte(seed))
	verifier := base64.RawURLEncoding.EncodeToString(digest[:])
	if len(verifier) > maxVerifierLength {
		verifier = verifier[:maxVerifierLength]
	}
	return verifier
}

// Challenge computes the S256 code challenge for a verifier:
// BASE64URL(SHA256(ASCII(verifier))), no padding. Deterministic in the
// verifier; the verifier cannot be recovered from it.
func Challenge(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}
