package auth

import (
	"errors"
	"fmt"
)

// Sentinel errors for credential preconditions. They abort the operation
// before any network call is made.
var (
	// ErrCredentialMissing means no usable access/refresh token pair is stored.
	ErrCredentialMissing = errors.New("no stored credential; run the authorization flow first")

	// ErrMissingAuthorizationCode means the exchange was invoked without a
	// stored authorization code.
	ErrMissingAuthorizationCode = errors.New("authorization code is not stored")

	// ErrMissingCodeVerifier means the PKCE exchange found no stored verifier,
	// i.e. the authorization URL step was never run.
	ErrMissingCodeVerifier = errors.New("code verifier is not stored; generate the authorization URL first")
)

// TokenError is a non-2xx response from the token endpoint. A failed refresh
// is fatal to the whole batch.
type TokenError struct {
	Grant  string
	Status int
	Body   string
}

func (e *TokenError) Error() string {
	return fmt.Sprintf("token endpoint rejected %s grant: status %d: %s", e.Grant, e.Status, e.Body)
}
