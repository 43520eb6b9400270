package client

import (
	"errors"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// Credential is the bearer credential issued by the identity provider. The
// core holds a read-only reference: it reacts to the credential going away
// (teardown) or changing (forced reconnect), nothing more.
type Credential struct {
	Token  string
	UserID string
}

// CredentialFromToken derives a Credential from a bearer token by reading
// its subject claim. The signature is not verified here; the server rejects
// forged tokens at connection time, the client only needs its own user id
// to author optimistic messages.
func CredentialFromToken(token string) (Credential, error) {
	claims := &jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return Credential{}, fmt.Errorf("failed to parse credential token: %w", err)
	}
	if claims.Subject == "" {
		return Credential{}, errors.New("credential token missing 'sub' claim")
	}
	return Credential{Token: token, UserID: claims.Subject}, nil
}
