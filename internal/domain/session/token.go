package session

import (
	"crypto/rand"
	"encoding/base64"
)

// NewToken generates an unguessable opaque bearer secret.
func NewToken() (string, error) {
	b := make([]byte, 48)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawStdEncoding.EncodeToString(b), nil
}
