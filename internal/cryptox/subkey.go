package cryptox

import (
	"crypto/sha256"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// HKDF info labels for keys derived from the install secret.
const (
	InfoTOTP      = "rackvault/totp/v1"
	InfoChallenge = "rackvault/challenge/v1"
)

// DeriveSubkey expands secret into a 32-byte key bound to info.
func DeriveSubkey(secret []byte, info string) ([]byte, error) {
	if len(secret) == 0 {
		return nil, fmt.Errorf("empty secret")
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(info)), key); err != nil {
		return nil, err
	}
	return key, nil
}
