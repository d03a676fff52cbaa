package cryptox

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/rackvault/internal/common"
	"golang.org/x/crypto/pbkdf2"
)

// PBKDF2Iterations is the work factor for passphrase-derived wrapping keys.
const PBKDF2Iterations = 100000

// ErrWrongPassphrase is returned by Unwrap for every failure: bad base64,
// short input and tag mismatch are indistinguishable to the caller.
var ErrWrongPassphrase = errors.New("wrong passphrase")

func deriveKEK(passphrase, salt []byte) []byte {
	return pbkdf2.Key(passphrase, salt, PBKDF2Iterations, KeySize, sha256.New)
}

// Wrap encrypts a 32-byte raw key under a key derived from passphrase with
// a fresh random salt and nonce.
func Wrap(rawKey, passphrase []byte) (string, error) {
	if len(rawKey) != KeySize {
		return "", fmt.Errorf("raw key must be %d bytes, got %d", KeySize, len(rawKey))
	}

	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}

	kek := deriveKEK(passphrase, salt)
	defer common.WipeByteArray(kek)

	return seal(kek, salt, rawKey)
}

// Unwrap recovers the raw key using the salt embedded in the envelope.
func Unwrap(encoded string, passphrase []byte) ([]byte, error) {
	env, err := parse(encoded)
	if err != nil {
		return nil, ErrWrongPassphrase
	}

	kek := deriveKEK(passphrase, env.salt)
	defer common.WipeByteArray(kek)

	raw, err := env.open(kek)
	if err != nil || len(raw) != KeySize {
		return nil, ErrWrongPassphrase
	}
	return raw, nil
}
