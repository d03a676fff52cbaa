package cryptox

import (
	"crypto/rand"
	"fmt"

	"github.com/dmitrijs2005/rackvault/internal/common"
)

// EncryptField encrypts plaintext directly under key (no KDF). The salt slot
// carries random bytes that decryption ignores.
func EncryptField(plaintext, key []byte) (string, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	return seal(key, salt, plaintext)
}

// DecryptField reverses EncryptField. Any failure, including a key of the
// wrong size, yields common.ErrDecryptionFailed; text that does not decode
// as an envelope additionally matches ErrMalformedEnvelope.
func DecryptField(encoded string, key []byte) ([]byte, error) {
	env, err := parse(encoded)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrDecryptionFailed, err)
	}
	plaintext, err := env.open(key)
	if err != nil {
		return nil, common.ErrDecryptionFailed
	}
	return plaintext, nil
}
