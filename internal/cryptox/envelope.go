// Package cryptox implements the vault's envelope format and the primitives
// built on it: passphrase key wrapping, field encryption, Argon2id password
// hashing and HKDF sub-keys.
//
// Every envelope is base64std(salt[16] ‖ nonce[12] ‖ tag[16] ‖ ciphertext).
// AES-256-GCM is used throughout; the tag is stored ahead of the ciphertext,
// so Seal output (ciphertext ‖ tag) is reordered on the way in and out.
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
)

const (
	SaltSize  = 16
	NonceSize = 12
	TagSize   = 16
	KeySize   = 32

	headerSize = SaltSize + NonceSize + TagSize
)

// ErrMalformedEnvelope reports text that is not a well-formed envelope.
var ErrMalformedEnvelope = errors.New("malformed envelope")

// envelope is the decoded binary form.
type envelope struct {
	salt       []byte
	nonce      []byte
	tag        []byte
	ciphertext []byte
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// seal encrypts plaintext under key and returns the encoded envelope with
// salt stored verbatim in the salt slot.
func seal(key, salt, plaintext []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}

	sealed := aead.Seal(nil, nonce, plaintext, nil)
	ct, tag := sealed[:len(sealed)-TagSize], sealed[len(sealed)-TagSize:]

	out := make([]byte, 0, headerSize+len(ct))
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, tag...)
	out = append(out, ct...)
	return base64.StdEncoding.EncodeToString(out), nil
}

// parse decodes the base64 text and splits the fixed-width header.
func parse(encoded string) (*envelope, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil || len(raw) < headerSize {
		return nil, ErrMalformedEnvelope
	}
	return &envelope{
		salt:       raw[:SaltSize],
		nonce:      raw[SaltSize : SaltSize+NonceSize],
		tag:        raw[SaltSize+NonceSize : headerSize],
		ciphertext: raw[headerSize:],
	}, nil
}

// open authenticates and decrypts env under key.
func (env *envelope) open(key []byte) ([]byte, error) {
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	sealed := make([]byte, 0, len(env.ciphertext)+TagSize)
	sealed = append(sealed, env.ciphertext...)
	sealed = append(sealed, env.tag...)
	return aead.Open(nil, env.nonce, sealed, nil)
}
