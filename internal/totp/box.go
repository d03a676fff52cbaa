package totp

import (
	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/cryptox"
)

// Box encrypts TOTP secrets at rest under the system key derived from the
// install secret, so second-factor checks work while the vault is locked.
type Box struct {
	key []byte
}

// NewBox derives the system key from installSecret.
func NewBox(installSecret []byte) (*Box, error) {
	key, err := cryptox.DeriveSubkey(installSecret, cryptox.InfoTOTP)
	if err != nil {
		return nil, err
	}
	return &Box{key: key}, nil
}

func (b *Box) Seal(secret string) (string, error) {
	return cryptox.EncryptField([]byte(secret), b.key)
}

// Open returns common.ErrDecryptionFailed for envelopes sealed under a
// different install secret.
func (b *Box) Open(envelope string) (string, error) {
	raw, err := cryptox.DecryptField(envelope, b.key)
	if err != nil {
		return "", err
	}
	defer common.WipeByteArray(raw)
	return string(raw), nil
}
