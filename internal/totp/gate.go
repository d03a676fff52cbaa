// Package totp implements the time-based second factor: secret generation,
// otpauth enrollment URIs and QR codes, code verification with one step of
// clock skew, two-phase enrollment and the system-key box that keeps TOTP
// secrets encrypted at rest independently of the vault lock state.
package totp

import (
	"bytes"
	"encoding/base32"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

const (
	Period     = 30
	Skew       = 1
	SecretSize = 20
)

var validateOpts = totp.ValidateOpts{
	Period:    Period,
	Skew:      Skew,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

var b32 = base32.StdEncoding.WithPadding(base32.NoPadding)

// Gate holds the issuer shown in authenticator apps.
type Gate struct {
	issuer string
}

func NewGate(issuer string) *Gate {
	return &Gate{issuer: issuer}
}

// GenerateSecret returns 160 random bits, base32 without padding.
func (g *Gate) GenerateSecret() (string, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      g.issuer,
		AccountName: "enrollment",
		SecretSize:  SecretSize,
		Period:      Period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate totp secret: %w", err)
	}
	return key.Secret(), nil
}

func (g *Gate) key(secret, accountLabel string) (*otp.Key, error) {
	raw, err := b32.DecodeString(strings.ToUpper(strings.TrimRight(secret, "=")))
	if err != nil {
		return nil, fmt.Errorf("decode totp secret: %w", err)
	}
	return totp.Generate(totp.GenerateOpts{
		Issuer:      g.issuer,
		AccountName: accountLabel,
		Secret:      raw,
		Period:      Period,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
}

// EnrollmentURI builds the otpauth://totp/... URI for secret.
func (g *Gate) EnrollmentURI(secret, accountLabel string) (string, error) {
	key, err := g.key(secret, accountLabel)
	if err != nil {
		return "", err
	}
	return key.URL(), nil
}

// QRCode renders the enrollment URI as a size×size PNG.
func (g *Gate) QRCode(secret, accountLabel string, size int) ([]byte, error) {
	key, err := g.key(secret, accountLabel)
	if err != nil {
		return nil, err
	}
	img, err := key.Image(size, size)
	if err != nil {
		return nil, fmt.Errorf("render qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// Verify accepts codes for the steps at, at-30s and at+30s. The comparison
// is constant-time.
func (g *Gate) Verify(secret, code string, at time.Time) bool {
	code = strings.TrimSpace(code)
	if len(code) != 6 {
		return false
	}
	ok, err := totp.ValidateCustom(code, secret, at.UTC(), validateOpts)
	return err == nil && ok
}

// Code returns the code for secret at t. Used by the CLI self-check and tests.
func (g *Gate) Code(secret string, t time.Time) (string, error) {
	return totp.GenerateCodeCustom(secret, t.UTC(), validateOpts)
}
