package cryptox

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/dmitrijs2005/rackvault/internal/common"
	"golang.org/x/crypto/argon2"
)

// Argon2Params are the Argon2id cost settings. Memory is in KiB.
type Argon2Params struct {
	Memory  uint32
	Time    uint32
	Threads uint8
	SaltLen uint32
	KeyLen  uint32
}

// DefaultArgon2Params: 64 MiB, 4 passes, 1 lane.
var DefaultArgon2Params = Argon2Params{
	Memory:  64 * 1024,
	Time:    4,
	Threads: 1,
	SaltLen: 16,
	KeyLen:  32,
}

var ErrInvalidHash = errors.New("invalid password hash")

// PasswordHasher produces and checks PHC-formatted Argon2id hashes:
//
//	$argon2id$v=19$m=65536,t=4,p=1$<salt>$<hash>
//
// Verification uses the parameters stored in the hash, so raising the cost
// does not invalidate existing hashes.
type PasswordHasher struct {
	params Argon2Params

	dummyOnce sync.Once
	dummy     string
}

func NewPasswordHasher(p Argon2Params) *PasswordHasher {
	if p.SaltLen == 0 {
		p.SaltLen = DefaultArgon2Params.SaltLen
	}
	if p.KeyLen == 0 {
		p.KeyLen = DefaultArgon2Params.KeyLen
	}
	return &PasswordHasher{params: p}
}

// Hash returns a PHC string for password.
func (h *PasswordHasher) Hash(password []byte) (string, error) {
	salt := make([]byte, h.params.SaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("generate salt: %w", err)
	}
	p := h.params
	key := argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, p.Memory, p.Time, p.Threads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(key)), nil
}

// Verify reports whether password matches encoded, comparing in constant time.
func (h *PasswordHasher) Verify(password []byte, encoded string) (bool, error) {
	p, salt, want, err := decodeHash(encoded)
	if err != nil {
		return false, err
	}
	got := argon2.IDKey(password, salt, p.Time, p.Memory, p.Threads, uint32(len(want)))
	return subtle.ConstantTimeCompare(got, want) == 1, nil
}

// VerifyDummy spends the same work as a real Verify against a hash nobody
// knows the password for. It is used when the user does not exist.
func (h *PasswordHasher) VerifyDummy(password []byte) {
	h.dummyOnce.Do(func() {
		h.dummy, _ = h.Hash(GenerateKey())
	})
	_, _ = h.Verify(password, h.dummy)
}

func decodeHash(encoded string) (Argon2Params, []byte, []byte, error) {
	var p Argon2Params

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != "argon2id" {
		return p, nil, nil, ErrInvalidHash
	}

	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil || version != argon2.Version {
		return p, nil, nil, ErrInvalidHash
	}
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &p.Memory, &p.Time, &p.Threads); err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	if p.Time == 0 || p.Threads == 0 {
		return p, nil, nil, ErrInvalidHash
	}

	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return p, nil, nil, ErrInvalidHash
	}
	key, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil || len(key) == 0 {
		return p, nil, nil, ErrInvalidHash
	}
	p.SaltLen = uint32(len(salt))
	p.KeyLen = uint32(len(key))
	return p, salt, key, nil
}

// GenerateKey returns 32 fresh random bytes.
func GenerateKey() []byte {
	return common.GenerateRandByteArray(KeySize)
}
