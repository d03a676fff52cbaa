// Package backup exports the configured tables as one encrypted file and
// merges such files back without touching rows that already exist.
//
// A backup is the ASCII line "RACKVAULT-BACKUP-V1" followed by a single
// field envelope, keyed by the raw vault key, over the JSON document
// {version, exported_at, tables: {name: [rows...]}}.
package backup

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/rackvault/internal/common"
	"github.com/dmitrijs2005/rackvault/internal/cryptox"
)

// Magic starts every backup file.
const Magic = "RACKVAULT-BACKUP-V1\n"

// FormatVersion is the version written into the JSON payload.
const FormatVersion = 1

// Row is one table row keyed by column name.
type Row map[string]any

// Snapshot is the decrypted backup payload.
type Snapshot struct {
	Version    int              `json:"version"`
	ExportedAt time.Time        `json:"exported_at"`
	Tables     map[string][]Row `json:"tables"`
}

// RowCount sums the rows of every table.
func (s *Snapshot) RowCount() int {
	n := 0
	for _, rows := range s.Tables {
		n += len(rows)
	}
	return n
}

// Encode serialises and encrypts snap under key.
func Encode(snap *Snapshot, key []byte) ([]byte, error) {
	payload, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	defer common.WipeByteArray(payload)

	env, err := cryptox.EncryptField(payload, key)
	if err != nil {
		return nil, fmt.Errorf("encrypt snapshot: %w", err)
	}

	var buf bytes.Buffer
	buf.Grow(len(Magic) + len(env) + 1)
	buf.WriteString(Magic)
	buf.WriteString(env)
	buf.WriteByte('\n')
	return buf.Bytes(), nil
}

// Decode verifies the header, decrypts the payload with key and parses it.
// A missing header, a body that is not an envelope, or a payload that is
// not a snapshot yields common.ErrBackupFormatInvalid; an envelope that
// does not open under key yields common.ErrBackupDecryptionFailed.
func Decode(blob, key []byte) (*Snapshot, error) {
	if !bytes.HasPrefix(blob, []byte(Magic)) {
		return nil, common.ErrBackupFormatInvalid
	}
	body := bytes.TrimSpace(blob[len(Magic):])

	payload, err := cryptox.DecryptField(string(body), key)
	if err != nil {
		if errors.Is(err, cryptox.ErrMalformedEnvelope) {
			return nil, common.ErrBackupFormatInvalid
		}
		return nil, common.ErrBackupDecryptionFailed
	}
	defer common.WipeByteArray(payload)

	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()

	var snap Snapshot
	if err := dec.Decode(&snap); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrBackupFormatInvalid, err)
	}
	if snap.Version != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", common.ErrBackupFormatInvalid, snap.Version)
	}
	if snap.Tables == nil {
		snap.Tables = map[string][]Row{}
	}
	return &snap, nil
}
