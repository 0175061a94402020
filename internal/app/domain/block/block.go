// Package block defines blocks and validators. Blocks here are ordinary
// relational rows created by application code; hashes are random strings.
package block

import (
	"crypto/rand"
	"encoding/hex"
	"time"
)

// Validator statuses.
const (
	ValidatorActive   = "active"
	ValidatorInactive = "inactive"
	ValidatorJailed   = "jailed"
)

// Block is a display row in the explorer, not a cryptographic commitment.
type Block struct {
	ID         string    `json:"id"`
	Height     int64     `json:"height"`
	Hash       string    `json:"hash"`
	ProposerID string    `json:"proposer_id,omitempty"`
	TxCount    int       `json:"tx_count"`
	CreatedAt  time.Time `json:"created_at"`
}

// Validator is a simulated block producer.
type Validator struct {
	ID             string    `json:"id"`
	Name           string    `json:"name"`
	Address        string    `json:"address"`
	Status         string    `json:"status"`
	BlocksProduced int64     `json:"blocks_produced"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// NewHash returns a random 0x-prefixed 64-hex-char block hash.
func NewHash() string {
	buf := make([]byte, 32)
	_, _ = rand.Read(buf)
	return "0x" + hex.EncodeToString(buf)
}

// ValidStatus reports whether s is a known validator status.
func ValidStatus(s string) bool {
	switch s {
	case ValidatorActive, ValidatorInactive, ValidatorJailed:
		return true
	}
	return false
}
