// Package notification defines per-user notification records created as side
// effects of balance-affecting flows.
package notification

import "time"

// Types of notifications.
const (
	TypeTransferIn  = "transfer_in"
	TypeTransferOut = "transfer_out"
	TypeP2P         = "p2p"
	TypeEmail       = "email_verification"
)

// Notification is a best-effort record; failures creating one never fail the
// primary operation.
type Notification struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type"`
	Message   string    `json:"message"`
	Read      bool      `json:"read"`
	CreatedAt time.Time `json:"created_at"`
}
