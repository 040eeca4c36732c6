// Package audit holds the immutable transaction record.
package audit

import "time"

// Action labels recorded for mutating operations.
const (
	ActionCreation       = "Creation"
	ActionTransfer       = "Transfer"
	ActionStatusUpdate   = "Status Update"
	ActionDeletion       = "Deletion"
	ActionReturn         = "Return"
	ActionMetadataUpdate = "Metadata Update"
	ActionVerification   = "Verification"
)

// Record is one append-only audit entry. Records outlive the product they
// reference.
type Record struct {
	Seq       int64     `json:"seq"`
	ProductID int64     `json:"product_id"`
	Actor     string    `json:"actor"`
	Action    string    `json:"action"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	From      string    `json:"from,omitempty"`
	To        string    `json:"to,omitempty"`
}
