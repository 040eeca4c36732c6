// Package product holds the product record and its lifecycle states.
package product

import "time"

// Product is the authoritative record of one tracked good.
type Product struct {
	ID                 int64     `json:"id"`
	Name               string    `json:"name"`
	Price              int64     `json:"price"`
	Expiry             time.Time `json:"expiry,omitempty"`
	Owner              string    `json:"owner"`
	PreviousOwner      string    `json:"previous_owner,omitempty"`
	OriginalOwner      string    `json:"original_owner"`
	FinalCustomer      string    `json:"final_customer,omitempty"`
	State              State     `json:"state"`
	Status             string    `json:"status"`
	HumanVerified      bool      `json:"human_verified"`
	StorageConditions  string    `json:"storage_conditions,omitempty"`
	ReturnedToOriginal bool      `json:"returned_to_original"`
	OriginCID          string    `json:"origin_cid,omitempty"`
	DocumentCID        string    `json:"document_cid,omitempty"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// HasExpiry reports whether an expiry time was set at creation.
func (p Product) HasExpiry() bool { return !p.Expiry.IsZero() }

// ExpiredAt reports whether the expiry time has passed at now.
func (p Product) ExpiredAt(now time.Time) bool {
	return p.HasExpiry() && !now.Before(p.Expiry)
}

// SetState moves the product into s and keeps the status label in sync.
func (p *Product) SetState(s State) {
	p.State = s
	p.Status = s.String()
}

// StatusRecord is one entry of the append-only status history.
type StatusRecord struct {
	ProductID int64     `json:"product_id"`
	State     State     `json:"state"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
	UpdatedBy string    `json:"updated_by"`
}

// Details carries the mutable free-text and content-reference fields.
// Nil pointers leave the stored value unchanged.
type Details struct {
	StorageConditions *string `json:"storage_conditions,omitempty"`
	OriginCID         *string `json:"origin_cid,omitempty"`
	DocumentCID       *string `json:"document_cid,omitempty"`
}

// Empty reports whether no field is set.
func (d Details) Empty() bool {
	return d.StorageConditions == nil && d.OriginCID == nil && d.DocumentCID == nil
}
