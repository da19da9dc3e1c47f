// Package integrity computes content digests and obtains the dual time
// attestation for a notice: an immediate signature from a trusted time
// authority plus a deferred proof-of-existence anchor on a public ledger.
package integrity

import "time"

// Envelope binds provenance metadata into a digest so the hash covers both
// content and origin. Identical content from a different origin or instant
// yields a different digest.
type Envelope struct {
	OriginIP    string
	GeneratedAt time.Time
}

// TimeAttestation is the immediate signature obtained from a time authority.
type TimeAttestation struct {
	Authority string    `json:"authority"`
	Token     string    `json:"token"`
	SignedAt  time.Time `json:"signed_at"`
}

// AnchorStatus tracks the deferred ledger anchor lifecycle.
type AnchorStatus string

const (
	AnchorPending   AnchorStatus = "pending"
	AnchorConfirmed AnchorStatus = "confirmed"
	AnchorFailed    AnchorStatus = "failed"
)

// AnchorReceipt is the ledger proof-of-existence record. It is stored as
// pending immediately and upgraded to confirmed when later verified; anchor
// failures never block notice delivery.
type AnchorReceipt struct {
	Provider    string       `json:"provider"`
	Reference   string       `json:"reference"`
	Status      AnchorStatus `json:"status"`
	SubmittedAt time.Time    `json:"submitted_at"`
	ConfirmedAt *time.Time   `json:"confirmed_at,omitempty"`
}

// Stamp is the result of requesting the dual timestamp for one digest.
// Degraded means every time authority in the fallback list failed: the hash
// is recorded but unstamped, and the evidence package surfaces that state.
type Stamp struct {
	Digest      string           `json:"digest"`
	Attestation *TimeAttestation `json:"attestation,omitempty"`
	Anchor      *AnchorReceipt   `json:"anchor,omitempty"`
	Degraded    bool             `json:"degraded"`
}
