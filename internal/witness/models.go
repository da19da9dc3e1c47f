// Package witness manages third-party witness declarations attached to a
// notice. Each witness gets a single-use access link; their statement and
// signature hash are write-once, and an unused link expires on its own.
package witness

import (
	"time"

	"custodia/pkg/domain"
)

type State string

const (
	StatePending   State = "pending"
	StateInvited   State = "invited"
	StateValidated State = "validated"
	StateSigned    State = "signed"
	StateDeclined  State = "declined"
	StateExpired   State = "expired"
)

// Declaration is one invited witness's participation record.
type Declaration struct {
	ID                domain.WitnessID
	NoticeID          domain.NoticeID
	FullName          string
	Email             string
	Relationship      string
	PresentAtIncident bool
	State             State
	AccessToken       string
	TokenExpiresAt    time.Time
	Statement         string
	SignatureHash     string
	SignedAt          *time.Time
	SignedIP          string
	DeclinedAt        *time.Time
	CreatedAt         time.Time
	InvitedAt         *time.Time
	ValidatedAt       *time.Time
}

func (d *Declaration) tokenExpired(now time.Time) bool {
	return now.After(d.TokenExpiresAt)
}
