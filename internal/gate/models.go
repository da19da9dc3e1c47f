// Package gate implements the sequential identity verification pipeline
// guarding disclosure access: identifier match, one-time code, and an
// optional biometric step. Every session is resumable; state is persisted
// after each transition so closing the tab between SMS delivery and code
// entry loses nothing.
package gate

import (
	"time"

	"custodia/pkg/domain"
)

// State is the gate position for one access token. The order is strict:
// a step can only be attempted when every earlier step has passed.
type State string

const (
	StateUnverified        State = "unverified"
	StateIDMatched         State = "id_matched"
	StateCodeVerified      State = "code_verified"
	StateBiometricVerified State = "biometric_verified"
	StateGranted           State = "granted"
	StateLocked            State = "locked"
	StateExpired           State = "expired"
)

// rank orders the progressive states. Terminal failure states carry no rank.
var rank = map[State]int{
	StateUnverified:        0,
	StateIDMatched:         1,
	StateCodeVerified:      2,
	StateBiometricVerified: 3,
	StateGranted:           4,
}

// AtLeast reports whether the session has progressed to s or beyond.
func (s State) AtLeast(min State) bool {
	r, ok := rank[s]
	if !ok {
		return false
	}
	return r >= rank[min]
}

// BiometricOutcome is the tri-state result of the liveness plus face-match
// step. NeedsReview still grants access; it flags the session for human
// follow-up rather than failing it.
type BiometricOutcome string

const (
	BiometricNone        BiometricOutcome = ""
	BiometricApproved    BiometricOutcome = "approved"
	BiometricNeedsReview BiometricOutcome = "needs_review"
	BiometricRejected    BiometricOutcome = "rejected"
	BiometricSkipped     BiometricOutcome = "skipped"
)

// Session is one verification pipeline bound to one access token.
type Session struct {
	Token              string
	NoticeID           domain.NoticeID
	EmployeeID         domain.EmployeeID
	State              State
	IdentifierAttempts int
	BiometricRequired  bool
	BiometricMandatory bool
	BiometricOutcome   BiometricOutcome
	BiometricScore     *float64
	MatchedIdentifier  string
	CreatedAt          time.Time
	ExpiresAt          time.Time
	IDMatchedAt        *time.Time
	GrantedAt          *time.Time
	LockedAt           *time.Time
}

func (s *Session) expired(now time.Time) bool {
	return now.After(s.ExpiresAt)
}

// NextStep names what the visitor must do next, for the step endpoints'
// responses and for resuming a partially completed gate.
func (s *Session) NextStep() string {
	switch s.State {
	case StateUnverified:
		return "submit_identifier"
	case StateIDMatched:
		return "verify_code"
	case StateCodeVerified:
		if s.BiometricRequired {
			return "biometric"
		}
		return "granted"
	case StateBiometricVerified, StateGranted:
		return "granted"
	case StateLocked:
		return "locked"
	case StateExpired:
		return "expired"
	default:
		return "unknown"
	}
}

// EmployeeRecord is the read-model the gate needs about one employee. The
// employee registry itself is owned elsewhere; the gate only reads the
// hashed identifiers and verification preferences.
type EmployeeRecord struct {
	ID               domain.EmployeeID
	FullName         string
	Email            string
	Phone            string
	IdentifierHashes []string
	BiometricConsent bool
	BiometricRef     string
}
