// Package notice implements the legal state machine of a disciplinary
// notice: creation and stamping, delivery, gated read confirmation, dispute,
// and firmness. Stored state only ever advances; the richer traffic-light
// view shown to employers is derived on read, never persisted.
package notice

import (
	"fmt"
	"strings"
	"time"

	"custodia/internal/integrity"
	"custodia/pkg/domain"
)

type Category string

const (
	CategoryWarning      Category = "warning"
	CategorySuspension   Category = "suspension"
	CategoryPreDismissal Category = "pre_dismissal_warning"
)

func ParseCategory(s string) (Category, bool) {
	switch Category(s) {
	case CategoryWarning, CategorySuspension, CategoryPreDismissal:
		return Category(s), true
	default:
		return "", false
	}
}

// label is the Spanish legal term used in rendered content and challenge
// answers.
func (c Category) label() string {
	switch c {
	case CategoryWarning:
		return "apercibimiento"
	case CategorySuspension:
		return "suspensión"
	case CategoryPreDismissal:
		return "preaviso de despido"
	default:
		return string(c)
	}
}

// State is the persisted legal state. Expiry for display purposes is
// inferred, never stored.
type State string

const (
	StateDraft    State = "draft"
	StateSent     State = "sent"
	StateRead     State = "read"
	StateFirm     State = "firm"
	StateDisputed State = "disputed"
)

// DisplayState is the derived traffic-light view.
type DisplayState string

const (
	DisplayPending           DisplayState = "pending"
	DisplaySent              DisplayState = "sent"
	DisplayIdentityValidated DisplayState = "identity_validated"
	DisplayRead              DisplayState = "read"
	DisplayApproachingDue    DisplayState = "approaching_due"
	DisplayUpcoming          DisplayState = "upcoming"
	DisplayFirm              DisplayState = "firm"
	DisplayDisputed          DisplayState = "disputed"
	DisplayPhysicalFallback  DisplayState = "physical_fallback_needed"
)

// Notice is the disciplinary communication and its full evidentiary trail.
type Notice struct {
	ID         domain.NoticeID
	EmployerID domain.EmployerID
	EmployeeID domain.EmployeeID
	Category   Category
	Severity   int
	Facts      string

	IncidentAt     time.Time
	IncidentPlace  string
	SuspensionDays int
	SuspensionFrom *time.Time
	SuspensionTo   *time.Time

	ContentHash string
	Stamp       *integrity.Stamp
	GeneratedAt time.Time
	CreationIP  string

	State   State
	DueDate *time.Time

	DeliveredEmailAt    *time.Time
	DeliveredSMSAt      *time.Time
	DeliveredWhatsAppAt *time.Time
	DeliveryBounced     bool

	IdentityValidatedAt *time.Time
	ValidatedIdentifier string
	LinkOpenedAt        *time.Time
	ReadConfirmedAt     *time.Time
	ReadIP              string
	ReadUserAgent       string

	ChallengeAttempts int
	ChallengeFrozen   bool

	DisputedAt           *time.Time
	FirmAt               *time.Time
	PhysicalFallbackAt   *time.Time
	PhysicalFallbackNote string

	CreatedAt time.Time
}

// Content renders the canonical notice text that gets hashed at creation
// and shown behind the gate. The layout is stable; reordering it would
// change every digest.
func (n *Notice) Content() string {
	var b strings.Builder
	fmt.Fprintf(&b, "NOTIFICACIÓN DE %s\n", strings.ToUpper(n.Category.label()))
	fmt.Fprintf(&b, "Fecha del incidente: %s\n", n.IncidentAt.Format("2006-01-02"))
	if n.IncidentPlace != "" {
		fmt.Fprintf(&b, "Lugar: %s\n", n.IncidentPlace)
	}
	if n.Category == CategorySuspension && n.SuspensionDays > 0 {
		fmt.Fprintf(&b, "Días de suspensión: %d\n", n.SuspensionDays)
		if n.SuspensionFrom != nil && n.SuspensionTo != nil {
			fmt.Fprintf(&b, "Período: %s a %s\n",
				n.SuspensionFrom.Format("2006-01-02"), n.SuspensionTo.Format("2006-01-02"))
		}
	}
	fmt.Fprintf(&b, "\nHECHOS:\n%s\n", n.Facts)
	return b.String()
}

// VerifyContent recomputes the content digest from the rendered text and
// the creation envelope and compares it to the stored hash.
func (n *Notice) VerifyContent() bool {
	return integrity.Verify([]byte(n.Content()), integrity.Envelope{
		OriginIP:    n.CreationIP,
		GeneratedAt: n.GeneratedAt,
	}, n.ContentHash)
}

// WordCount feeds the engagement tracking dwell threshold.
func (n *Notice) WordCount() int {
	return len(strings.Fields(n.Content()))
}

// FirstDeliveredAt is the earliest successful channel delivery.
func (n *Notice) FirstDeliveredAt() *time.Time {
	var earliest *time.Time
	for _, t := range []*time.Time{n.DeliveredEmailAt, n.DeliveredSMSAt, n.DeliveredWhatsAppAt} {
		if t == nil {
			continue
		}
		if earliest == nil || t.Before(*earliest) {
			earliest = t
		}
	}
	return earliest
}
