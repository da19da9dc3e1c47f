package httptransport

import (
	"time"

	"custodia/internal/audit"
	"custodia/internal/convenio"
	"custodia/internal/delivery"
	"custodia/internal/descargo"
	"custodia/internal/evidence"
	"custodia/internal/gate"
	"custodia/internal/integrity"
	"custodia/internal/notice"
	"custodia/internal/witness"
)

// noticeView is the employer-facing projection of a notice. The derived
// traffic-light state is computed at render time, never persisted.
type noticeView struct {
	ID             string     `json:"id"`
	EmployerID     string     `json:"employer_id"`
	EmployeeID     string     `json:"employee_id"`
	Category       string     `json:"category"`
	Severity       int        `json:"severity"`
	Facts          string     `json:"facts"`
	IncidentAt     time.Time  `json:"incident_at"`
	IncidentPlace  string     `json:"incident_place"`
	SuspensionDays int        `json:"suspension_days,omitempty"`
	SuspensionFrom *time.Time `json:"suspension_from,omitempty"`
	SuspensionTo   *time.Time `json:"suspension_to,omitempty"`

	State        string `json:"state"`
	DisplayState string `json:"display_state"`

	ContentHash string           `json:"content_hash"`
	Stamp       *integrity.Stamp `json:"stamp,omitempty"`
	GeneratedAt time.Time        `json:"generated_at"`

	DueDate             *time.Time `json:"due_date,omitempty"`
	DeliveredEmailAt    *time.Time `json:"delivered_email_at,omitempty"`
	DeliveredSMSAt      *time.Time `json:"delivered_sms_at,omitempty"`
	DeliveredWhatsAppAt *time.Time `json:"delivered_whatsapp_at,omitempty"`
	DeliveryBounced     bool       `json:"delivery_bounced"`

	IdentityValidatedAt *time.Time `json:"identity_validated_at,omitempty"`
	ValidatedIdentifier string     `json:"validated_identifier,omitempty"`
	LinkOpenedAt        *time.Time `json:"link_opened_at,omitempty"`
	ReadConfirmedAt     *time.Time `json:"read_confirmed_at,omitempty"`

	ChallengeFrozen bool `json:"challenge_frozen"`

	DisputedAt           *time.Time `json:"disputed_at,omitempty"`
	FirmAt               *time.Time `json:"firm_at,omitempty"`
	PhysicalFallbackAt   *time.Time `json:"physical_fallback_at,omitempty"`
	PhysicalFallbackNote string     `json:"physical_fallback_note,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

func (h *Handler) noticeToView(n *notice.Notice, now time.Time) noticeView {
	return noticeView{
		ID:                   n.ID.String(),
		EmployerID:           n.EmployerID.String(),
		EmployeeID:           n.EmployeeID.String(),
		Category:             string(n.Category),
		Severity:             n.Severity,
		Facts:                n.Facts,
		IncidentAt:           n.IncidentAt,
		IncidentPlace:        n.IncidentPlace,
		SuspensionDays:       n.SuspensionDays,
		SuspensionFrom:       n.SuspensionFrom,
		SuspensionTo:         n.SuspensionTo,
		State:                string(n.State),
		DisplayState:         string(h.notices.DisplayState(n, now)),
		ContentHash:          n.ContentHash,
		Stamp:                n.Stamp,
		GeneratedAt:          n.GeneratedAt,
		DueDate:              n.DueDate,
		DeliveredEmailAt:     n.DeliveredEmailAt,
		DeliveredSMSAt:       n.DeliveredSMSAt,
		DeliveredWhatsAppAt:  n.DeliveredWhatsAppAt,
		DeliveryBounced:      n.DeliveryBounced,
		IdentityValidatedAt:  n.IdentityValidatedAt,
		ValidatedIdentifier:  n.ValidatedIdentifier,
		LinkOpenedAt:         n.LinkOpenedAt,
		ReadConfirmedAt:      n.ReadConfirmedAt,
		ChallengeFrozen:      n.ChallengeFrozen,
		DisputedAt:           n.DisputedAt,
		FirmAt:               n.FirmAt,
		PhysicalFallbackAt:   n.PhysicalFallbackAt,
		PhysicalFallbackNote: n.PhysicalFallbackNote,
		CreatedAt:            n.CreatedAt,
	}
}

// sessionView is the visitor-facing gate state. The matched identifier is
// already masked by the gate; raw identifiers never reach the wire.
type sessionView struct {
	State             string `json:"state"`
	NextStep          string `json:"next_step"`
	BiometricRequired bool   `json:"biometric_required"`
	MatchedIdentifier string `json:"matched_identifier,omitempty"`
}

func sessionToView(s *gate.Session) sessionView {
	return sessionView{
		State:             string(s.State),
		NextStep:          s.NextStep(),
		BiometricRequired: s.BiometricRequired,
		MatchedIdentifier: s.MatchedIdentifier,
	}
}

type stepView struct {
	Status            string      `json:"status"`
	RemainingAttempts int         `json:"remaining_attempts,omitempty"`
	Session           sessionView `json:"session"`
}

func stepToView(res *gate.StepResult) stepView {
	return stepView{
		Status:            string(res.Status),
		RemainingAttempts: res.RemainingAttempts,
		Session:           sessionToView(res.Session),
	}
}

type attemptView struct {
	Channel string    `json:"channel"`
	Target  string    `json:"target"`
	SentAt  time.Time `json:"sent_at,omitempty"`
	Error   string    `json:"error,omitempty"`
}

func attemptsToView(attempts []delivery.Attempt) []attemptView {
	out := make([]attemptView, 0, len(attempts))
	for _, a := range attempts {
		v := attemptView{Channel: string(a.Channel), Target: a.Target, SentAt: a.SentAt}
		if a.Err != nil {
			v.Error = a.Err.Error()
		}
		out = append(out, v)
	}
	return out
}

// witnessView omits the access token: the invite link travels only in the
// witness's email.
type witnessView struct {
	ID                string     `json:"id"`
	NoticeID          string     `json:"notice_id"`
	FullName          string     `json:"full_name"`
	Relationship      string     `json:"relationship,omitempty"`
	PresentAtIncident bool       `json:"present_at_incident"`
	State             string     `json:"state"`
	Statement         string     `json:"statement,omitempty"`
	SignatureHash     string     `json:"signature_hash,omitempty"`
	SignedAt          *time.Time `json:"signed_at,omitempty"`
	DeclinedAt        *time.Time `json:"declined_at,omitempty"`
	InvitedAt         *time.Time `json:"invited_at,omitempty"`
	ValidatedAt       *time.Time `json:"validated_at,omitempty"`
	TokenExpiresAt    time.Time  `json:"token_expires_at"`
}

func witnessToView(d *witness.Declaration) witnessView {
	return witnessView{
		ID:                d.ID.String(),
		NoticeID:          d.NoticeID.String(),
		FullName:          d.FullName,
		Relationship:      d.Relationship,
		PresentAtIncident: d.PresentAtIncident,
		State:             string(d.State),
		Statement:         d.Statement,
		SignatureHash:     d.SignatureHash,
		SignedAt:          d.SignedAt,
		DeclinedAt:        d.DeclinedAt,
		InvitedAt:         d.InvitedAt,
		ValidatedAt:       d.ValidatedAt,
		TokenExpiresAt:    d.TokenExpiresAt,
	}
}

type descargoView struct {
	NoticeID          string     `json:"notice_id"`
	State             string     `json:"state"`
	WindowEndsAt      time.Time  `json:"window_ends_at"`
	Statement         string     `json:"statement,omitempty"`
	StatementHash     string     `json:"statement_hash,omitempty"`
	SwornAt           *time.Time `json:"sworn_at,omitempty"`
	ExercisedAt       *time.Time `json:"exercised_at,omitempty"`
	DeclinedAt        *time.Time `json:"declined_at,omitempty"`
	ExpiredAt         *time.Time `json:"expired_at,omitempty"`
	AdmissionFlag     bool       `json:"admission_flag,omitempty"`
	ContradictionFlag bool       `json:"contradiction_flag,omitempty"`
	AnnotationNotes   string     `json:"annotation_notes,omitempty"`
	AnnotatedAt       *time.Time `json:"annotated_at,omitempty"`
	AnnotatedBy       string     `json:"annotated_by,omitempty"`
}

// descargoToView renders the record for the employer. Annotation fields are
// stripped for the employee so the assessment never leaks back.
func descargoToView(d *descargo.Descargo, includeAnnotation bool) descargoView {
	v := descargoView{
		NoticeID:      d.NoticeID.String(),
		State:         string(d.State),
		WindowEndsAt:  d.WindowEndsAt,
		Statement:     d.Statement,
		StatementHash: d.StatementHash,
		SwornAt:       d.SwornAt,
		ExercisedAt:   d.ExercisedAt,
		DeclinedAt:    d.DeclinedAt,
		ExpiredAt:     d.ExpiredAt,
	}
	if includeAnnotation {
		v.AdmissionFlag = d.AdmissionFlag
		v.ContradictionFlag = d.ContradictionFlag
		v.AnnotationNotes = d.AnnotationNotes
		v.AnnotatedAt = d.AnnotatedAt
		v.AnnotatedBy = d.AnnotatedBy
	}
	return v
}

type evidenceView struct {
	ID          string            `json:"id"`
	NoticeID    string            `json:"notice_id"`
	Kind        string            `json:"kind"`
	Filename    string            `json:"filename"`
	ByteSize    int64             `json:"byte_size"`
	ContentHash string            `json:"content_hash"`
	Principal   bool              `json:"principal"`
	Metadata    evidence.Metadata `json:"metadata"`
	CreatedAt   time.Time         `json:"created_at"`
}

func evidenceToView(item *evidence.Item) evidenceView {
	return evidenceView{
		ID:          item.ID.String(),
		NoticeID:    item.NoticeID.String(),
		Kind:        string(item.Kind),
		Filename:    item.Filename,
		ByteSize:    item.ByteSize,
		ContentHash: item.ContentHash,
		Principal:   item.Principal,
		Metadata:    item.Metadata,
		CreatedAt:   item.CreatedAt,
	}
}

// eventView shows the device as the summarized browser and platform
// reading; the raw user agent string stays on the audit row.
type eventView struct {
	Kind        string    `json:"kind"`
	Title       string    `json:"title"`
	OccurredAt  time.Time `json:"occurred_at"`
	Actor       string    `json:"actor,omitempty"`
	IP          string    `json:"ip,omitempty"`
	Device      string    `json:"device,omitempty"`
	ContentHash string    `json:"content_hash,omitempty"`
	Detail      string    `json:"detail,omitempty"`
}

func eventsToView(events []*audit.Event) []eventView {
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView{
			Kind:        string(e.Kind),
			Title:       e.Title,
			OccurredAt:  e.OccurredAt,
			Actor:       e.Actor,
			IP:          e.IP,
			Device:      audit.SummarizeUA(e.UserAgent),
			ContentHash: e.ContentHash,
			Detail:      e.Detail,
		})
	}
	return out
}

type agreementView struct {
	ID         string     `json:"id"`
	EmployerID string     `json:"employer_id"`
	EmployeeID string     `json:"employee_id"`
	State      string     `json:"state"`
	Email      string     `json:"email"`
	Phone      string     `json:"phone,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	SignedAt   *time.Time `json:"signed_at,omitempty"`
}

func agreementToView(a *convenio.Agreement) agreementView {
	return agreementView{
		ID:         a.ID.String(),
		EmployerID: a.EmployerID.String(),
		EmployeeID: a.EmployeeID.String(),
		State:      string(a.State),
		Email:      a.Email,
		Phone:      a.Phone,
		CreatedAt:  a.CreatedAt,
		SignedAt:   a.SignedAt,
	}
}
