// Package audit is the append-only chain-of-custody log. Every
// state-relevant occurrence on a notice lands here as an immutable row;
// rows are never updated or deleted, and each carries its own content hash
// where the underlying fact has one.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	id "custodia/pkg/domain"
)

// EventKind classifies chain-of-custody events. The declared order doubles
// as the tie-break priority when two events share a timestamp: an event
// earlier in this list sorts first.
type EventKind string

const (
	KindNoticeCreated     EventKind = "notice_created"
	KindNoticeStamped     EventKind = "notice_stamped"
	KindStampDegraded     EventKind = "stamp_degraded"
	KindAnchorPending     EventKind = "anchor_pending"
	KindAnchorConfirmed   EventKind = "anchor_confirmed"
	KindDeliveryEmail     EventKind = "delivery_email"
	KindDeliverySMS       EventKind = "delivery_sms"
	KindDeliveryWhatsApp  EventKind = "delivery_whatsapp"
	KindDeliveryBounced   EventKind = "delivery_bounced"
	KindNoticeResent      EventKind = "notice_resent"
	KindLinkOpened        EventKind = "link_opened"
	KindIdentifierAttempt EventKind = "gate_identifier_attempt"
	KindIdentifierMatched EventKind = "gate_identifier_matched"
	KindGateLocked        EventKind = "gate_locked"
	KindGateReset         EventKind = "gate_reset"
	KindCodeRequested     EventKind = "gate_code_requested"
	KindCodeVerified      EventKind = "gate_code_verified"
	KindBiometricStarted  EventKind = "gate_biometric_started"
	KindBiometricApproved EventKind = "gate_biometric_approved"
	KindBiometricReview   EventKind = "gate_biometric_needs_review"
	KindBiometricRejected EventKind = "gate_biometric_rejected"
	KindBiometricSkipped  EventKind = "gate_biometric_skipped"
	KindGateGranted       EventKind = "gate_granted"
	KindTrackingSatisfied EventKind = "tracking_thresholds_met"
	KindChallengeFailed   EventKind = "challenge_failed"
	KindChallengeFrozen   EventKind = "challenge_frozen"
	KindReadConfirmed     EventKind = "read_confirmed"
	KindNoticeDisputed    EventKind = "notice_disputed"
	KindNoticeFirm        EventKind = "notice_firm"
	KindDescargoSpawned   EventKind = "descargo_spawned"
	KindDescargoExercised EventKind = "descargo_exercised"
	KindDescargoDeclined  EventKind = "descargo_declined"
	KindDescargoExpired   EventKind = "descargo_expired"
	KindWitnessInvited    EventKind = "witness_invited"
	KindWitnessValidated  EventKind = "witness_validated"
	KindWitnessSigned     EventKind = "witness_signed"
	KindWitnessDeclined   EventKind = "witness_declined"
	KindEvidenceIngested  EventKind = "evidence_ingested"
	KindConvenioVerified  EventKind = "convenio_verified"
	KindPhysicalFallback  EventKind = "physical_fallback_marked"
	KindExportGenerated   EventKind = "export_generated"
)

// kindPriority assigns a stable tie-break order for events sharing one
// timestamp in the exported timeline. Creation sorts before stamping, which
// sorts before delivery, and so on; unknown kinds sort last.
var kindPriority = map[EventKind]int{}

func init() {
	ordered := []EventKind{
		KindNoticeCreated, KindNoticeStamped, KindStampDegraded,
		KindAnchorPending, KindAnchorConfirmed,
		KindDeliveryEmail, KindDeliverySMS, KindDeliveryWhatsApp,
		KindDeliveryBounced, KindNoticeResent, KindLinkOpened,
		KindIdentifierAttempt, KindIdentifierMatched, KindGateLocked,
		KindGateReset, KindCodeRequested, KindCodeVerified,
		KindBiometricStarted, KindBiometricApproved, KindBiometricReview,
		KindBiometricRejected, KindBiometricSkipped, KindGateGranted,
		KindTrackingSatisfied, KindChallengeFailed, KindChallengeFrozen,
		KindReadConfirmed, KindNoticeDisputed, KindNoticeFirm,
		KindDescargoSpawned, KindDescargoExercised, KindDescargoDeclined,
		KindDescargoExpired, KindWitnessInvited, KindWitnessValidated,
		KindWitnessSigned, KindWitnessDeclined, KindEvidenceIngested,
		KindConvenioVerified, KindPhysicalFallback, KindExportGenerated,
	}
	for i, k := range ordered {
		kindPriority[k] = i
	}
}

// Priority returns the tie-break rank for this kind; unknown kinds rank
// after all known ones.
func (k EventKind) Priority() int {
	if p, ok := kindPriority[k]; ok {
		return p
	}
	return len(kindPriority)
}

// Event is one immutable chain-of-custody row. ContentHash is set when the
// underlying fact has a digest of its own (notice content, rebuttal text,
// witness signature); RowHash binds the row itself.
type Event struct {
	ID          string
	NoticeID    id.NoticeID
	Kind        EventKind
	Title       string
	OccurredAt  time.Time
	Actor       string
	IP          string
	UserAgent   string
	ContentHash string
	RowHash     string
	Detail      string
}

// ComputeRowHash derives the tamper-evidence digest for this row from its
// immutable fields. Stored at insert; recomputed during export validation.
func (e *Event) ComputeRowHash() string {
	payload := fmt.Sprintf("%s|%s|%s|%s|%s|%s",
		e.NoticeID.String(), e.Kind, e.OccurredAt.UTC().Format(time.RFC3339Nano),
		e.Actor, e.ContentHash, e.Detail)
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
