// Package domain holds identifier value types shared across services.
//
// IDs wrap uuid.UUID so a NoticeID can never be passed where an EmployeeID is
// expected. Construct from external input via the Parse* helpers, which
// enforce the invariant that IDs are valid, non-nil UUIDs.
package domain

import (
	"github.com/google/uuid"

	dErrors "custodia/pkg/domain-errors"
)

type (
	// NoticeID identifies a disciplinary notice.
	NoticeID uuid.UUID
	// EmployeeID identifies the notified employee.
	EmployeeID uuid.UUID
	// EmployerID identifies the issuing employer.
	EmployerID uuid.UUID
	// WitnessID identifies a witness declaration.
	WitnessID uuid.UUID
	// EvidenceID identifies an uploaded evidence item.
	EvidenceID uuid.UUID
	// DescargoID identifies a rebuttal record.
	DescargoID uuid.UUID
	// AgreementID identifies an electronic domicile agreement.
	AgreementID uuid.UUID
)

func parse(s, kind string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id cannot be empty", kind)
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "invalid %s id", kind)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.Newf(dErrors.CodeInvalidInput, "%s id cannot be nil", kind)
	}
	return u, nil
}

// NewNoticeID generates a fresh notice identifier.
func NewNoticeID() NoticeID { return NoticeID(uuid.New()) }

// ParseNoticeID validates and converts an external string into a NoticeID.
func ParseNoticeID(s string) (NoticeID, error) {
	u, err := parse(s, "notice")
	return NoticeID(u), err
}

func (id NoticeID) String() string { return uuid.UUID(id).String() }
func (id NoticeID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewEmployeeID generates a fresh employee identifier.
func NewEmployeeID() EmployeeID { return EmployeeID(uuid.New()) }

// ParseEmployeeID validates and converts an external string into an EmployeeID.
func ParseEmployeeID(s string) (EmployeeID, error) {
	u, err := parse(s, "employee")
	return EmployeeID(u), err
}

func (id EmployeeID) String() string { return uuid.UUID(id).String() }
func (id EmployeeID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewEmployerID generates a fresh employer identifier.
func NewEmployerID() EmployerID { return EmployerID(uuid.New()) }

// ParseEmployerID validates and converts an external string into an EmployerID.
func ParseEmployerID(s string) (EmployerID, error) {
	u, err := parse(s, "employer")
	return EmployerID(u), err
}

func (id EmployerID) String() string { return uuid.UUID(id).String() }
func (id EmployerID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewWitnessID generates a fresh witness identifier.
func NewWitnessID() WitnessID { return WitnessID(uuid.New()) }

// ParseWitnessID validates and converts an external string into a WitnessID.
func ParseWitnessID(s string) (WitnessID, error) {
	u, err := parse(s, "witness")
	return WitnessID(u), err
}

func (id WitnessID) String() string { return uuid.UUID(id).String() }
func (id WitnessID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewEvidenceID generates a fresh evidence identifier.
func NewEvidenceID() EvidenceID { return EvidenceID(uuid.New()) }

// ParseEvidenceID validates and converts an external string into an EvidenceID.
func ParseEvidenceID(s string) (EvidenceID, error) {
	u, err := parse(s, "evidence")
	return EvidenceID(u), err
}

func (id EvidenceID) String() string { return uuid.UUID(id).String() }
func (id EvidenceID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewDescargoID generates a fresh descargo identifier.
func NewDescargoID() DescargoID { return DescargoID(uuid.New()) }

// ParseDescargoID validates and converts an external string into a DescargoID.
func ParseDescargoID(s string) (DescargoID, error) {
	u, err := parse(s, "descargo")
	return DescargoID(u), err
}

func (id DescargoID) String() string { return uuid.UUID(id).String() }
func (id DescargoID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }

// NewAgreementID generates a fresh agreement identifier.
func NewAgreementID() AgreementID { return AgreementID(uuid.New()) }

// ParseAgreementID validates and converts an external string into an AgreementID.
func ParseAgreementID(s string) (AgreementID, error) {
	u, err := parse(s, "agreement")
	return AgreementID(u), err
}

func (id AgreementID) String() string { return uuid.UUID(id).String() }
func (id AgreementID) IsNil() bool    { return uuid.UUID(id) == uuid.Nil }
