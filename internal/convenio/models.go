// Package convenio manages the electronic domicile agreement: the signed
// consent that makes an employee's digital contact points a legally valid
// notification address. Digital delivery of a notice is only lawful while
// the employee's agreement is signed.
package convenio

import (
	"time"

	"custodia/pkg/domain"
)

type State string

const (
	StatePending       State = "pending"
	StateSignedDigital State = "signed_digital"
	StateSignedPaper   State = "signed_paper"
	StateExpired       State = "expired"
)

// Agreement is the per-employee electronic domicile record. Email and phone
// are the contact points the employee declared as their legal address.
type Agreement struct {
	ID         domain.AgreementID
	EmployerID domain.EmployerID
	EmployeeID domain.EmployeeID
	State      State
	Email      string
	Phone      string
	CreatedAt  time.Time
	SignedAt   *time.Time
	ExpiresAt  *time.Time
}

// Signed reports whether the agreement authorizes digital delivery.
func (a *Agreement) Signed() bool {
	return a.State == StateSignedDigital || a.State == StateSignedPaper
}
