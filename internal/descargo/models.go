// Package descargo implements the employee's statutory right of reply. A
// descargo window opens automatically the moment a notice is confirmed read
// and stays open for a fixed number of days; inside it the employee may file
// a sworn rebuttal or explicitly waive the right. The rebuttal text is
// write-once and hash-sealed; the employer's later annotations are the only
// mutable part of the record.
package descargo

import (
	"time"

	"custodia/pkg/domain"
)

// State is the lifecycle of one reply window.
type State string

const (
	StatePending   State = "pending"
	StateExercised State = "exercised"
	StateDeclined  State = "declined"
	StateExpired   State = "expired"
)

// Terminal reports whether no further employee action is possible.
func (s State) Terminal() bool { return s != StatePending }

// Descargo is one employee reply window and, once exercised, the rebuttal
// itself.
type Descargo struct {
	ID         domain.DescargoID
	NoticeID   domain.NoticeID
	EmployeeID domain.EmployeeID
	State      State

	SpawnedAt    time.Time
	WindowEndsAt time.Time

	Statement         string
	StatementHash     string
	SwornAt           *time.Time
	ExercisedAt       *time.Time
	ExercisedIP       string
	ExercisedUA       string
	DeclinedAt        *time.Time
	ExpiredAt         *time.Time
	AdmissionFlag     bool
	ContradictionFlag bool
	AnnotationNotes   string
	AnnotatedAt       *time.Time
	AnnotatedBy       string
}

func (d *Descargo) windowClosed(now time.Time) bool {
	return now.After(d.WindowEndsAt)
}
