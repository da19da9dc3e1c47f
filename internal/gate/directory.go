package gate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"

	"github.com/lib/pq"

	"custodia/pkg/domain"
	"custodia/pkg/platform/privacy"
	"custodia/pkg/platform/sentinel"
)

// InMemoryDirectory is a seedable employee read-model for tests and local
// development.
type InMemoryDirectory struct {
	mu        sync.RWMutex
	employees map[domain.EmployeeID]*EmployeeRecord
}

func NewInMemoryDirectory() *InMemoryDirectory {
	return &InMemoryDirectory{employees: make(map[domain.EmployeeID]*EmployeeRecord)}
}

// Register stores an employee, hashing the given plaintext identifiers the
// same way SubmitIdentifier will.
func (d *InMemoryDirectory) Register(record EmployeeRecord, identifiers ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, identifier := range identifiers {
		record.IdentifierHashes = append(record.IdentifierHashes,
			privacy.HashIdentifier(NormalizeIdentifier(identifier)))
	}
	cp := record
	d.employees[record.ID] = &cp
}

func (d *InMemoryDirectory) Employee(_ context.Context, employeeID domain.EmployeeID) (*EmployeeRecord, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	record, ok := d.employees[employeeID]
	if !ok {
		return nil, sentinel.ErrNotFound
	}
	cp := *record
	cp.IdentifierHashes = append([]string(nil), record.IdentifierHashes...)
	return &cp, nil
}

// PostgresDirectory reads the employees table. The table is a synced
// read-model; the HR system owns the writes.
type PostgresDirectory struct {
	db *sql.DB
}

func NewPostgresDirectory(db *sql.DB) *PostgresDirectory {
	return &PostgresDirectory{db: db}
}

func (d *PostgresDirectory) Employee(ctx context.Context, employeeID domain.EmployeeID) (*EmployeeRecord, error) {
	query := `
		SELECT id, full_name, email, phone, identifier_hashes, biometric_consent, biometric_ref
		FROM employees
		WHERE id = $1
	`
	var (
		record EmployeeRecord
		rawID  string
	)
	err := d.db.QueryRowContext(ctx, query, employeeID.String()).Scan(
		&rawID, &record.FullName, &record.Email, &record.Phone,
		pq.Array(&record.IdentifierHashes), &record.BiometricConsent, &record.BiometricRef)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load employee: %w", err)
	}

	if record.ID, err = domain.ParseEmployeeID(rawID); err != nil {
		return nil, fmt.Errorf("stored employee id corrupt: %w", err)
	}
	return &record, nil
}
