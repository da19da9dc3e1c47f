package convenio

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Create(ctx context.Context, agreement *Agreement) error {
	query := `
		INSERT INTO domicile_agreements
			(id, employer_id, employee_id, state, email, phone, created_at, signed_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		agreement.ID.String(), agreement.EmployerID.String(), agreement.EmployeeID.String(),
		string(agreement.State), agreement.Email, agreement.Phone,
		agreement.CreatedAt.UTC(), agreement.SignedAt, agreement.ExpiresAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create domicile agreement: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByEmployee(ctx context.Context, employeeID domain.EmployeeID) (*Agreement, error) {
	query := `
		SELECT id, employer_id, employee_id, state, email, phone, created_at, signed_at, expires_at
		FROM domicile_agreements
		WHERE employee_id = $1
	`
	row := s.execer(ctx).QueryRowContext(ctx, query, employeeID.String())

	var (
		a                               Agreement
		rawID, rawEmployer, rawEmployee string
	)
	err := row.Scan(&rawID, &rawEmployer, &rawEmployee, &a.State, &a.Email, &a.Phone,
		&a.CreatedAt, &a.SignedAt, &a.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get domicile agreement: %w", err)
	}

	if a.ID, err = domain.ParseAgreementID(rawID); err != nil {
		return nil, fmt.Errorf("stored agreement id corrupt: %w", err)
	}
	if a.EmployerID, err = domain.ParseEmployerID(rawEmployer); err != nil {
		return nil, fmt.Errorf("stored employer id corrupt: %w", err)
	}
	if a.EmployeeID, err = domain.ParseEmployeeID(rawEmployee); err != nil {
		return nil, fmt.Errorf("stored employee id corrupt: %w", err)
	}
	return &a, nil
}

func (s *PostgresStore) Update(ctx context.Context, agreement *Agreement) error {
	query := `
		UPDATE domicile_agreements
		SET state = $2, email = $3, phone = $4, signed_at = $5, expires_at = $6
		WHERE id = $1
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		agreement.ID.String(), string(agreement.State), agreement.Email, agreement.Phone,
		agreement.SignedAt, agreement.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("update domicile agreement: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update domicile agreement: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrNotFound
	}
	return nil
}
