package gate

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

type PostgresSessionStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresSessionStore {
	return &PostgresSessionStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresSessionStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresSessionStore) Create(ctx context.Context, session *Session) error {
	query := `
		INSERT INTO gate_sessions
			(token, notice_id, employee_id, state, identifier_attempts,
			 biometric_required, biometric_mandatory, biometric_outcome, biometric_score,
			 matched_identifier, created_at, expires_at, id_matched_at, granted_at, locked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		session.Token, session.NoticeID.String(), session.EmployeeID.String(),
		string(session.State), session.IdentifierAttempts,
		session.BiometricRequired, session.BiometricMandatory,
		string(session.BiometricOutcome), session.BiometricScore,
		session.MatchedIdentifier, session.CreatedAt.UTC(), session.ExpiresAt.UTC(),
		session.IDMatchedAt, session.GrantedAt, session.LockedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create gate session: %w", err)
	}
	return nil
}

const sessionColumns = `
	token, notice_id, employee_id, state, identifier_attempts,
	biometric_required, biometric_mandatory, biometric_outcome, biometric_score,
	matched_identifier, created_at, expires_at, id_matched_at, granted_at, locked_at
`

func (s *PostgresSessionStore) GetByToken(ctx context.Context, token string) (*Session, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM gate_sessions WHERE token = $1`, token)
	return scanSession(row)
}

func (s *PostgresSessionStore) GetByNotice(ctx context.Context, noticeID domain.NoticeID) (*Session, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM gate_sessions WHERE notice_id = $1`, noticeID.String())
	return scanSession(row)
}

// Update writes the session conditionally on the persisted state and attempt
// counter still being what the caller read. Zero rows affected means a
// concurrent transition or a concurrent counted attempt won.
func (s *PostgresSessionStore) Update(ctx context.Context, session *Session, expected State, expectedAttempts int) error {
	query := `
		UPDATE gate_sessions
		SET state = $2, identifier_attempts = $3, biometric_outcome = $4,
		    biometric_score = $5, matched_identifier = $6,
		    id_matched_at = $7, granted_at = $8, locked_at = $9
		WHERE token = $1 AND state = $10 AND identifier_attempts = $11
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		session.Token, string(session.State), session.IdentifierAttempts,
		string(session.BiometricOutcome), session.BiometricScore, session.MatchedIdentifier,
		session.IDMatchedAt, session.GrantedAt, session.LockedAt,
		string(expected), expectedAttempts,
	)
	if err != nil {
		return fmt.Errorf("update gate session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update gate session: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func scanSession(row *sql.Row) (*Session, error) {
	var (
		sess                    Session
		rawNotice, rawEmployee  string
		state, biometricOutcome string
	)
	err := row.Scan(&sess.Token, &rawNotice, &rawEmployee, &state, &sess.IdentifierAttempts,
		&sess.BiometricRequired, &sess.BiometricMandatory, &biometricOutcome, &sess.BiometricScore,
		&sess.MatchedIdentifier, &sess.CreatedAt, &sess.ExpiresAt,
		&sess.IDMatchedAt, &sess.GrantedAt, &sess.LockedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan gate session: %w", err)
	}

	sess.State = State(state)
	sess.BiometricOutcome = BiometricOutcome(biometricOutcome)
	if sess.NoticeID, err = domain.ParseNoticeID(rawNotice); err != nil {
		return nil, fmt.Errorf("stored notice id corrupt: %w", err)
	}
	if sess.EmployeeID, err = domain.ParseEmployeeID(rawEmployee); err != nil {
		return nil, fmt.Errorf("stored employee id corrupt: %w", err)
	}
	return &sess, nil
}
