package descargo

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

const descargoColumns = `
	id, notice_id, employee_id, state, spawned_at, window_ends_at,
	statement, statement_hash, sworn_at, exercised_at, exercised_ip, exercised_user_agent,
	declined_at, expired_at,
	admission_flag, contradiction_flag, annotation_notes, annotated_at, annotated_by
`

func (s *PostgresStore) Create(ctx context.Context, d *Descargo) error {
	query := `
		INSERT INTO descargos (` + descargoColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		d.ID.String(), d.NoticeID.String(), d.EmployeeID.String(), string(d.State),
		d.SpawnedAt.UTC(), d.WindowEndsAt.UTC(),
		d.Statement, d.StatementHash, d.SwornAt, d.ExercisedAt, d.ExercisedIP, d.ExercisedUA,
		d.DeclinedAt, d.ExpiredAt,
		d.AdmissionFlag, d.ContradictionFlag, d.AnnotationNotes, d.AnnotatedAt, d.AnnotatedBy,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create descargo: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByNotice(ctx context.Context, noticeID domain.NoticeID) (*Descargo, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+descargoColumns+` FROM descargos WHERE notice_id = $1`, noticeID.String())

	var (
		d                             Descargo
		rawID, rawNotice, rawEmployee string
		state                         string
	)
	err := row.Scan(&rawID, &rawNotice, &rawEmployee, &state, &d.SpawnedAt, &d.WindowEndsAt,
		&d.Statement, &d.StatementHash, &d.SwornAt, &d.ExercisedAt, &d.ExercisedIP, &d.ExercisedUA,
		&d.DeclinedAt, &d.ExpiredAt,
		&d.AdmissionFlag, &d.ContradictionFlag, &d.AnnotationNotes, &d.AnnotatedAt, &d.AnnotatedBy)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan descargo: %w", err)
	}

	d.State = State(state)
	if d.ID, err = domain.ParseDescargoID(rawID); err != nil {
		return nil, fmt.Errorf("stored descargo id corrupt: %w", err)
	}
	if d.NoticeID, err = domain.ParseNoticeID(rawNotice); err != nil {
		return nil, fmt.Errorf("stored notice id corrupt: %w", err)
	}
	if d.EmployeeID, err = domain.ParseEmployeeID(rawEmployee); err != nil {
		return nil, fmt.Errorf("stored employee id corrupt: %w", err)
	}
	return &d, nil
}

func (s *PostgresStore) Update(ctx context.Context, d *Descargo, expected State) error {
	query := `
		UPDATE descargos
		SET state = $2, statement = $3, statement_hash = $4, sworn_at = $5,
		    exercised_at = $6, exercised_ip = $7, exercised_user_agent = $8,
		    declined_at = $9, expired_at = $10,
		    admission_flag = $11, contradiction_flag = $12, annotation_notes = $13,
		    annotated_at = $14, annotated_by = $15
		WHERE notice_id = $1 AND state = $16
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		d.NoticeID.String(), string(d.State), d.Statement, d.StatementHash, d.SwornAt,
		d.ExercisedAt, d.ExercisedIP, d.ExercisedUA,
		d.DeclinedAt, d.ExpiredAt,
		d.AdmissionFlag, d.ContradictionFlag, d.AnnotationNotes,
		d.AnnotatedAt, d.AnnotatedBy,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("update descargo: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update descargo: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}
