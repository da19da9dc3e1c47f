package witness

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
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

const declarationColumns = `
	id, notice_id, full_name, email, relationship, present_at_incident, state,
	access_token, token_expires_at, statement, signature_hash, signed_at,
	signed_ip, declined_at, created_at, invited_at, validated_at
`

func (s *PostgresStore) Create(ctx context.Context, declaration *Declaration) error {
	query := `
		INSERT INTO witness_declarations (` + declarationColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		declaration.ID.String(), declaration.NoticeID.String(), declaration.FullName,
		declaration.Email, declaration.Relationship, declaration.PresentAtIncident,
		string(declaration.State), declaration.AccessToken, declaration.TokenExpiresAt.UTC(),
		declaration.Statement, nullOnEmpty(declaration.SignatureHash), declaration.SignedAt,
		declaration.SignedIP, declaration.DeclinedAt, declaration.CreatedAt.UTC(),
		declaration.InvitedAt, declaration.ValidatedAt,
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create witness declaration: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetByToken(ctx context.Context, token string) (*Declaration, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+declarationColumns+` FROM witness_declarations WHERE access_token = $1`, token)
	return scanDeclaration(row.Scan)
}

func (s *PostgresStore) ListByNotice(ctx context.Context, noticeID domain.NoticeID) ([]*Declaration, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+declarationColumns+` FROM witness_declarations WHERE notice_id = $1 ORDER BY created_at ASC`,
		noticeID.String())
	if err != nil {
		return nil, fmt.Errorf("list witness declarations: %w", err)
	}
	defer rows.Close()

	var declarations []*Declaration
	for rows.Next() {
		declaration, err := scanDeclaration(rows.Scan)
		if err != nil {
			return nil, err
		}
		declarations = append(declarations, declaration)
	}
	return declarations, rows.Err()
}

func (s *PostgresStore) Update(ctx context.Context, declaration *Declaration, expected State) error {
	query := `
		UPDATE witness_declarations
		SET state = $2, statement = $3, signature_hash = $4, signed_at = $5,
		    signed_ip = $6, declined_at = $7, invited_at = $8, validated_at = $9
		WHERE access_token = $1 AND state = $10
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		declaration.AccessToken, string(declaration.State), declaration.Statement,
		nullOnEmpty(declaration.SignatureHash), declaration.SignedAt, declaration.SignedIP,
		declaration.DeclinedAt, declaration.InvitedAt, declaration.ValidatedAt,
		string(expected),
	)
	if err != nil {
		return fmt.Errorf("update witness declaration: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update witness declaration: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func scanDeclaration(scan func(dest ...any) error) (*Declaration, error) {
	var (
		d                Declaration
		rawID, rawNotice string
		state            string
		signatureHash    sql.NullString
	)
	err := scan(&rawID, &rawNotice, &d.FullName, &d.Email, &d.Relationship,
		&d.PresentAtIncident, &state, &d.AccessToken, &d.TokenExpiresAt,
		&d.Statement, &signatureHash, &d.SignedAt, &d.SignedIP, &d.DeclinedAt,
		&d.CreatedAt, &d.InvitedAt, &d.ValidatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan witness declaration: %w", err)
	}

	d.State = State(state)
	d.SignatureHash = signatureHash.String
	if d.ID, err = domain.ParseWitnessID(rawID); err != nil {
		return nil, fmt.Errorf("stored witness id corrupt: %w", err)
	}
	if d.NoticeID, err = domain.ParseNoticeID(rawNotice); err != nil {
		return nil, fmt.Errorf("stored notice id corrupt: %w", err)
	}
	return &d, nil
}

func nullOnEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
