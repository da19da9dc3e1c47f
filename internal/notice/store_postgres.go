package notice

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"custodia/internal/integrity"
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

const noticeColumns = `
	id, employer_id, employee_id, category, severity, facts,
	incident_at, incident_place, suspension_days, suspension_from, suspension_to,
	content_hash, stamp, generated_at, created_ip, state, due_date,
	delivered_email_at, delivered_sms_at, delivered_whatsapp_at, delivery_bounced,
	identity_validated_at, validated_identifier, link_opened_at,
	read_confirmed_at, read_ip, read_user_agent,
	challenge_attempts, challenge_frozen,
	disputed_at, firm_at, physical_fallback_at, physical_fallback_note, created_at
`

func (s *PostgresStore) Create(ctx context.Context, notice *Notice) error {
	stamp, err := marshalStamp(notice.Stamp)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO notices (` + noticeColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17,
		        $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33, $34)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		notice.ID.String(), notice.EmployerID.String(), notice.EmployeeID.String(),
		string(notice.Category), notice.Severity, notice.Facts,
		notice.IncidentAt.UTC(), notice.IncidentPlace, notice.SuspensionDays,
		notice.SuspensionFrom, notice.SuspensionTo,
		notice.ContentHash, stamp, notice.GeneratedAt.UTC(), notice.CreationIP,
		string(notice.State), notice.DueDate,
		notice.DeliveredEmailAt, notice.DeliveredSMSAt, notice.DeliveredWhatsAppAt, notice.DeliveryBounced,
		notice.IdentityValidatedAt, notice.ValidatedIdentifier, notice.LinkOpenedAt,
		notice.ReadConfirmedAt, notice.ReadIP, notice.ReadUserAgent,
		notice.ChallengeAttempts, notice.ChallengeFrozen,
		notice.DisputedAt, notice.FirmAt, notice.PhysicalFallbackAt, notice.PhysicalFallbackNote,
		notice.CreatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create notice: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, noticeID domain.NoticeID) (*Notice, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		`SELECT `+noticeColumns+` FROM notices WHERE id = $1`, noticeID.String())
	return scanNotice(row.Scan)
}

func (s *PostgresStore) Update(ctx context.Context, notice *Notice, expected State, expectedAttempts int) error {
	stamp, err := marshalStamp(notice.Stamp)
	if err != nil {
		return err
	}

	query := `
		UPDATE notices
		SET state = $2, due_date = $3, stamp = $4,
		    delivered_email_at = $5, delivered_sms_at = $6, delivered_whatsapp_at = $7,
		    delivery_bounced = $8, identity_validated_at = $9, validated_identifier = $10,
		    link_opened_at = $11, read_confirmed_at = $12, read_ip = $13, read_user_agent = $14,
		    challenge_attempts = $15, challenge_frozen = $16,
		    disputed_at = $17, firm_at = $18, physical_fallback_at = $19, physical_fallback_note = $20
		WHERE id = $1 AND state = $21 AND challenge_attempts = $22
	`
	res, err := s.execer(ctx).ExecContext(ctx, query,
		notice.ID.String(), string(notice.State), notice.DueDate, stamp,
		notice.DeliveredEmailAt, notice.DeliveredSMSAt, notice.DeliveredWhatsAppAt,
		notice.DeliveryBounced, notice.IdentityValidatedAt, notice.ValidatedIdentifier,
		notice.LinkOpenedAt, notice.ReadConfirmedAt, notice.ReadIP, notice.ReadUserAgent,
		notice.ChallengeAttempts, notice.ChallengeFrozen,
		notice.DisputedAt, notice.FirmAt, notice.PhysicalFallbackAt, notice.PhysicalFallbackNote,
		string(expected), expectedAttempts,
	)
	if err != nil {
		return fmt.Errorf("update notice: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update notice: %w", err)
	}
	if affected == 0 {
		return sentinel.ErrConflict
	}
	return nil
}

func (s *PostgresStore) ListByEmployer(ctx context.Context, employerID domain.EmployerID) ([]*Notice, error) {
	rows, err := s.execer(ctx).QueryContext(ctx,
		`SELECT `+noticeColumns+` FROM notices WHERE employer_id = $1 ORDER BY created_at ASC`,
		employerID.String())
	if err != nil {
		return nil, fmt.Errorf("list notices: %w", err)
	}
	defer rows.Close()

	var notices []*Notice
	for rows.Next() {
		notice, err := scanNotice(rows.Scan)
		if err != nil {
			return nil, err
		}
		notices = append(notices, notice)
	}
	return notices, rows.Err()
}

func scanNotice(scan func(dest ...any) error) (*Notice, error) {
	var (
		n                               Notice
		rawID, rawEmployer, rawEmployee string
		category, state                 string
		stamp                           []byte
	)
	err := scan(&rawID, &rawEmployer, &rawEmployee, &category, &n.Severity, &n.Facts,
		&n.IncidentAt, &n.IncidentPlace, &n.SuspensionDays, &n.SuspensionFrom, &n.SuspensionTo,
		&n.ContentHash, &stamp, &n.GeneratedAt, &n.CreationIP, &state, &n.DueDate,
		&n.DeliveredEmailAt, &n.DeliveredSMSAt, &n.DeliveredWhatsAppAt, &n.DeliveryBounced,
		&n.IdentityValidatedAt, &n.ValidatedIdentifier, &n.LinkOpenedAt,
		&n.ReadConfirmedAt, &n.ReadIP, &n.ReadUserAgent,
		&n.ChallengeAttempts, &n.ChallengeFrozen,
		&n.DisputedAt, &n.FirmAt, &n.PhysicalFallbackAt, &n.PhysicalFallbackNote, &n.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, sentinel.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("scan notice: %w", err)
	}

	n.Category = Category(category)
	n.State = State(state)
	if len(stamp) > 0 {
		n.Stamp = &integrity.Stamp{}
		if err := json.Unmarshal(stamp, n.Stamp); err != nil {
			return nil, fmt.Errorf("stored stamp corrupt: %w", err)
		}
	}
	if n.ID, err = domain.ParseNoticeID(rawID); err != nil {
		return nil, fmt.Errorf("stored notice id corrupt: %w", err)
	}
	if n.EmployerID, err = domain.ParseEmployerID(rawEmployer); err != nil {
		return nil, fmt.Errorf("stored employer id corrupt: %w", err)
	}
	if n.EmployeeID, err = domain.ParseEmployeeID(rawEmployee); err != nil {
		return nil, fmt.Errorf("stored employee id corrupt: %w", err)
	}
	return &n, nil
}

func marshalStamp(stamp *integrity.Stamp) ([]byte, error) {
	if stamp == nil {
		return nil, nil
	}
	data, err := json.Marshal(stamp)
	if err != nil {
		return nil, fmt.Errorf("marshal stamp: %w", err)
	}
	return data, nil
}
