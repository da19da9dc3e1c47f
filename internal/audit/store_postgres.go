package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	id "custodia/pkg/domain"
	txcontext "custodia/pkg/platform/tx"
)

// PostgresStore persists chain-of-custody rows in the audit_events table.
// The table has no UPDATE or DELETE grants in production; this store only
// ever inserts and selects.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *PostgresStore) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

func (s *PostgresStore) Append(ctx context.Context, event *Event) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.RowHash == "" {
		event.RowHash = event.ComputeRowHash()
	}

	query := `
		INSERT INTO audit_events
			(id, notice_id, kind, title, occurred_at, actor, ip, user_agent, content_hash, row_hash, detail)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := s.execer(ctx).ExecContext(ctx, query,
		event.ID, event.NoticeID.String(), string(event.Kind), event.Title,
		event.OccurredAt.UTC(), event.Actor, event.IP, event.UserAgent,
		nullable(event.ContentHash), event.RowHash, event.Detail,
	)
	if err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByNotice(ctx context.Context, noticeID id.NoticeID) ([]*Event, error) {
	query := `
		SELECT id, notice_id, kind, title, occurred_at, actor, ip, user_agent,
		       COALESCE(content_hash, ''), row_hash, detail
		FROM audit_events
		WHERE notice_id = $1
		ORDER BY occurred_at ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, noticeID.String())
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []*Event
	for rows.Next() {
		var e Event
		var rawNoticeID string
		if err := rows.Scan(&e.ID, &rawNoticeID, &e.Kind, &e.Title, &e.OccurredAt,
			&e.Actor, &e.IP, &e.UserAgent, &e.ContentHash, &e.RowHash, &e.Detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		nid, err := id.ParseNoticeID(rawNoticeID)
		if err != nil {
			return nil, fmt.Errorf("stored notice id corrupt: %w", err)
		}
		e.NoticeID = nid
		events = append(events, &e)
	}
	return events, rows.Err()
}

// FindByDigest answers public verification lookups against the audit rows.
func (s *PostgresStore) FindByDigest(ctx context.Context, digest string) ([]DigestMatch, error) {
	query := `
		SELECT kind, notice_id, occurred_at
		FROM audit_events
		WHERE content_hash = $1
		ORDER BY occurred_at ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, digest)
	if err != nil {
		return nil, fmt.Errorf("find by digest: %w", err)
	}
	defer rows.Close()

	var matches []DigestMatch
	for rows.Next() {
		var m DigestMatch
		var occurredAt time.Time
		if err := rows.Scan(&m.Kind, &m.ID, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan digest match: %w", err)
		}
		m.CreatedAt = occurredAt.UTC().Format(time.RFC3339)
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
