package evidence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"custodia/pkg/domain"
	"custodia/pkg/platform/sentinel"
	txcontext "custodia/pkg/platform/tx"
)

// PostgresStore persists evidence items. The at-most-one-principal rule is
// enforced by a partial unique index on (notice_id) WHERE principal.
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

func (s *PostgresStore) Create(ctx context.Context, item *Item) error {
	metadata, err := json.Marshal(item.Metadata)
	if err != nil {
		return fmt.Errorf("marshal evidence metadata: %w", err)
	}

	query := `
		INSERT INTO evidence_items
			(id, notice_id, kind, filename, byte_size, content_hash, metadata, principal, blob_key, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		item.ID.String(), item.NoticeID.String(), string(item.Kind), item.Filename,
		item.ByteSize, item.ContentHash, metadata, item.Principal, item.BlobKey,
		item.CreatedAt.UTC(),
	)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code.Name() == "unique_violation" {
			return sentinel.ErrConflict
		}
		return fmt.Errorf("create evidence item: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListByNotice(ctx context.Context, noticeID domain.NoticeID) ([]*Item, error) {
	query := `
		SELECT id, notice_id, kind, filename, byte_size, content_hash, metadata, principal, blob_key, created_at
		FROM evidence_items
		WHERE notice_id = $1
		ORDER BY created_at ASC
	`
	rows, err := s.execer(ctx).QueryContext(ctx, query, noticeID.String())
	if err != nil {
		return nil, fmt.Errorf("list evidence items: %w", err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		var (
			item             Item
			rawID, rawNotice string
			kind             string
			metadata         []byte
		)
		if err := rows.Scan(&rawID, &rawNotice, &kind, &item.Filename, &item.ByteSize,
			&item.ContentHash, &metadata, &item.Principal, &item.BlobKey, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan evidence item: %w", err)
		}

		item.Kind = Kind(kind)
		if err := json.Unmarshal(metadata, &item.Metadata); err != nil {
			return nil, fmt.Errorf("stored evidence metadata corrupt: %w", err)
		}
		if item.ID, err = domain.ParseEvidenceID(rawID); err != nil {
			return nil, fmt.Errorf("stored evidence id corrupt: %w", err)
		}
		if item.NoticeID, err = domain.ParseNoticeID(rawNotice); err != nil {
			return nil, fmt.Errorf("stored notice id corrupt: %w", err)
		}
		items = append(items, &item)
	}
	return items, rows.Err()
}
