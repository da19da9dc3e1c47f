package evidence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"custodia/internal/audit"
	"custodia/internal/blob"
	"custodia/internal/integrity"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/sentinel"
	"custodia/pkg/requestcontext"
)

type Service struct {
	store  Store
	blobs  blob.Store
	audit  *audit.Publisher
	logger *slog.Logger
}

type ServiceOption func(*Service)

func WithLogger(logger *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = logger }
}

func NewService(store Store, blobs blob.Store, auditor *audit.Publisher, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		blobs:  blobs,
		audit:  auditor,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type IngestInput struct {
	NoticeID     domain.NoticeID
	Kind         Kind
	Filename     string
	Data         []byte
	DeclaredHash string
	ContentType  string
	Principal    bool
	Metadata     Metadata
}

// Ingest verifies the uploader's declared hash against the received bytes,
// stores the artifact, and records the item. A hash mismatch means the bytes
// were corrupted or tampered in transit and is always fatal.
func (s *Service) Ingest(ctx context.Context, in IngestInput) (*Item, error) {
	if len(in.Data) == 0 {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "evidence content is empty")
	}
	if _, ok := ParseKind(string(in.Kind)); !ok {
		return nil, dErrors.Newf(dErrors.CodeInvalidInput, "unknown evidence kind %q", in.Kind)
	}

	computed := integrity.HashBytes(in.Data)
	declared := strings.ToLower(strings.TrimSpace(in.DeclaredHash))
	if computed != declared {
		return nil, dErrors.New(dErrors.CodeIntegrityMismatch,
			"received content does not match the declared hash")
	}

	item := &Item{
		ID:          domain.NewEvidenceID(),
		NoticeID:    in.NoticeID,
		Kind:        in.Kind,
		Filename:    in.Filename,
		ByteSize:    int64(len(in.Data)),
		ContentHash: computed,
		Metadata:    in.Metadata,
		Principal:   in.Principal,
		CreatedAt:   requestcontext.Now(ctx),
	}
	item.BlobKey = fmt.Sprintf("evidence/%s/%s/%s", in.NoticeID, item.ID, in.Filename)

	if err := s.blobs.Put(ctx, item.BlobKey, blob.Object{Data: in.Data, ContentType: in.ContentType}); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "store evidence artifact")
	}

	if err := s.store.Create(ctx, item); err != nil {
		if errors.Is(err, sentinel.ErrConflict) {
			return nil, dErrors.New(dErrors.CodeConflict, "notice already has a principal evidence item")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "record evidence item")
	}

	if err := s.audit.Emit(ctx, &audit.Event{
		NoticeID:    in.NoticeID,
		Kind:        audit.KindEvidenceIngested,
		Title:       fmt.Sprintf("Evidence ingested: %s", in.Filename),
		ContentHash: computed,
		Detail:      fmt.Sprintf("kind=%s bytes=%d principal=%t", in.Kind, item.ByteSize, in.Principal),
	}); err != nil {
		return nil, err
	}
	return item, nil
}

// ListByNotice returns every evidence item for a notice, oldest first.
func (s *Service) ListByNotice(ctx context.Context, noticeID domain.NoticeID) ([]*Item, error) {
	items, err := s.store.ListByNotice(ctx, noticeID)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "list evidence items")
	}
	return items, nil
}

// Fetch retrieves the stored artifact and re-verifies it against the hash
// recorded at ingestion.
func (s *Service) Fetch(ctx context.Context, item *Item) (*blob.Object, error) {
	obj, err := s.blobs.Get(ctx, item.BlobKey)
	if errors.Is(err, sentinel.ErrNotFound) {
		return nil, dErrors.New(dErrors.CodeNotFound, "evidence artifact missing from storage")
	}
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "fetch evidence artifact")
	}

	if integrity.HashBytes(obj.Data) != item.ContentHash {
		return nil, dErrors.New(dErrors.CodeIntegrityMismatch,
			"stored evidence no longer matches its recorded hash")
	}
	return obj, nil
}
