package evidence

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"

	"custodia/internal/audit"
	"custodia/internal/blob"
	"custodia/internal/integrity"
	"custodia/pkg/domain"
	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/requestcontext"
)

type ServiceSuite struct {
	suite.Suite
	ctx      context.Context
	blobs    *blob.InMemoryStore
	auditLog *audit.InMemoryStore
	svc      *Service
	notice   domain.NoticeID
}

func TestServiceSuite(t *testing.T) {
	suite.Run(t, new(ServiceSuite))
}

func (s *ServiceSuite) SetupTest() {
	s.ctx = requestcontext.WithTime(context.Background(),
		time.Date(2026, 3, 11, 16, 0, 0, 0, time.UTC))
	s.blobs = blob.NewInMemoryStore()
	s.auditLog = audit.NewInMemoryStore()
	s.svc = NewService(NewInMemoryStore(), s.blobs, audit.NewPublisher(s.auditLog))
	s.notice = domain.NewNoticeID()
}

func (s *ServiceSuite) ingest(filename string, data []byte, principal bool) *Item {
	item, err := s.svc.Ingest(s.ctx, IngestInput{
		NoticeID:     s.notice,
		Kind:         KindPhoto,
		Filename:     filename,
		Data:         data,
		DeclaredHash: integrity.HashBytes(data),
		ContentType:  "image/jpeg",
		Principal:    principal,
	})
	s.Require().NoError(err)
	return item
}

func (s *ServiceSuite) TestIngest() {
	data := []byte("jpeg bytes")

	s.Run("matching hash stores artifact and audit row", func() {
		item := s.ingest("almacen.jpg", data, false)
		s.Equal(integrity.HashBytes(data), item.ContentHash)
		s.Equal(int64(len(data)), item.ByteSize)

		obj, err := s.blobs.Get(s.ctx, item.BlobKey)
		s.Require().NoError(err)
		s.Equal(data, obj.Data)

		events, err := s.auditLog.ListByNotice(s.ctx, s.notice)
		s.Require().NoError(err)
		s.Require().Len(events, 1)
		s.Equal(audit.KindEvidenceIngested, events[0].Kind)
		s.Equal(item.ContentHash, events[0].ContentHash)
	})

	s.Run("declared hash mismatch is fatal", func() {
		_, err := s.svc.Ingest(s.ctx, IngestInput{
			NoticeID:     s.notice,
			Kind:         KindPhoto,
			Filename:     "tampered.jpg",
			Data:         []byte("actual bytes"),
			DeclaredHash: integrity.HashBytes([]byte("claimed bytes")),
		})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeIntegrityMismatch))
	})

	s.Run("hash comparison tolerates case", func() {
		payload := []byte("upper case digest")
		_, err := s.svc.Ingest(s.ctx, IngestInput{
			NoticeID:     s.notice,
			Kind:         KindDocument,
			Filename:     "acta.pdf",
			Data:         payload,
			DeclaredHash: "  " + integrity.HashBytes(payload) + " ",
		})
		s.Require().NoError(err)
	})

	s.Run("empty content is rejected", func() {
		_, err := s.svc.Ingest(s.ctx, IngestInput{NoticeID: s.notice, Kind: KindPhoto})
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ServiceSuite) TestPrincipalUniqueness() {
	s.ingest("principal.jpg", []byte("first"), true)

	_, err := s.svc.Ingest(s.ctx, IngestInput{
		NoticeID:     s.notice,
		Kind:         KindPhoto,
		Filename:     "second.jpg",
		Data:         []byte("second"),
		DeclaredHash: integrity.HashBytes([]byte("second")),
		Principal:    true,
	})
	s.Require().Error(err)
	s.True(dErrors.HasCode(err, dErrors.CodeConflict))

	s.ingest("third.jpg", []byte("third"), false)
	items, err := s.svc.ListByNotice(s.ctx, s.notice)
	s.Require().NoError(err)
	s.Len(items, 2)
}

func (s *ServiceSuite) TestFetch() {
	data := []byte("video bytes")
	item := s.ingest("camara.mp4", data, false)

	s.Run("intact artifact round-trips", func() {
		obj, err := s.svc.Fetch(s.ctx, item)
		s.Require().NoError(err)
		s.Equal(data, obj.Data)
	})

	s.Run("storage tamper is detected on fetch", func() {
		err := s.blobs.Put(s.ctx, item.BlobKey, blob.Object{Data: []byte("swapped bytes")})
		s.Require().NoError(err)

		_, err = s.svc.Fetch(s.ctx, item)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeIntegrityMismatch))
	})

	s.Run("missing artifact is not found", func() {
		s.Require().NoError(s.blobs.Delete(s.ctx, item.BlobKey))
		_, err := s.svc.Fetch(s.ctx, item)
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeNotFound))
	})
}
