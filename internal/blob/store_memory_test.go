package blob

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"custodia/pkg/platform/sentinel"
)

type InMemoryStoreSuite struct {
	suite.Suite
	store *InMemoryStore
}

func TestInMemoryStoreSuite(t *testing.T) {
	suite.Run(t, new(InMemoryStoreSuite))
}

func (s *InMemoryStoreSuite) SetupTest() {
	s.store = NewInMemoryStore()
}

func (s *InMemoryStoreSuite) TestRoundTrip() {
	ctx := context.Background()

	s.Run("stored object comes back intact", func() {
		err := s.store.Put(ctx, "evidence/1.pdf", Object{Data: []byte("%PDF-1.7"), ContentType: "application/pdf"})
		s.Require().NoError(err)

		got, err := s.store.Get(ctx, "evidence/1.pdf")
		s.Require().NoError(err)
		s.Equal([]byte("%PDF-1.7"), got.Data)
		s.Equal("application/pdf", got.ContentType)
	})

	s.Run("caller mutation does not leak into the store", func() {
		data := []byte("original")
		s.Require().NoError(s.store.Put(ctx, "k", Object{Data: data}))
		data[0] = 'X'

		got, err := s.store.Get(ctx, "k")
		s.Require().NoError(err)
		s.Equal([]byte("original"), got.Data)
	})

	s.Run("missing key is not found", func() {
		_, err := s.store.Get(ctx, "absent")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})

	s.Run("delete removes the object", func() {
		s.Require().NoError(s.store.Put(ctx, "gone", Object{Data: []byte("x")}))
		s.Require().NoError(s.store.Delete(ctx, "gone"))
		_, err := s.store.Get(ctx, "gone")
		s.Require().ErrorIs(err, sentinel.ErrNotFound)
	})
}
