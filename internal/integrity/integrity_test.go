package integrity

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type fakeAuthority struct {
	name  string
	fail  bool
	calls int
}

func (f *fakeAuthority) Name() string { return f.name }

func (f *fakeAuthority) Attest(_ context.Context, digest string) (*TimeAttestation, error) {
	f.calls++
	if f.fail {
		return nil, errors.New("authority down")
	}
	return &TimeAttestation{
		Authority: f.name,
		Token:     "tok-" + digest[:8],
		SignedAt:  time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC),
	}, nil
}

type fakeNotary struct {
	failSubmit bool
	confirmed  bool
	verifyErr  error
}

func (f *fakeNotary) Name() string { return "ledger" }

func (f *fakeNotary) Submit(_ context.Context, _ string) (*AnchorReceipt, error) {
	if f.failSubmit {
		return nil, errors.New("ledger down")
	}
	return &AnchorReceipt{
		Provider:    "ledger",
		Reference:   "anchor-1",
		Status:      AnchorPending,
		SubmittedAt: time.Date(2026, 3, 10, 9, 0, 1, 0, time.UTC),
	}, nil
}

func (f *fakeNotary) Verify(_ context.Context, _ string) (bool, error) {
	if f.verifyErr != nil {
		return false, f.verifyErr
	}
	return f.confirmed, nil
}

type HasherSuite struct {
	suite.Suite
	env Envelope
}

func TestHasherSuite(t *testing.T) {
	suite.Run(t, new(HasherSuite))
}

func (s *HasherSuite) SetupTest() {
	s.env = Envelope{
		OriginIP:    "203.0.113.9",
		GeneratedAt: time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC),
	}
}

func (s *HasherSuite) TestDigestProperties() {
	content := []byte("Por medio de la presente se le notifica una amonestación escrita.")

	s.Run("same input always produces same digest", func() {
		s.Equal(Hash(content, s.env), Hash(content, s.env))
	})

	s.Run("single byte change produces different digest", func() {
		mutated := append([]byte(nil), content...)
		mutated[3]++
		s.NotEqual(Hash(content, s.env), Hash(mutated, s.env))
	})

	s.Run("different origin IP produces different digest", func() {
		other := s.env
		other.OriginIP = "203.0.113.10"
		s.NotEqual(Hash(content, s.env), Hash(content, other))
	})

	s.Run("different generation instant produces different digest", func() {
		other := s.env
		other.GeneratedAt = other.GeneratedAt.Add(time.Nanosecond)
		s.NotEqual(Hash(content, s.env), Hash(content, other))
	})
}

func (s *HasherSuite) TestCanonicalization() {
	unix := []byte("line one\nline two\n")
	windows := []byte("line one\r\nline two\r\n")
	trailing := []byte("line one  \nline two\t\n")

	s.Run("line ending style does not change digest", func() {
		s.Equal(Hash(unix, s.env), Hash(windows, s.env))
	})

	s.Run("trailing line whitespace does not change digest", func() {
		s.Equal(Hash(unix, s.env), Hash(trailing, s.env))
	})

	s.Run("leading whitespace still changes digest", func() {
		indented := []byte("  line one\nline two\n")
		s.NotEqual(Hash(unix, s.env), Hash(indented, s.env))
	})
}

func (s *HasherSuite) TestVerify() {
	content := []byte("carta de despido")
	digest := Hash(content, s.env)

	s.Run("original content verifies", func() {
		s.True(Verify(content, s.env, digest))
	})

	s.Run("digest comparison tolerates case and whitespace", func() {
		s.True(Verify(content, s.env, "  "+digest+"\n"))
	})

	s.Run("mutated content fails", func() {
		s.False(Verify([]byte("carta de despido."), s.env, digest))
	})

	s.Run("wrong envelope fails", func() {
		other := s.env
		other.OriginIP = "198.51.100.1"
		s.False(Verify(content, other, digest))
	})
}

func (s *HasherSuite) TestHashBytesSkipsCanonicalization() {
	s.NotEqual(HashBytes([]byte("a\r\nb")), HashBytes([]byte("a\nb")))
}

type FallbackChainSuite struct {
	suite.Suite
}

func TestFallbackChainSuite(t *testing.T) {
	suite.Run(t, new(FallbackChainSuite))
}

func (s *FallbackChainSuite) TestAttest() {
	ctx := context.Background()

	s.Run("first healthy authority wins", func() {
		primary := &fakeAuthority{name: "tsa-primary"}
		secondary := &fakeAuthority{name: "tsa-secondary"}
		chain := NewFallbackChain(primary, secondary)

		att, err := chain.Attest(ctx, HashBytes([]byte("doc")))
		s.Require().NoError(err)
		s.Equal("tsa-primary", att.Authority)
		s.Zero(secondary.calls)
	})

	s.Run("failing primary falls through to secondary", func() {
		primary := &fakeAuthority{name: "tsa-primary", fail: true}
		secondary := &fakeAuthority{name: "tsa-secondary"}
		chain := NewFallbackChain(primary, secondary)

		att, err := chain.Attest(ctx, HashBytes([]byte("doc")))
		s.Require().NoError(err)
		s.Equal("tsa-secondary", att.Authority)
		s.Equal(1, primary.calls)
	})

	s.Run("open circuit routes around a flapping primary", func() {
		primary := &fakeAuthority{name: "tsa-primary", fail: true}
		secondary := &fakeAuthority{name: "tsa-secondary"}
		chain := NewFallbackChain(primary, secondary)

		for range 3 {
			_, err := chain.Attest(ctx, HashBytes([]byte("doc")))
			s.Require().NoError(err)
		}
		s.Equal(3, primary.calls)

		_, err := chain.Attest(ctx, HashBytes([]byte("doc")))
		s.Require().NoError(err)
		s.Equal(3, primary.calls, "open circuit skips the primary while the secondary holds")
	})

	s.Run("all authorities failing is an error", func() {
		chain := NewFallbackChain(
			&fakeAuthority{name: "tsa-primary", fail: true},
			&fakeAuthority{name: "tsa-secondary", fail: true},
		)
		_, err := chain.Attest(ctx, HashBytes([]byte("doc")))
		s.Require().Error(err)
		s.Contains(err.Error(), "all time authorities failed")
	})

	s.Run("empty chain is an error", func() {
		chain := NewFallbackChain()
		_, err := chain.Attest(ctx, "deadbeef")
		s.Require().Error(err)
	})
}

type StampServiceSuite struct {
	suite.Suite
	env Envelope
}

func TestStampServiceSuite(t *testing.T) {
	suite.Run(t, new(StampServiceSuite))
}

func (s *StampServiceSuite) SetupTest() {
	s.env = Envelope{
		OriginIP:    "203.0.113.9",
		GeneratedAt: time.Date(2026, 3, 10, 8, 30, 0, 0, time.UTC),
	}
}

func (s *StampServiceSuite) TestStamp() {
	ctx := context.Background()
	content := []byte("notificación de suspensión")

	s.Run("healthy stamp carries attestation and pending anchor", func() {
		svc := NewService(
			NewFallbackChain(&fakeAuthority{name: "tsa-primary"}),
			WithNotary(&fakeNotary{}),
			WithLogger(slog.Default()),
		)

		stamp := svc.Stamp(ctx, content, s.env)
		s.Equal(Hash(content, s.env), stamp.Digest)
		s.False(stamp.Degraded)
		s.Require().NotNil(stamp.Attestation)
		s.Equal("tsa-primary", stamp.Attestation.Authority)
		s.Require().NotNil(stamp.Anchor)
		s.Equal(AnchorPending, stamp.Anchor.Status)
	})

	s.Run("all authorities down degrades to hash-only", func() {
		svc := NewService(NewFallbackChain(&fakeAuthority{name: "tsa-primary", fail: true}))

		stamp := svc.Stamp(ctx, content, s.env)
		s.True(stamp.Degraded)
		s.Nil(stamp.Attestation)
		s.Equal(Hash(content, s.env), stamp.Digest, "digest is recorded even when unstamped")
	})

	s.Run("notary failure leaves the anchor absent without degrading", func() {
		svc := NewService(
			NewFallbackChain(&fakeAuthority{name: "tsa-primary"}),
			WithNotary(&fakeNotary{failSubmit: true}),
		)

		stamp := svc.Stamp(ctx, content, s.env)
		s.False(stamp.Degraded)
		s.NotNil(stamp.Attestation)
		s.Nil(stamp.Anchor)
	})
}

func (s *StampServiceSuite) TestRefreshAnchor() {
	ctx := context.Background()
	now := time.Date(2026, 3, 11, 12, 0, 0, 0, time.UTC)
	pending := AnchorReceipt{
		Provider:    "ledger",
		Reference:   "anchor-1",
		Status:      AnchorPending,
		SubmittedAt: now.Add(-24 * time.Hour),
	}

	s.Run("pending anchor is upgraded once the ledger confirms", func() {
		svc := NewService(NewFallbackChain(&fakeAuthority{name: "tsa-primary"}),
			WithNotary(&fakeNotary{confirmed: true}))

		got, err := svc.RefreshAnchor(ctx, pending, now)
		s.Require().NoError(err)
		s.Equal(AnchorConfirmed, got.Status)
		s.Require().NotNil(got.ConfirmedAt)
		s.Equal(now, *got.ConfirmedAt)
	})

	s.Run("unconfirmed anchor stays pending", func() {
		svc := NewService(NewFallbackChain(&fakeAuthority{name: "tsa-primary"}),
			WithNotary(&fakeNotary{confirmed: false}))

		got, err := svc.RefreshAnchor(ctx, pending, now)
		s.Require().NoError(err)
		s.Equal(AnchorPending, got.Status)
		s.Nil(got.ConfirmedAt)
	})

	s.Run("confirmed anchor is returned unchanged", func() {
		confirmedAt := now.Add(-time.Hour)
		svc := NewService(NewFallbackChain(&fakeAuthority{name: "tsa-primary"}),
			WithNotary(&fakeNotary{verifyErr: errors.New("would fail if called")}))

		done := pending
		done.Status = AnchorConfirmed
		done.ConfirmedAt = &confirmedAt

		got, err := svc.RefreshAnchor(ctx, done, now)
		s.Require().NoError(err)
		s.Equal(done, got)
	})

	s.Run("ledger error keeps the receipt pending", func() {
		svc := NewService(NewFallbackChain(&fakeAuthority{name: "tsa-primary"}),
			WithNotary(&fakeNotary{verifyErr: errors.New("ledger down")}))

		got, err := svc.RefreshAnchor(ctx, pending, now)
		s.Require().Error(err)
		s.Equal(AnchorPending, got.Status)
	})
}
