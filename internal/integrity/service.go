package integrity

import (
	"context"
	"log/slog"
	"time"
)

// Service orchestrates the dual timestamp: digest computation, an immediate
// time-authority attestation, and a deferred ledger anchor.
type Service struct {
	chain  *FallbackChain
	notary Notary
	logger *slog.Logger
}

type ServiceOption func(*Service)

func WithLogger(l *slog.Logger) ServiceOption {
	return func(s *Service) { s.logger = l }
}

// WithNotary sets the ledger-anchor provider. Without one, stamps carry no
// anchor receipt.
func WithNotary(n Notary) ServiceOption {
	return func(s *Service) { s.notary = n }
}

func NewService(chain *FallbackChain, opts ...ServiceOption) *Service {
	s := &Service{
		chain:  chain,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stamp hashes the content inside its envelope and obtains the dual
// timestamp. Authority failures degrade the stamp to hash-only; anchor
// failures leave the anchor absent. Neither blocks the caller.
func (s *Service) Stamp(ctx context.Context, content []byte, env Envelope) *Stamp {
	digest := Hash(content, env)
	stamp := &Stamp{Digest: digest}

	att, err := s.chain.Attest(ctx, digest)
	if err != nil {
		s.logger.WarnContext(ctx, "time attestation degraded to hash-only",
			slog.String("digest", digest),
			slog.String("error", err.Error()))
		stamp.Degraded = true
	} else {
		stamp.Attestation = att
	}

	if s.notary != nil {
		receipt, err := s.notary.Submit(ctx, digest)
		if err != nil {
			s.logger.WarnContext(ctx, "ledger anchor submission failed",
				slog.String("digest", digest),
				slog.String("error", err.Error()))
		} else {
			stamp.Anchor = receipt
		}
	}

	return stamp
}

// StampBytes is Stamp for binary artifacts that must not be canonicalized.
func (s *Service) StampBytes(ctx context.Context, content []byte) *Stamp {
	digest := HashBytes(content)
	stamp := &Stamp{Digest: digest}

	att, err := s.chain.Attest(ctx, digest)
	if err != nil {
		s.logger.WarnContext(ctx, "time attestation degraded to hash-only",
			slog.String("digest", digest),
			slog.String("error", err.Error()))
		stamp.Degraded = true
		return stamp
	}
	stamp.Attestation = att
	return stamp
}

// RefreshAnchor re-checks a pending receipt against the ledger and returns
// the updated copy. Confirmed and failed receipts are returned unchanged.
func (s *Service) RefreshAnchor(ctx context.Context, receipt AnchorReceipt, now time.Time) (AnchorReceipt, error) {
	if s.notary == nil || receipt.Status != AnchorPending {
		return receipt, nil
	}

	confirmed, err := s.notary.Verify(ctx, receipt.Reference)
	if err != nil {
		return receipt, err
	}
	if confirmed {
		receipt.Status = AnchorConfirmed
		receipt.ConfirmedAt = &now
	}
	return receipt, nil
}
