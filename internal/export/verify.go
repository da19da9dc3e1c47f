package export

import (
	"context"
	"regexp"
	"strings"

	"custodia/internal/audit"
	dErrors "custodia/pkg/domain-errors"
)

var digestPattern = regexp.MustCompile(`^[0-9a-f]{64}$`)

// Verifier answers the anonymous verification endpoint: anyone holding a
// digest can ask whether the system has recorded it, without learning
// anything about the underlying case.
type Verifier struct {
	index audit.DigestIndex
}

func NewVerifier(index audit.DigestIndex) *Verifier {
	return &Verifier{index: index}
}

func (v *Verifier) Verify(ctx context.Context, digest string) (*VerificationResult, error) {
	normalized := strings.ToLower(strings.TrimSpace(digest))
	if !digestPattern.MatchString(normalized) {
		return nil, dErrors.New(dErrors.CodeInvalidInput, "digest must be 64 hex characters")
	}

	matches, err := v.index.FindByDigest(ctx, normalized)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "digest lookup")
	}
	return &VerificationResult{
		Digest:  normalized,
		Found:   len(matches) > 0,
		Matches: matches,
	}, nil
}
