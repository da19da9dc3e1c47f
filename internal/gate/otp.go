package gate

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"
)

// OTPRecord is one issued code, stored hashed. Attempts counts failed
// verifications against this code only; re-requesting a code replaces the
// record and resets the counter.
type OTPRecord struct {
	CodeHash []byte    `json:"code_hash"`
	IssuedAt time.Time `json:"issued_at"`
	Attempts int       `json:"attempts"`
}

// OTPStore keeps at most one live code per access token. Save replaces any
// previous code, which is how a re-request invalidates its predecessor.
type OTPStore interface {
	Save(ctx context.Context, token string, record OTPRecord, ttl time.Duration) error
	Get(ctx context.Context, token string) (*OTPRecord, error)
	IncrementAttempts(ctx context.Context, token string) (int, error)
	Delete(ctx context.Context, token string) error
}

// GenerateCode returns a uniformly random numeric code of the given length,
// zero-padded.
func GenerateCode(length int) (string, error) {
	limit := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(length)), nil)
	n, err := rand.Int(rand.Reader, limit)
	if err != nil {
		return "", fmt.Errorf("generate code: %w", err)
	}
	return fmt.Sprintf("%0*d", length, n), nil
}
