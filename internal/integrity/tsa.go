package integrity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	dErrors "custodia/pkg/domain-errors"
	"custodia/pkg/platform/circuit"
)

// TimeAuthority obtains a signed time attestation for a digest.
type TimeAuthority interface {
	Name() string
	Attest(ctx context.Context, digest string) (*TimeAttestation, error)
}

// HTTPAuthority talks to one time-authority endpoint.
type HTTPAuthority struct {
	name     string
	endpoint string
	client   *http.Client
}

func NewHTTPAuthority(name, endpoint string, timeout time.Duration) *HTTPAuthority {
	return &HTTPAuthority{
		name:     name,
		endpoint: endpoint,
		client:   &http.Client{Timeout: timeout},
	}
}

func (a *HTTPAuthority) Name() string { return a.name }

func (a *HTTPAuthority) Attest(ctx context.Context, digest string) (*TimeAttestation, error) {
	body, err := json.Marshal(map[string]string{"digest": digest})
	if err != nil {
		return nil, fmt.Errorf("marshal attest request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build attest request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "time authority unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.Newf(dErrors.CodeProviderUnavailable,
			"time authority %s returned %d", a.name, resp.StatusCode)
	}

	var payload struct {
		Token    string    `json:"token"`
		SignedAt time.Time `json:"signed_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "time authority response malformed")
	}

	return &TimeAttestation{Authority: a.name, Token: payload.Token, SignedAt: payload.SignedAt}, nil
}

// FallbackChain walks an ordered list of time authorities, skipping ones
// whose circuit is open, and returns the first successful attestation.
// When every authority fails the caller degrades to unstamped mode.
type FallbackChain struct {
	authorities []TimeAuthority
	breakers    []*circuit.Breaker
}

func NewFallbackChain(authorities ...TimeAuthority) *FallbackChain {
	breakers := make([]*circuit.Breaker, len(authorities))
	for i, a := range authorities {
		breakers[i] = circuit.New(a.Name(), circuit.WithFailureThreshold(3))
	}
	return &FallbackChain{authorities: authorities, breakers: breakers}
}

// Attest tries each authority in order. An open circuit is consulted last
// rather than skipped entirely, so a fully-open chain still probes once.
func (c *FallbackChain) Attest(ctx context.Context, digest string) (*TimeAttestation, error) {
	if len(c.authorities) == 0 {
		return nil, dErrors.New(dErrors.CodeProviderUnavailable, "no time authorities configured")
	}

	var lastErr error
	tryOne := func(i int) (*TimeAttestation, error) {
		att, err := c.authorities[i].Attest(ctx, digest)
		if err != nil {
			c.breakers[i].RecordFailure()
			return nil, err
		}
		c.breakers[i].RecordSuccess()
		return att, nil
	}

	var openCircuits []int
	for i := range c.authorities {
		if c.breakers[i].IsOpen() {
			openCircuits = append(openCircuits, i)
			continue
		}
		att, err := tryOne(i)
		if err == nil {
			return att, nil
		}
		lastErr = err
	}
	for _, i := range openCircuits {
		att, err := tryOne(i)
		if err == nil {
			return att, nil
		}
		lastErr = err
	}

	return nil, dErrors.Wrap(lastErr, dErrors.CodeProviderUnavailable, "all time authorities failed")
}
