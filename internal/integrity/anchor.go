package integrity

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	dErrors "custodia/pkg/domain-errors"
)

// Notary submits digests to a public append-only ledger and verifies
// previously submitted anchors. Confirmation typically arrives hours after
// submission, so callers store the pending receipt and re-verify on demand.
type Notary interface {
	Name() string
	Submit(ctx context.Context, digest string) (*AnchorReceipt, error)
	Verify(ctx context.Context, reference string) (bool, error)
}

// HTTPNotary talks to a blockchain-notary provider over its JSON API.
type HTTPNotary struct {
	name    string
	baseURL string
	client  *http.Client
}

func NewHTTPNotary(name, baseURL string, timeout time.Duration) *HTTPNotary {
	return &HTTPNotary{
		name:    name,
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (n *HTTPNotary) Name() string { return n.name }

func (n *HTTPNotary) Submit(ctx context.Context, digest string) (*AnchorReceipt, error) {
	body, err := json.Marshal(map[string]string{"digest": digest})
	if err != nil {
		return nil, fmt.Errorf("marshal anchor request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/anchors", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build anchor request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "notary unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusAccepted && resp.StatusCode != http.StatusOK {
		return nil, dErrors.Newf(dErrors.CodeProviderUnavailable, "notary returned %d", resp.StatusCode)
	}

	var payload struct {
		Reference   string    `json:"reference"`
		SubmittedAt time.Time `json:"submitted_at"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "notary response malformed")
	}

	return &AnchorReceipt{
		Provider:    n.name,
		Reference:   payload.Reference,
		Status:      AnchorPending,
		SubmittedAt: payload.SubmittedAt,
	}, nil
}

func (n *HTTPNotary) Verify(ctx context.Context, reference string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, n.baseURL+"/anchors/"+reference, nil)
	if err != nil {
		return false, fmt.Errorf("build verify request: %w", err)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "notary unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, dErrors.Newf(dErrors.CodeProviderUnavailable, "notary returned %d", resp.StatusCode)
	}

	var payload struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return false, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "notary response malformed")
	}
	return payload.Status == "confirmed", nil
}
