package gate

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	dErrors "custodia/pkg/domain-errors"
)

// BiometricProvider wraps the external liveness and face-match vendor. Two
// sequential calls: StartLiveness opens a vendor session the browser drives,
// FetchResult reads the liveness verdict and similarity score afterwards.
type BiometricProvider interface {
	StartLiveness(ctx context.Context, referenceID string) (sessionRef string, err error)
	FetchResult(ctx context.Context, sessionRef string) (*BiometricResult, error)
}

// BiometricResult is the vendor's raw answer. Similarity is a 0-100 score
// against the enrolled reference image; policy bands turn it into an outcome.
type BiometricResult struct {
	Live       bool
	Similarity float64
}

// HTTPBiometricProvider talks to the vendor's REST API.
type HTTPBiometricProvider struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPBiometricProvider(baseURL, apiKey string, timeout time.Duration) *HTTPBiometricProvider {
	return &HTTPBiometricProvider{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (p *HTTPBiometricProvider) StartLiveness(ctx context.Context, referenceID string) (string, error) {
	body, err := json.Marshal(map[string]string{"reference_id": referenceID})
	if err != nil {
		return "", fmt.Errorf("marshal liveness request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/liveness/sessions", bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("build liveness request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "biometric provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusOK {
		return "", dErrors.Newf(dErrors.CodeProviderUnavailable, "biometric provider returned %d", resp.StatusCode)
	}

	var payload struct {
		SessionRef string `json:"session_ref"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "biometric response malformed")
	}
	return payload.SessionRef, nil
}

func (p *HTTPBiometricProvider) FetchResult(ctx context.Context, sessionRef string) (*BiometricResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+"/liveness/sessions/"+sessionRef, nil)
	if err != nil {
		return nil, fmt.Errorf("build result request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "biometric provider unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, dErrors.Newf(dErrors.CodeProviderUnavailable, "biometric provider returned %d", resp.StatusCode)
	}

	var payload struct {
		Live       bool    `json:"live"`
		Similarity float64 `json:"similarity"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeProviderUnavailable, "biometric response malformed")
	}
	return &BiometricResult{Live: payload.Live, Similarity: payload.Similarity}, nil
}

// classify maps a similarity score into the tri-state outcome using the
// configured bands. Inconclusive scores are routed to human review, never
// silently treated as pass or fail.
func classify(result *BiometricResult, approveAt, reviewAt float64) BiometricOutcome {
	if !result.Live {
		return BiometricRejected
	}
	switch {
	case result.Similarity >= approveAt:
		return BiometricApproved
	case result.Similarity >= reviewAt:
		return BiometricNeedsReview
	default:
		return BiometricRejected
	}
}
