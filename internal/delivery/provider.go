package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	dErrors "custodia/pkg/domain-errors"
)

// Provider sends one message over one channel.
type Provider interface {
	Channel() Channel
	Send(ctx context.Context, target string, msg Message) error
}

// HTTPProvider posts messages to a channel gateway's JSON API. The same
// shape serves email, SMS and WhatsApp gateways.
type HTTPProvider struct {
	channel  Channel
	endpoint string
	apiKey   string
	client   *http.Client
}

func NewHTTPProvider(channel Channel, endpoint, apiKey string, timeout time.Duration) *HTTPProvider {
	return &HTTPProvider{
		channel:  channel,
		endpoint: endpoint,
		apiKey:   apiKey,
		client:   &http.Client{Timeout: timeout},
	}
}

func (p *HTTPProvider) Channel() Channel { return p.channel }

func (p *HTTPProvider) Send(ctx context.Context, target string, msg Message) error {
	body, err := json.Marshal(map[string]string{
		"to":       target,
		"subject":  msg.Subject,
		"greeting": msg.Greeting,
		"link":     msg.AccessLink,
	})
	if err != nil {
		return fmt.Errorf("marshal %s payload: %w", p.channel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build %s request: %w", p.channel, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeProviderUnavailable,
			fmt.Sprintf("%s gateway unreachable", p.channel))
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return dErrors.Newf(dErrors.CodeProviderUnavailable,
			"%s gateway returned %d", p.channel, resp.StatusCode)
	}
	return nil
}

// LogProvider writes sends to the log instead of a gateway, for local
// development without channel credentials.
type LogProvider struct {
	channel Channel
	logger  *slog.Logger
}

func NewLogProvider(channel Channel, logger *slog.Logger) *LogProvider {
	return &LogProvider{channel: channel, logger: logger}
}

func (p *LogProvider) Channel() Channel { return p.channel }

func (p *LogProvider) Send(ctx context.Context, target string, msg Message) error {
	p.logger.InfoContext(ctx, "delivery send (log provider)",
		slog.String("channel", string(p.channel)),
		slog.String("target", target),
		slog.String("link", msg.AccessLink))
	return nil
}
