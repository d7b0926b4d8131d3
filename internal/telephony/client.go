package telephony

import (
	"context"
	"fmt"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// Client places outbound calls through the telephony provider's REST API.
type Client struct {
	http          *resty.Client
	callerNumber  string
	publicBaseURL string
	logger        *zap.Logger
}

// NewClient constructs a provider client.  publicBaseURL is this
// service's externally reachable base, used to build the webhook callback
// URLs the provider will post events to.
func NewClient(providerBaseURL, token, callerNumber, publicBaseURL string, logger *zap.Logger) *Client {
	http := resty.New().
		SetBaseURL(providerBaseURL).
		SetAuthToken(token)
	return &Client{
		http:          http,
		callerNumber:  callerNumber,
		publicBaseURL: publicBaseURL,
		logger:        logger,
	}
}

type initiateResponse struct {
	CallID string `json:"call_id"`
}

// InitiateCall asks the provider to dial the patient.  The session ID is
// threaded through the callback URLs so webhook events can be routed back
// to the owning call session.  Idempotence per session is enforced by the
// claim transition before this is ever invoked.
func (c *Client) InitiateCall(ctx context.Context, toNumber, sessionID string) (string, error) {
	var out initiateResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"from":       c.callerNumber,
			"to":         toNumber,
			"answer_url": fmt.Sprintf("%s/webhooks/voice/answer?session=%s", c.publicBaseURL, sessionID),
			"event_url":  fmt.Sprintf("%s/webhooks/voice/status?session=%s", c.publicBaseURL, sessionID),
		}).
		SetResult(&out).
		Post("/v1/calls")
	if err != nil {
		return "", fmt.Errorf("initiate call: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("initiate call: provider returned status %d", resp.StatusCode())
	}
	c.logger.Info("outbound call placed",
		zap.String("session_id", sessionID),
		zap.String("provider_call_id", out.CallID),
	)
	return out.CallID, nil
}
