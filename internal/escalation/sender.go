package escalation

import (
	"context"
	"fmt"

	"postop-checkin/pkg"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

// HTTPSender posts notifications to the delivery collaborator's REST
// endpoint.  The collaborator owns the actual SMS/pager fan-out and the
// delivered/failed tracking beyond the initial send.
type HTTPSender struct {
	http   *resty.Client
	url    string
	logger *zap.Logger
}

// NewHTTPSender constructs a sender for the given collaborator URL.
func NewHTTPSender(url string, logger *zap.Logger) *HTTPSender {
	return &HTTPSender{http: resty.New(), url: url, logger: logger}
}

// Send posts one notification.  The returned status is sent on a 2xx
// response; any transport or HTTP error is returned for the dispatcher to
// record.
func (s *HTTPSender) Send(ctx context.Context, n pkg.Notification) (pkg.NotificationStatus, error) {
	resp, err := s.http.R().
		SetContext(ctx).
		SetBody(n).
		Post(s.url)
	if err != nil {
		return pkg.NotifyFailed, err
	}
	if resp.IsError() {
		return pkg.NotifyFailed, fmt.Errorf("notification endpoint returned status %d", resp.StatusCode())
	}
	return pkg.NotifySent, nil
}

// LogSender is used when no delivery collaborator is configured: it logs
// the notification and reports it sent.  Useful in development and tests.
type LogSender struct {
	Logger *zap.Logger
}

// Send logs the notification.
func (s *LogSender) Send(_ context.Context, n pkg.Notification) (pkg.NotificationStatus, error) {
	s.Logger.Info("notification (log only)",
		zap.String("alert_id", n.AlertID),
		zap.String("recipient_role", n.RecipientRole),
		zap.String("channel", n.Channel),
		zap.String("priority", n.Priority),
	)
	return pkg.NotifySent, nil
}
