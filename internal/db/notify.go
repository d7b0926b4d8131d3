package db

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
)

// Notifier wraps the LISTEN/NOTIFY mechanism in PostgreSQL.  The
// escalation dispatcher announces new and updated alerts on a channel so
// the staff dashboard (a separate collaborator) can refresh without
// polling.
type Notifier struct {
	DB      *sql.DB
	Channel string
}

// NewNotifier constructs a Notifier for the given channel name.
func NewNotifier(db *sql.DB, channel string) *Notifier {
	return &Notifier{DB: db, Channel: channel}
}

// Notify announces an alert ID on the channel.  Failures are ignorable:
// the alert row itself is the durable record.
func (n *Notifier) Notify(ctx context.Context, alertID string) error {
	channel := pq.QuoteIdentifier(n.Channel)
	payload := pq.QuoteLiteral(alertID)
	_, err := n.DB.ExecContext(ctx, fmt.Sprintf("NOTIFY %s, %s", channel, payload))
	return err
}
