package db

import (
	"context"
	"database/sql"
	"errors"

	"postop-checkin/pkg"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertRepository wraps database operations on clinical alerts and their
// notification records.
type AlertRepository struct {
	DB     *sql.DB
	logger *zap.Logger
}

// NewAlertRepository constructs an AlertRepository from an existing sql.DB.
func NewAlertRepository(db *sql.DB, logger *zap.Logger) *AlertRepository {
	return &AlertRepository{DB: db, logger: logger}
}

// FindOpenByCategory returns the open alert for a session and concern
// category, or nil when none exists.  Used by the dispatcher to update an
// existing alert instead of multiplying them within one call.
func (r *AlertRepository) FindOpenByCategory(ctx context.Context, sessionID, category string) (*pkg.ClinicalAlert, error) {
	var a pkg.ClinicalAlert
	var staff sql.NullString
	err := r.DB.QueryRowContext(ctx,
		`SELECT id, patient_id, call_session_id, severity, category, title,
                description, status, assigned_staff_id, created_at, updated_at
         FROM clinical_alerts
         WHERE call_session_id = $1 AND category = $2 AND status = 'open'
         LIMIT 1`, sessionID, category,
	).Scan(&a.ID, &a.PatientID, &a.CallSessionID, &a.Severity, &a.Category,
		&a.Title, &a.Description, &a.Status, &staff, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if staff.Valid {
		v := staff.String
		a.AssignedStaffID = &v
	}
	return &a, nil
}

// CreateAlert inserts a new open alert and returns it with its generated ID.
func (r *AlertRepository) CreateAlert(ctx context.Context, a *pkg.ClinicalAlert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	a.Status = pkg.AlertOpen
	return r.DB.QueryRowContext(ctx,
		`INSERT INTO clinical_alerts
             (id, patient_id, call_session_id, severity, category, title, description, status, assigned_staff_id)
         VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
         RETURNING created_at, updated_at`,
		a.ID, a.PatientID, a.CallSessionID, a.Severity, a.Category,
		a.Title, a.Description, a.Status, a.AssignedStaffID,
	).Scan(&a.CreatedAt, &a.UpdatedAt)
}

// UpdateAlert rewrites the description and severity of an existing alert.
// Severity only ever moves upward; the dispatcher enforces that before
// calling.
func (r *AlertRepository) UpdateAlert(ctx context.Context, id, description string, severity pkg.RiskLevel) error {
	_, err := r.DB.ExecContext(ctx,
		`UPDATE clinical_alerts
         SET description = $2, severity = $3, updated_at = NOW()
         WHERE id = $1`, id, description, severity)
	return err
}

// ListOpen returns all open alerts, newest first, for the operator API.
func (r *AlertRepository) ListOpen(ctx context.Context) ([]pkg.ClinicalAlert, error) {
	rows, err := r.DB.QueryContext(ctx,
		`SELECT id, patient_id, call_session_id, severity, category, title,
                description, status, assigned_staff_id, created_at, updated_at
         FROM clinical_alerts WHERE status = 'open'
         ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []pkg.ClinicalAlert
	for rows.Next() {
		var a pkg.ClinicalAlert
		var staff sql.NullString
		if err := rows.Scan(&a.ID, &a.PatientID, &a.CallSessionID, &a.Severity,
			&a.Category, &a.Title, &a.Description, &a.Status, &staff,
			&a.CreatedAt, &a.UpdatedAt); err != nil {
			return nil, err
		}
		if staff.Valid {
			v := staff.String
			a.AssignedStaffID = &v
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CreateNotification inserts a pending delivery record for an alert.
func (r *AlertRepository) CreateNotification(ctx context.Context, n *pkg.Notification) error {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	n.Status = pkg.NotifyPending
	return r.DB.QueryRowContext(ctx,
		`INSERT INTO notifications
             (id, alert_id, recipient_id, recipient_role, channel, priority, status)
         VALUES ($1, $2, $3, $4, $5, $6, $7)
         RETURNING created_at`,
		n.ID, n.AlertID, n.RecipientID, n.RecipientRole, n.Channel, n.Priority, n.Status,
	).Scan(&n.CreatedAt)
}

// MarkNotification records the outcome of a delivery attempt.  A failure
// keeps the error reason for the notification collaborator to inspect.
func (r *AlertRepository) MarkNotification(ctx context.Context, id string, status pkg.NotificationStatus, deliveryErr string) error {
	var lastErr interface{}
	if deliveryErr != "" {
		lastErr = deliveryErr
	}
	_, err := r.DB.ExecContext(ctx,
		`UPDATE notifications SET status = $2, last_error = $3 WHERE id = $1`,
		id, status, lastErr)
	return err
}
