// Package escalation converts risk assessments that crossed the
// escalation threshold into clinical alerts and best-effort staff
// notifications.  The alert row is the durable record; notification
// delivery failures are logged and recorded but never block alert
// creation.
package escalation

import (
	"context"
	"strings"

	"postop-checkin/pkg"

	"go.uber.org/zap"
)

// AlertStore is the slice of the alert repository the dispatcher needs.
type AlertStore interface {
	FindOpenByCategory(ctx context.Context, sessionID, category string) (*pkg.ClinicalAlert, error)
	CreateAlert(ctx context.Context, a *pkg.ClinicalAlert) error
	UpdateAlert(ctx context.Context, id, description string, severity pkg.RiskLevel) error
	CreateNotification(ctx context.Context, n *pkg.Notification) error
	MarkNotification(ctx context.Context, id string, status pkg.NotificationStatus, deliveryErr string) error
}

// Sender delivers one notification over its channel.
type Sender interface {
	Send(ctx context.Context, n pkg.Notification) (pkg.NotificationStatus, error)
}

// Announcer publishes alert IDs for dashboard refresh.  Implemented by
// the Postgres notifier; failures are ignorable.
type Announcer interface {
	Notify(ctx context.Context, alertID string) error
}

// route maps an alert severity to its notification priority and the staff
// roles notified.
type route struct {
	Priority string
	Roles    []string
}

const (
	RolePhysician   = "physician"
	RoleCoordinator = "on_call_coordinator"
)

// routing is the severity routing table.  Severities below high never
// reach the dispatcher because escalate is false for them.
var routing = map[pkg.RiskLevel]route{
	pkg.RiskHigh:     {Priority: "high", Roles: []string{RolePhysician}},
	pkg.RiskCritical: {Priority: "urgent", Roles: []string{RolePhysician, RoleCoordinator}},
}

// channelsByRole lists the delivery channels used per recipient role; one
// Notification record is created per (recipient, channel).
var channelsByRole = map[string][]string{
	RolePhysician:   {"sms"},
	RoleCoordinator: {"sms", "pager"},
}

// Dispatcher creates and updates clinical alerts from assessments.
type Dispatcher struct {
	store         AlertStore
	sender        Sender
	announcer     Announcer
	coordinatorID string
	logger        *zap.Logger
}

// NewDispatcher constructs a Dispatcher.  coordinatorID identifies the
// on-call coordinator recipient for critical alerts; announcer may be nil.
func NewDispatcher(store AlertStore, sender Sender, announcer Announcer, coordinatorID string, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{
		store:         store,
		sender:        sender,
		announcer:     announcer,
		coordinatorID: coordinatorID,
		logger:        logger,
	}
}

// Dispatch fires when an assessment's escalate flag is set.  For each
// concern category it either updates the call's existing open alert (a
// repeated escalating turn never multiplies alerts) or creates a new one
// and queues notifications to the routed staff.  Returns the alerts
// touched, newest first.
func (d *Dispatcher) Dispatch(ctx context.Context, session *pkg.CallSession, patient *pkg.Patient, a pkg.Assessment) ([]pkg.ClinicalAlert, error) {
	if !a.Escalate {
		return nil, nil
	}

	var touched []pkg.ClinicalAlert
	for _, concern := range a.Concerns {
		existing, err := d.store.FindOpenByCategory(ctx, session.ID, concern.Category)
		if err != nil {
			return touched, err
		}
		if existing != nil {
			updated := appendDetail(existing.Description, concern.Detail)
			severity := pkg.MaxRisk(existing.Severity, a.Risk)
			if err := d.store.UpdateAlert(ctx, existing.ID, updated, severity); err != nil {
				return touched, err
			}
			existing.Description = updated
			existing.Severity = severity
			touched = append(touched, *existing)
			d.announce(ctx, existing.ID)
			d.logger.Info("clinical alert updated",
				zap.String("alert_id", existing.ID),
				zap.String("category", concern.Category),
				zap.String("severity", string(severity)),
			)
			continue
		}

		physicianID := patient.PhysicianID
		alert := pkg.ClinicalAlert{
			PatientID:       session.PatientID,
			CallSessionID:   session.ID,
			Severity:        a.Risk,
			Category:        concern.Category,
			Title:           alertTitle(concern.Category),
			Description:     concern.Detail,
			AssignedStaffID: &physicianID,
		}
		if err := d.store.CreateAlert(ctx, &alert); err != nil {
			return touched, err
		}
		touched = append(touched, alert)
		d.announce(ctx, alert.ID)
		d.logger.Info("clinical alert created",
			zap.String("alert_id", alert.ID),
			zap.String("patient_id", alert.PatientID),
			zap.String("category", alert.Category),
			zap.String("severity", string(alert.Severity)),
		)
		d.notifyStaff(ctx, alert, patient)
	}
	return touched, nil
}

// notifyStaff creates and attempts delivery of one notification per
// routed (recipient, channel) pair.  Each failure is recorded on the
// notification row and logged; none of them propagate.
func (d *Dispatcher) notifyStaff(ctx context.Context, alert pkg.ClinicalAlert, patient *pkg.Patient) {
	r, ok := routing[alert.Severity]
	if !ok {
		// Severity below the escalation threshold: nothing to route.
		return
	}
	for _, role := range r.Roles {
		recipientID := patient.PhysicianID
		if role == RoleCoordinator {
			recipientID = d.coordinatorID
		}
		if recipientID == "" {
			d.logger.Warn("no recipient configured for role, skipping notification",
				zap.String("role", role), zap.String("alert_id", alert.ID))
			continue
		}
		for _, channel := range channelsByRole[role] {
			n := pkg.Notification{
				AlertID:       alert.ID,
				RecipientID:   recipientID,
				RecipientRole: role,
				Channel:       channel,
				Priority:      r.Priority,
			}
			if err := d.store.CreateNotification(ctx, &n); err != nil {
				d.logger.Error("failed to record notification",
					zap.String("alert_id", alert.ID), zap.Error(err))
				continue
			}
			status, err := d.sender.Send(ctx, n)
			if err != nil {
				d.logger.Warn("notification delivery failed",
					zap.String("notification_id", n.ID),
					zap.String("channel", channel),
					zap.Error(err))
				_ = d.store.MarkNotification(ctx, n.ID, pkg.NotifyFailed, err.Error())
				continue
			}
			_ = d.store.MarkNotification(ctx, n.ID, status, "")
		}
	}
}

func (d *Dispatcher) announce(ctx context.Context, alertID string) {
	if d.announcer == nil {
		return
	}
	if err := d.announcer.Notify(ctx, alertID); err != nil {
		d.logger.Debug("alert announce failed", zap.Error(err))
	}
}

// appendDetail adds a new finding to an alert description unless the same
// detail is already present.
func appendDetail(description, detail string) string {
	if strings.Contains(description, detail) {
		return description
	}
	return description + "; " + detail
}

func alertTitle(category string) string {
	switch category {
	case "infection":
		return "Possible surgical-site infection"
	case "severe_pain":
		return "Severe pain reported"
	case "multiple_severe_symptoms":
		return "Multiple severe symptoms reported"
	case "breathing_difficulty":
		return "Breathing difficulty reported"
	case "chest_pain":
		return "Chest pain reported"
	default:
		return "Clinical concern: " + strings.ReplaceAll(category, "_", " ")
	}
}
