package pkg

import (
	"encoding/json"
	"time"
)

// CallStage distinguishes calls placed before surgery from recovery
// follow-ups after it.
type CallStage string

const (
	StagePreOp  CallStage = "preop"
	StagePostOp CallStage = "postop"
)

// CallType identifies the purpose of a scheduled call.  The type is fixed
// by the schedule offset table and never changes after generation.
type CallType string

const (
	CallEnrollment  CallType = "enrollment"
	CallEducation   CallType = "education"
	CallPreparation CallType = "preparation"
	CallFinalPrep   CallType = "final_prep"
)

// CallStatus is the lifecycle state of a CallSession.  Transitions are
// forward-only: scheduled → dialing → in_progress → one of the terminal
// states.  no_answer, busy, cancelled, completed and failed are terminal.
type CallStatus string

const (
	StatusScheduled  CallStatus = "scheduled"
	StatusDialing    CallStatus = "dialing"
	StatusInProgress CallStatus = "in_progress"
	StatusCompleted  CallStatus = "completed"
	StatusFailed     CallStatus = "failed"
	StatusNoAnswer   CallStatus = "no_answer"
	StatusBusy       CallStatus = "busy"
	StatusCancelled  CallStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s CallStatus) Terminal() bool {
	switch s {
	case StatusCompleted, StatusFailed, StatusNoAnswer, StatusBusy, StatusCancelled:
		return true
	}
	return false
}

// TurnRole describes who authored a conversation turn.  There are only two
// roles: the automated agent and the patient.
type TurnRole string

const (
	RoleAgent   TurnRole = "agent"
	RolePatient TurnRole = "patient"
)

// Turn is a single utterance in a call's conversation history.  Turns are
// append-only within a call attempt.
type Turn struct {
	ID        int64     `json:"id"`
	SessionID string    `json:"session_id"`
	Role      TurnRole  `json:"role"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// RiskLevel is the clinical severity assigned to a turn or a whole call.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Rank orders risk levels so callers can compare severities.  Higher is
// more severe.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskLow:
		return 0
	case RiskMedium:
		return 1
	case RiskHigh:
		return 2
	case RiskCritical:
		return 3
	}
	return -1
}

// MaxRisk returns the more severe of two risk levels.
func MaxRisk(a, b RiskLevel) RiskLevel {
	if b.Rank() > a.Rank() {
		return b
	}
	return a
}

// Concern is a clinical finding extracted from a patient turn.  Category is
// a stable key used for alert deduplication; Detail is the human-readable
// description shown to staff.
type Concern struct {
	Category string `json:"category"`
	Detail   string `json:"detail"`
}

// Assessment is the result of running the clinical risk rules over one
// patient turn together with the accumulated call context.
type Assessment struct {
	PainLevel *int      `json:"pain_level,omitempty"`
	Symptoms  []string  `json:"symptoms,omitempty"`
	Concerns  []Concern `json:"concerns,omitempty"`
	Risk      RiskLevel `json:"risk_level"`
	Escalate  bool      `json:"escalate"`
}

// AgentNotes is the structured end-of-call summary attached to a
// CallSession for clinician review.
type AgentNotes struct {
	Summary     string            `json:"summary"`
	Collected   map[string]string `json:"collected,omitempty"`
	Concerns    []string          `json:"concerns,omitempty"`
	GeneratedAt time.Time         `json:"generated_at"`
}

// CallSession is one scheduled or completed automated phone interaction
// with a patient.  Exactly one session exists per (patient, days-from-
// surgery) pair; sessions are never physically deleted.
type CallSession struct {
	ID                  string          `json:"id"`
	PatientID           string          `json:"patient_id"`
	Stage               CallStage       `json:"stage"`
	ScheduledDate       time.Time       `json:"scheduled_date"`
	DaysFromSurgery     int             `json:"days_from_surgery"`
	CallType            CallType        `json:"call_type"`
	CallStatus          CallStatus      `json:"call_status"`
	FlowState           json.RawMessage `json:"flow_state,omitempty"`
	AgentNotes          *AgentNotes     `json:"agent_notes,omitempty"`
	ComplianceScore     *int            `json:"compliance_score,omitempty"`
	RiskLevel           *RiskLevel      `json:"risk_level,omitempty"`
	ConcernsIdentified  []string        `json:"concerns_identified,omitempty"`
	ActualCallStart     *time.Time      `json:"actual_call_start,omitempty"`
	CallDurationSeconds *int            `json:"call_duration_seconds,omitempty"`
	CallOutcome         *string         `json:"call_outcome,omitempty"`
	ProviderCallID      *string         `json:"provider_call_id,omitempty"`
	Attempt             int             `json:"attempt"`
	CreatedAt           time.Time       `json:"created_at"`
}

// AlertStatus is the triage state of a ClinicalAlert.  The core only ever
// writes open alerts; the remaining states belong to the alerts collaborator.
type AlertStatus string

const (
	AlertOpen         AlertStatus = "open"
	AlertAcknowledged AlertStatus = "acknowledged"
	AlertResolved     AlertStatus = "resolved"
	AlertDismissed    AlertStatus = "dismissed"
)

// ClinicalAlert records that a call crossed the escalation threshold.  It
// is the durable source of truth for an escalation; notifications hanging
// off it are best-effort.
type ClinicalAlert struct {
	ID              string      `json:"id"`
	PatientID       string      `json:"patient_id"`
	CallSessionID   string      `json:"call_session_id"`
	Severity        RiskLevel   `json:"severity"`
	Category        string      `json:"category"`
	Title           string      `json:"title"`
	Description     string      `json:"description"`
	Status          AlertStatus `json:"status"`
	AssignedStaffID *string     `json:"assigned_staff_id,omitempty"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
}

// NotificationStatus tracks one delivery attempt.
type NotificationStatus string

const (
	NotifyPending   NotificationStatus = "pending"
	NotifySent      NotificationStatus = "sent"
	NotifyDelivered NotificationStatus = "delivered"
	NotifyFailed    NotificationStatus = "failed"
)

// Notification is one delivery attempt of an alert to one recipient over
// one channel.
type Notification struct {
	ID            string             `json:"id"`
	AlertID       string             `json:"alert_id"`
	RecipientID   string             `json:"recipient_id"`
	RecipientRole string             `json:"recipient_role"`
	Channel       string             `json:"channel"`
	Priority      string             `json:"priority"`
	Status        NotificationStatus `json:"status"`
	LastError     *string            `json:"last_error,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
}

// Patient is the read-only slice of the patient record the core needs.
// The full record is owned by the patient-management collaborator.
type Patient struct {
	ID          string    `json:"id"`
	Phone       string    `json:"phone"`
	SurgeryDate time.Time `json:"surgery_date"`
	PhysicianID string    `json:"physician_id"`
	CreatedAt   time.Time `json:"created_at"`
}
