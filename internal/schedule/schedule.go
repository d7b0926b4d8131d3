// Package schedule generates the fixed pre-operative call schedule for an
// enrolled patient.  Generation is a pure offset-table computation;
// persistence happens in one all-or-nothing transaction behind the Store
// interface.
package schedule

import (
	"context"
	"time"

	"postop-checkin/pkg"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Offset pairs a signed day offset from the surgery date with the call
// type placed at that offset.
type Offset struct {
	Days int
	Type pkg.CallType
}

// Offsets is the immutable schedule table.  It is applied identically
// regardless of weekends, month lengths or leap years: scheduling is plain
// date arithmetic on the surgery date.
var Offsets = []Offset{
	{-42, pkg.CallEnrollment},
	{-28, pkg.CallEducation},
	{-21, pkg.CallEducation},
	{-14, pkg.CallPreparation},
	{-7, pkg.CallPreparation},
	{-1, pkg.CallFinalPrep},
}

// Generate computes the full call schedule for a patient.  It returns
// exactly one scheduled session per table offset and touches no external
// state.
func Generate(patientID string, surgeryDate time.Time) []pkg.CallSession {
	sessions := make([]pkg.CallSession, 0, len(Offsets))
	for _, o := range Offsets {
		sessions = append(sessions, pkg.CallSession{
			ID:              uuid.NewString(),
			PatientID:       patientID,
			Stage:           pkg.StagePreOp,
			ScheduledDate:   surgeryDate.AddDate(0, 0, o.Days),
			DaysFromSurgery: o.Days,
			CallType:        o.Type,
			CallStatus:      pkg.StatusScheduled,
			Attempt:         1,
		})
	}
	return sessions
}

// Store is the slice of the session repository the generator needs.
type Store interface {
	CreateSchedule(ctx context.Context, sessions []pkg.CallSession) (created bool, err error)
}

// Service persists generated schedules.
type Service struct {
	store  Store
	logger *zap.Logger
}

// NewService constructs a schedule Service.
func NewService(store Store, logger *zap.Logger) *Service {
	return &Service{store: store, logger: logger}
}

// Enroll generates and persists the schedule for a patient.  Re-enrolling
// an already-scheduled patient is a no-op: the existing, possibly
// partially executed schedule is kept and created is false.
func (s *Service) Enroll(ctx context.Context, patient *pkg.Patient) (created bool, err error) {
	sessions := Generate(patient.ID, patient.SurgeryDate)
	created, err = s.store.CreateSchedule(ctx, sessions)
	if err != nil {
		return false, err
	}
	if created {
		s.logger.Info("call schedule generated",
			zap.String("patient_id", patient.ID),
			zap.Time("surgery_date", patient.SurgeryDate),
			zap.Int("sessions", len(sessions)),
		)
	} else {
		s.logger.Info("call schedule already exists, skipping generation",
			zap.String("patient_id", patient.ID),
		)
	}
	return created, nil
}
