package schedule

import (
	"context"
	"testing"
	"time"

	"postop-checkin/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestGenerate_FullSchedule(t *testing.T) {
	sessions := Generate("patient-1", date(2025, time.August, 15))
	require.Len(t, sessions, 6)

	want := []struct {
		date     time.Time
		offset   int
		callType pkg.CallType
	}{
		{date(2025, time.July, 4), -42, pkg.CallEnrollment},
		{date(2025, time.July, 18), -28, pkg.CallEducation},
		{date(2025, time.July, 25), -21, pkg.CallEducation},
		{date(2025, time.August, 1), -14, pkg.CallPreparation},
		{date(2025, time.August, 8), -7, pkg.CallPreparation},
		{date(2025, time.August, 14), -1, pkg.CallFinalPrep},
	}
	for i, w := range want {
		s := sessions[i]
		assert.True(t, w.date.Equal(s.ScheduledDate), "session %d date: want %s got %s", i, w.date, s.ScheduledDate)
		assert.Equal(t, w.offset, s.DaysFromSurgery)
		assert.Equal(t, w.callType, s.CallType)
		assert.Equal(t, "patient-1", s.PatientID)
		assert.Equal(t, pkg.StagePreOp, s.Stage)
		assert.Equal(t, pkg.StatusScheduled, s.CallStatus)
		assert.Equal(t, 1, s.Attempt)
		assert.NotEmpty(t, s.ID)
	}
}

func TestGenerate_PlainDateArithmetic(t *testing.T) {
	// Across a leap February.
	sessions := Generate("p", date(2024, time.March, 1))
	assert.True(t, date(2024, time.January, 19).Equal(sessions[0].ScheduledDate))
	assert.True(t, date(2024, time.February, 29).Equal(sessions[5].ScheduledDate))

	// Across a year boundary.
	sessions = Generate("p", date(2026, time.January, 15))
	assert.True(t, date(2025, time.December, 4).Equal(sessions[0].ScheduledDate))
	assert.True(t, date(2026, time.January, 14).Equal(sessions[5].ScheduledDate))

	// Weekends get no special handling: 2025-08-09 is a Saturday.
	sessions = Generate("p", date(2025, time.August, 16))
	assert.True(t, date(2025, time.August, 9).Equal(sessions[4].ScheduledDate))
	assert.Equal(t, time.Saturday, sessions[4].ScheduledDate.Weekday())
}

func TestGenerate_UniqueIDs(t *testing.T) {
	sessions := Generate("p", date(2025, time.August, 15))
	seen := make(map[string]bool)
	for _, s := range sessions {
		assert.False(t, seen[s.ID])
		seen[s.ID] = true
	}
}

type fakeStore struct {
	created  bool
	err      error
	received [][]pkg.CallSession
}

func (f *fakeStore) CreateSchedule(ctx context.Context, sessions []pkg.CallSession) (bool, error) {
	f.received = append(f.received, sessions)
	return f.created, f.err
}

func TestEnroll_PersistsGeneratedSchedule(t *testing.T) {
	store := &fakeStore{created: true}
	svc := NewService(store, zap.NewNop())

	created, err := svc.Enroll(context.Background(), &pkg.Patient{
		ID:          "patient-1",
		SurgeryDate: date(2025, time.August, 15),
	})
	require.NoError(t, err)
	assert.True(t, created)
	require.Len(t, store.received, 1)
	assert.Len(t, store.received[0], 6)
}

func TestEnroll_ExistingScheduleIsNoop(t *testing.T) {
	store := &fakeStore{created: false}
	svc := NewService(store, zap.NewNop())

	created, err := svc.Enroll(context.Background(), &pkg.Patient{
		ID:          "patient-1",
		SurgeryDate: date(2025, time.August, 15),
	})
	require.NoError(t, err)
	assert.False(t, created)
}
