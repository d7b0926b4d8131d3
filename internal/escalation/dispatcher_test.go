package escalation

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"postop-checkin/pkg"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	alerts        []*pkg.ClinicalAlert
	notifications []*pkg.Notification
	marks         map[string]pkg.NotificationStatus
	markErrs      map[string]string
}

func newMemStore() *memStore {
	return &memStore{
		marks:    make(map[string]pkg.NotificationStatus),
		markErrs: make(map[string]string),
	}
}

func (m *memStore) FindOpenByCategory(ctx context.Context, sessionID, category string) (*pkg.ClinicalAlert, error) {
	for _, a := range m.alerts {
		if a.CallSessionID == sessionID && a.Category == category && a.Status == pkg.AlertOpen {
			copied := *a
			return &copied, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateAlert(ctx context.Context, a *pkg.ClinicalAlert) error {
	a.ID = fmt.Sprintf("alert-%d", len(m.alerts)+1)
	a.Status = pkg.AlertOpen
	stored := *a
	m.alerts = append(m.alerts, &stored)
	return nil
}

func (m *memStore) UpdateAlert(ctx context.Context, id, description string, severity pkg.RiskLevel) error {
	for _, a := range m.alerts {
		if a.ID == id {
			a.Description = description
			a.Severity = severity
			return nil
		}
	}
	return errors.New("alert not found")
}

func (m *memStore) CreateNotification(ctx context.Context, n *pkg.Notification) error {
	n.ID = fmt.Sprintf("notif-%d", len(m.notifications)+1)
	n.Status = pkg.NotifyPending
	stored := *n
	m.notifications = append(m.notifications, &stored)
	return nil
}

func (m *memStore) MarkNotification(ctx context.Context, id string, status pkg.NotificationStatus, deliveryErr string) error {
	m.marks[id] = status
	m.markErrs[id] = deliveryErr
	return nil
}

type memSender struct {
	sent []pkg.Notification
	err  error
}

func (s *memSender) Send(ctx context.Context, n pkg.Notification) (pkg.NotificationStatus, error) {
	s.sent = append(s.sent, n)
	if s.err != nil {
		return pkg.NotifyFailed, s.err
	}
	return pkg.NotifySent, nil
}

func testSession() *pkg.CallSession {
	return &pkg.CallSession{ID: "session-1", PatientID: "patient-1"}
}

func testPatient() *pkg.Patient {
	return &pkg.Patient{ID: "patient-1", PhysicianID: "dr-house"}
}

func highAssessment() pkg.Assessment {
	return pkg.Assessment{
		Risk:     pkg.RiskHigh,
		Escalate: true,
		Concerns: []pkg.Concern{{Category: "infection", Detail: "redness and warmth at the incision"}},
	}
}

func TestDispatch_NoopBelowThreshold(t *testing.T) {
	store := newMemStore()
	d := NewDispatcher(store, &memSender{}, nil, "coord-1", zap.NewNop())

	touched, err := d.Dispatch(context.Background(), testSession(), testPatient(), pkg.Assessment{
		Risk: pkg.RiskMedium, Escalate: false,
		Concerns: []pkg.Concern{{Category: "severe_pain", Detail: "pain 7/10"}},
	})
	require.NoError(t, err)
	assert.Empty(t, touched)
	assert.Empty(t, store.alerts)
	assert.Empty(t, store.notifications)
}

func TestDispatch_CreatesAlertAndNotifiesPhysician(t *testing.T) {
	store := newMemStore()
	sender := &memSender{}
	d := NewDispatcher(store, sender, nil, "coord-1", zap.NewNop())

	touched, err := d.Dispatch(context.Background(), testSession(), testPatient(), highAssessment())
	require.NoError(t, err)
	require.Len(t, touched, 1)

	require.Len(t, store.alerts, 1)
	alert := store.alerts[0]
	assert.Equal(t, "patient-1", alert.PatientID)
	assert.Equal(t, "session-1", alert.CallSessionID)
	assert.Equal(t, pkg.RiskHigh, alert.Severity)
	assert.Equal(t, "infection", alert.Category)
	assert.Equal(t, "Possible surgical-site infection", alert.Title)
	assert.Equal(t, pkg.AlertOpen, alert.Status)
	require.NotNil(t, alert.AssignedStaffID)
	assert.Equal(t, "dr-house", *alert.AssignedStaffID)

	// High severity routes one SMS to the attending physician.
	require.Len(t, store.notifications, 1)
	n := store.notifications[0]
	assert.Equal(t, "dr-house", n.RecipientID)
	assert.Equal(t, RolePhysician, n.RecipientRole)
	assert.Equal(t, "sms", n.Channel)
	assert.Equal(t, "high", n.Priority)
	assert.Equal(t, pkg.NotifySent, store.marks[n.ID])
}

func TestDispatch_CriticalNotifiesCoordinatorToo(t *testing.T) {
	store := newMemStore()
	sender := &memSender{}
	d := NewDispatcher(store, sender, nil, "coord-1", zap.NewNop())

	_, err := d.Dispatch(context.Background(), testSession(), testPatient(), pkg.Assessment{
		Risk:     pkg.RiskCritical,
		Escalate: true,
		Concerns: []pkg.Concern{{Category: "multiple_severe_symptoms", Detail: "severe pain with breathing difficulty"}},
	})
	require.NoError(t, err)

	// physician sms + coordinator sms + coordinator pager
	require.Len(t, store.notifications, 3)
	byRecipient := make(map[string][]string)
	for _, n := range store.notifications {
		byRecipient[n.RecipientID] = append(byRecipient[n.RecipientID], n.Channel)
		assert.Equal(t, "urgent", n.Priority)
	}
	assert.Equal(t, []string{"sms"}, byRecipient["dr-house"])
	assert.Equal(t, []string{"sms", "pager"}, byRecipient["coord-1"])
}

func TestDispatch_RepeatedConcernUpdatesExistingAlert(t *testing.T) {
	store := newMemStore()
	sender := &memSender{}
	d := NewDispatcher(store, sender, nil, "coord-1", zap.NewNop())
	ctx := context.Background()

	_, err := d.Dispatch(ctx, testSession(), testPatient(), highAssessment())
	require.NoError(t, err)

	// A later turn in the same call escalates the same category with a new
	// finding and a higher severity.
	second := pkg.Assessment{
		Risk:     pkg.RiskCritical,
		Escalate: true,
		Concerns: []pkg.Concern{{Category: "infection", Detail: "fever of 101"}},
	}
	touched, err := d.Dispatch(ctx, testSession(), testPatient(), second)
	require.NoError(t, err)
	require.Len(t, touched, 1)

	// Still exactly one alert, with the description extended and the
	// severity raised; no duplicate notifications were queued.
	require.Len(t, store.alerts, 1)
	alert := store.alerts[0]
	assert.Contains(t, alert.Description, "redness and warmth at the incision")
	assert.Contains(t, alert.Description, "fever of 101")
	assert.Equal(t, pkg.RiskCritical, alert.Severity)
	assert.Len(t, store.notifications, 1)
}

func TestDispatch_DuplicateDetailNotAppendedTwice(t *testing.T) {
	store := newMemStore()
	d := NewDispatcher(store, &memSender{}, nil, "coord-1", zap.NewNop())
	ctx := context.Background()

	_, err := d.Dispatch(ctx, testSession(), testPatient(), highAssessment())
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, testSession(), testPatient(), highAssessment())
	require.NoError(t, err)

	assert.Equal(t, "redness and warmth at the incision", store.alerts[0].Description)
}

func TestDispatch_DistinctConcernsGetDistinctAlerts(t *testing.T) {
	store := newMemStore()
	d := NewDispatcher(store, &memSender{}, nil, "coord-1", zap.NewNop())

	_, err := d.Dispatch(context.Background(), testSession(), testPatient(), pkg.Assessment{
		Risk:     pkg.RiskHigh,
		Escalate: true,
		Concerns: []pkg.Concern{
			{Category: "infection", Detail: "redness and warmth"},
			{Category: "severe_pain", Detail: "pain 9/10"},
		},
	})
	require.NoError(t, err)
	require.Len(t, store.alerts, 2)
	assert.Equal(t, "infection", store.alerts[0].Category)
	assert.Equal(t, "severe_pain", store.alerts[1].Category)
	assert.Equal(t, "Severe pain reported", store.alerts[1].Title)
}

func TestDispatch_DeliveryFailureDoesNotBlockAlert(t *testing.T) {
	store := newMemStore()
	sender := &memSender{err: errors.New("gateway unreachable")}
	d := NewDispatcher(store, sender, nil, "coord-1", zap.NewNop())

	touched, err := d.Dispatch(context.Background(), testSession(), testPatient(), highAssessment())
	require.NoError(t, err, "delivery failure must not surface from Dispatch")
	require.Len(t, touched, 1)
	require.Len(t, store.alerts, 1)

	// The failure is recorded on the notification row.
	require.Len(t, store.notifications, 1)
	id := store.notifications[0].ID
	assert.Equal(t, pkg.NotifyFailed, store.marks[id])
	assert.Equal(t, "gateway unreachable", store.markErrs[id])
}

func TestDispatch_MissingCoordinatorSkipsThatRole(t *testing.T) {
	store := newMemStore()
	d := NewDispatcher(store, &memSender{}, nil, "", zap.NewNop())

	_, err := d.Dispatch(context.Background(), testSession(), testPatient(), pkg.Assessment{
		Risk:     pkg.RiskCritical,
		Escalate: true,
		Concerns: []pkg.Concern{{Category: "chest_pain", Detail: "chest pain reported"}},
	})
	require.NoError(t, err)

	// Only the physician notification goes out.
	require.Len(t, store.notifications, 1)
	assert.Equal(t, RolePhysician, store.notifications[0].RecipientRole)
}

type countingAnnouncer struct{ ids []string }

func (c *countingAnnouncer) Notify(ctx context.Context, alertID string) error {
	c.ids = append(c.ids, alertID)
	return nil
}

func TestDispatch_AnnouncesTouchedAlerts(t *testing.T) {
	store := newMemStore()
	ann := &countingAnnouncer{}
	d := NewDispatcher(store, &memSender{}, ann, "coord-1", zap.NewNop())
	ctx := context.Background()

	_, err := d.Dispatch(ctx, testSession(), testPatient(), highAssessment())
	require.NoError(t, err)
	_, err = d.Dispatch(ctx, testSession(), testPatient(), highAssessment())
	require.NoError(t, err)

	assert.Equal(t, []string{"alert-1", "alert-1"}, ann.ids)
}
