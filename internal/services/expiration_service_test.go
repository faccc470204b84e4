package services

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
	"github.com/tbourn/go-interpreter-orders/internal/notify"
	"github.com/tbourn/go-interpreter-orders/internal/repo"
)

func newExpirationService(db *gorm.DB, n notify.Notifier, m *fakeMeetings) *ExpirationService {
	return &ExpirationService{DB: db, Meetings: m, Notifier: n}
}

func appointmentStatus(t *testing.T, db *gorm.DB, id string) domain.AppointmentStatus {
	t.Helper()
	var a domain.Appointment
	require.NoError(t, db.First(&a, "id = ?", id).Error)
	return a.Status
}

func assertUntouched(t *testing.T, db *gorm.DB, reminders, configs, orders int64) {
	t.Helper()
	assert.Equal(t, reminders, countRows(t, db, &domain.AppointmentReminder{}))
	assert.Equal(t, configs, countRows(t, db, &domain.MeetingConfiguration{}))
	assert.Equal(t, orders, countRows(t, db, &domain.AppointmentOrder{}))
	var cancelled int64
	require.NoError(t, db.Model(&domain.Appointment{}).Where("status = ?", domain.StatusCancelledBySystem).Count(&cancelled).Error)
	assert.Zero(t, cancelled)
}

func TestCancelOrder_OnDemandVideoFullCleanup(t *testing.T) {
	db := newTestDB(t)
	a := seedAppointment(t, db, func(a *domain.Appointment) {
		a.SchedulingType = domain.SchedulingOnDemand
		a.MeetingConfiguration.ExternalMeetingID = domain.String("chime-1")
		a.AdminInfo.IsRedFlagEnabled = true
	})
	o := seedOrder(t, db, a, nil)
	n, m := &recordingNotifier{}, &fakeMeetings{}

	require.NoError(t, newExpirationService(db, n, m).CancelExpiredAppointmentOrder(context.Background(), o))

	assert.Zero(t, countRows(t, db, &domain.AppointmentReminder{}))
	assert.Zero(t, countRows(t, db, &domain.MeetingConfiguration{}))
	assert.Zero(t, countRows(t, db, &domain.AppointmentOrder{}))
	assert.Equal(t, int32(1), m.calls.Load())
	assert.Equal(t, domain.StatusCancelledBySystem, appointmentStatus(t, db, a.ID))

	got, err := repo.GetAppointmentForCancellation(context.Background(), db, a.ID)
	require.NoError(t, err)
	assert.False(t, got.IsRedFlagged())

	assert.Equal(t, []sent{{notify.EventOrderCancelled, "client-1", a.PlatformID}}, n.all())
}

func TestCancelOrder_PreBookedKeepsExternalMeetingAlone(t *testing.T) {
	db := newTestDB(t)
	a := seedAppointment(t, db, func(a *domain.Appointment) {
		a.MeetingConfiguration.ExternalMeetingID = domain.String("chime-2")
	})
	o := seedOrder(t, db, a, nil)
	m := &fakeMeetings{}

	require.NoError(t, newExpirationService(db, &recordingNotifier{}, m).CancelExpiredAppointmentOrder(context.Background(), o))
	assert.Zero(t, m.calls.Load())
	assert.Zero(t, countRows(t, db, &domain.MeetingConfiguration{}))
}

func TestCancelOrder_AlternativePlatformNeedsNoMeetingConfig(t *testing.T) {
	db := newTestDB(t)
	a := seedAppointment(t, db, func(a *domain.Appointment) {
		a.AlternativePlatform = true
		a.MeetingConfiguration = nil
	})
	o := seedOrder(t, db, a, nil)
	counter := countStatements(t, db)

	require.NoError(t, newExpirationService(db, &recordingNotifier{}, &fakeMeetings{}).CancelExpiredAppointmentOrder(context.Background(), o))
	assert.Equal(t, domain.StatusCancelledBySystem, appointmentStatus(t, db, a.ID))
	assert.Zero(t, counter.deletesOf("meeting_configurations"))
}

func TestCancelOrder_FailFastOnMissingResources(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.Appointment)
		noOrd  bool
		want   error
	}{
		{"missing reminder", func(a *domain.Appointment) { a.Reminder = nil }, false, ErrReminderMissing},
		{"missing meeting config", func(a *domain.Appointment) { a.MeetingConfiguration = nil }, false, ErrMeetingConfigMissing},
		{"missing client", func(a *domain.Appointment) { a.ClientID = nil }, false, ErrAppointmentClientMissing},
		{"missing order", nil, true, ErrOrderMissing},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			db := newTestDB(t)
			a := seedAppointment(t, db, tc.mutate)
			o := &domain.AppointmentOrder{ID: "ghost", AppointmentID: a.ID}
			if !tc.noOrd {
				o = seedOrder(t, db, a, nil)
			}
			reminders := countRows(t, db, &domain.AppointmentReminder{})
			configs := countRows(t, db, &domain.MeetingConfiguration{})
			orders := countRows(t, db, &domain.AppointmentOrder{})
			n := &recordingNotifier{}

			err := newExpirationService(db, n, &fakeMeetings{}).CancelExpiredAppointmentOrder(context.Background(), o)
			assert.ErrorIs(t, err, tc.want)
			assert.ErrorIs(t, err, ErrNotFound)
			assertUntouched(t, db, reminders, configs, orders)
			assert.Empty(t, n.all())
		})
	}
}

func TestCancelOrder_TeardownFailureRollsBack(t *testing.T) {
	db := newTestDB(t)
	a := seedAppointment(t, db, func(a *domain.Appointment) {
		a.SchedulingType = domain.SchedulingOnDemand
		a.CommunicationType = domain.CommunicationAudio
		a.MeetingConfiguration.ExternalMeetingID = domain.String("chime-3")
	})
	o := seedOrder(t, db, a, nil)
	m := &fakeMeetings{err: errors.New("meetings api down")}
	n := &recordingNotifier{}

	err := newExpirationService(db, n, m).CancelExpiredAppointmentOrder(context.Background(), o)
	require.Error(t, err)
	assertUntouched(t, db, 1, 1, 1)
	assert.Empty(t, n.all())
}

func TestCancelOrder_TeardownRunsBeforeWrites(t *testing.T) {
	db := newTestDB(t)
	a := seedAppointment(t, db, func(a *domain.Appointment) {
		a.SchedulingType = domain.SchedulingOnDemand
		a.MeetingConfiguration.ExternalMeetingID = domain.String("chime-4")
	})
	o := seedOrder(t, db, a, nil)

	// The test pool has one connection, so this read would block if the
	// teardown ran inside the write transaction.
	var configs, orders int64
	m := &fakeMeetings{during: func() {
		configs = countRows(t, db, &domain.MeetingConfiguration{})
		orders = countRows(t, db, &domain.AppointmentOrder{})
	}}

	require.NoError(t, newExpirationService(db, nil, m).CancelExpiredAppointmentOrder(context.Background(), o))
	assert.Equal(t, int32(1), m.calls.Load())
	assert.Equal(t, int64(1), configs)
	assert.Equal(t, int64(1), orders)
	assert.Zero(t, countRows(t, db, &domain.MeetingConfiguration{}))
	assert.Equal(t, domain.StatusCancelledBySystem, appointmentStatus(t, db, a.ID))
}

func TestCancelOrder_GroupMemberRemovesEmptyGroup(t *testing.T) {
	db := newTestDB(t)
	g := seedGroup(t, db, false)
	legs := seedGroupLegs(t, db, g, 1, nil)
	var o domain.AppointmentOrder
	require.NoError(t, db.First(&o, "appointment_id = ?", legs[0].ID).Error)

	require.NoError(t, newExpirationService(db, nil, &fakeMeetings{}).CancelExpiredAppointmentOrder(context.Background(), &o))
	assert.Zero(t, countRows(t, db, &domain.OrderGroup{}))
}

// failingSender always fails delivery.
type failingSender struct {
	mu    sync.Mutex
	tries int
}

func (f *failingSender) Send(context.Context, notify.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tries++
	return errors.New("smtp: connection refused")
}

func TestCancelOrder_NotificationFailureDoesNotAffectCancellation(t *testing.T) {
	db := newTestDB(t)
	a := seedAppointment(t, db, nil)
	o := seedOrder(t, db, a, nil)
	s := &failingSender{}
	d := notify.NewDispatcher(s, zerolog.Nop(), notify.Options{})

	require.NoError(t, newExpirationService(db, d, &fakeMeetings{}).CancelExpiredAppointmentOrder(context.Background(), o))
	d.Wait()

	assert.Equal(t, 1, s.tries)
	assert.Equal(t, domain.StatusCancelledBySystem, appointmentStatus(t, db, a.ID))
	assert.Zero(t, countRows(t, db, &domain.AppointmentReminder{}))
	assert.Zero(t, countRows(t, db, &domain.AppointmentOrder{}))
}

func TestCancelGroup_BatchesEveryResource(t *testing.T) {
	db := newTestDB(t)
	g := seedGroup(t, db, false)
	legs := seedGroupLegs(t, db, g, 3, func(i int, a *domain.Appointment) {
		if i == 1 {
			a.InterpreterID = domain.String("I1")
			a.AdminInfo.IsRedFlagEnabled = true
		}
		if i == 2 {
			a.CommunicationType = domain.CommunicationFaceToFace
			a.MeetingConfiguration = nil
		}
	})
	other := seedAppointment(t, db, nil)
	seedOrder(t, db, other, nil)
	counter := countStatements(t, db)
	n := &recordingNotifier{}

	require.NoError(t, newExpirationService(db, n, &fakeMeetings{}).CancelExpiredGroupAppointmentOrders(context.Background(), g))

	assert.Equal(t, 1, counter.deletesOf("appointment_reminders"))
	assert.Equal(t, 1, counter.deletesOf("meeting_configurations"))
	assert.Equal(t, 1, counter.deletesOf("appointment_orders"))
	assert.Equal(t, 1, counter.updatesOf("appointments"))
	assert.Equal(t, 1, counter.updatesOf("appointment_admin_info"))

	assert.Equal(t, int64(1), countRows(t, db, &domain.AppointmentReminder{}))
	assert.Equal(t, int64(1), countRows(t, db, &domain.MeetingConfiguration{}))
	assert.Equal(t, int64(1), countRows(t, db, &domain.AppointmentOrder{}))
	assert.Zero(t, countRows(t, db, &domain.OrderGroup{}))
	for _, a := range legs {
		assert.Equal(t, domain.StatusCancelledBySystem, appointmentStatus(t, db, a.ID))
	}
	assert.Equal(t, domain.StatusAccepted, appointmentStatus(t, db, other.ID))

	assert.ElementsMatch(t, []sent{
		{notify.EventGroupCancelled, "client-1", g.PlatformID},
		{notify.EventOrderCancelled, "I1", legs[1].PlatformID},
	}, n.all())
}

func TestCancelGroup_AllFaceToFaceSkipsMeetingDelete(t *testing.T) {
	db := newTestDB(t)
	g := seedGroup(t, db, false)
	seedGroupLegs(t, db, g, 2, func(_ int, a *domain.Appointment) {
		a.CommunicationType = domain.CommunicationFaceToFace
		a.MeetingConfiguration = nil
	})
	counter := countStatements(t, db)

	require.NoError(t, newExpirationService(db, &recordingNotifier{}, &fakeMeetings{}).CancelExpiredGroupAppointmentOrders(context.Background(), g))
	assert.Zero(t, counter.deletesOf("meeting_configurations"))
	assert.Zero(t, counter.updatesOf("appointment_admin_info"))
}

func TestCancelGroup_SameInterpreterSendsOnlyGroupNotice(t *testing.T) {
	db := newTestDB(t)
	g := seedGroup(t, db, true)
	seedGroupLegs(t, db, g, 2, func(_ int, a *domain.Appointment) { a.InterpreterID = domain.String("I9") })
	n := &recordingNotifier{}

	require.NoError(t, newExpirationService(db, n, &fakeMeetings{}).CancelExpiredGroupAppointmentOrders(context.Background(), g))
	assert.Equal(t, []sent{{notify.EventGroupCancelled, "client-1", g.PlatformID}}, n.all())
}

func TestCancelGroup_OneInvalidLegAbortsAll(t *testing.T) {
	db := newTestDB(t)
	g := seedGroup(t, db, false)
	seedGroupLegs(t, db, g, 3, func(i int, a *domain.Appointment) {
		if i == 2 {
			a.Reminder = nil
		}
	})
	n := &recordingNotifier{}

	err := newExpirationService(db, n, &fakeMeetings{}).CancelExpiredGroupAppointmentOrders(context.Background(), g)
	assert.ErrorIs(t, err, ErrReminderMissing)
	assertUntouched(t, db, 2, 3, 3)
	assert.Equal(t, int64(1), countRows(t, db, &domain.OrderGroup{}))
	assert.Empty(t, n.all())
}

func TestCancelGroup_NoAppointments(t *testing.T) {
	db := newTestDB(t)
	g := seedGroup(t, db, false)
	err := newExpirationService(db, nil, nil).CancelExpiredGroupAppointmentOrders(context.Background(), g)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestCancelGroup_NotificationFailureDoesNotAffectCancellation(t *testing.T) {
	db := newTestDB(t)
	g := seedGroup(t, db, false)
	legs := seedGroupLegs(t, db, g, 2, func(_ int, a *domain.Appointment) { a.InterpreterID = domain.String("I2") })
	s := &failingSender{}
	d := notify.NewDispatcher(s, zerolog.Nop(), notify.Options{})

	require.NoError(t, newExpirationService(db, d, &fakeMeetings{}).CancelExpiredGroupAppointmentOrders(context.Background(), g))
	d.Wait()

	assert.Equal(t, 3, s.tries)
	for _, a := range legs {
		assert.Equal(t, domain.StatusCancelledBySystem, appointmentStatus(t, db, a.ID))
	}
	assert.Zero(t, countRows(t, db, &domain.OrderGroup{}))
}

func TestIntegrity_ClassifiesEmptyBatch(t *testing.T) {
	err := integrity(repo.ErrEmptyBatch)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, err, repo.ErrEmptyBatch)
	assert.NoError(t, integrity(nil))
	other := errors.New("disk full")
	assert.Same(t, other, integrity(other))
}
