package services

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
	"github.com/tbourn/go-interpreter-orders/internal/notify"
	"github.com/tbourn/go-interpreter-orders/internal/repo"
	"github.com/tbourn/go-interpreter-orders/internal/timeframe"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:services_%s?mode=memory&cache=shared&_pragma=foreign_keys(1)", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Exec("PRAGMA foreign_keys=ON;").Error)
	require.NoError(t, repo.AutoMigrate(db))
	return db
}

// statementCounter counts write statements per table.
type statementCounter struct {
	mu      sync.Mutex
	updates map[string]int
	deletes map[string]int
}

func countStatements(t *testing.T, db *gorm.DB) *statementCounter {
	t.Helper()
	c := &statementCounter{updates: map[string]int{}, deletes: map[string]int{}}
	name := "test:count_" + uuid.NewString()
	require.NoError(t, db.Callback().Update().After("gorm:update").Register(name, func(tx *gorm.DB) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.updates[tx.Statement.Table]++
	}))
	require.NoError(t, db.Callback().Delete().After("gorm:delete").Register(name, func(tx *gorm.DB) {
		c.mu.Lock()
		defer c.mu.Unlock()
		c.deletes[tx.Statement.Table]++
	}))
	return c
}

func (c *statementCounter) updatesOf(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.updates[table]
}

func (c *statementCounter) deletesOf(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.deletes[table]
}

func seedAppointment(t *testing.T, db *gorm.DB, mutate func(*domain.Appointment)) *domain.Appointment {
	t.Helper()
	a := &domain.Appointment{
		PlatformID:            "BK-" + uuid.NewString()[:8],
		SchedulingType:        domain.SchedulingPreBooked,
		CommunicationType:     domain.CommunicationVideo,
		InterpretingType:      domain.InterpretingConsecutive,
		Status:                domain.StatusAccepted,
		ClientID:              domain.String("client-1"),
		ScheduledStartTime:    t0,
		SchedulingDurationMin: 60,
		Reminder:              &domain.AppointmentReminder{RemindAt: t0.Add(-time.Hour)},
		MeetingConfiguration:  &domain.MeetingConfiguration{MediaRegion: "ap-southeast-2"},
		AdminInfo:             &domain.AppointmentAdminInfo{},
	}
	if mutate != nil {
		mutate(a)
	}
	require.NoError(t, repo.CreateAppointment(context.Background(), db, a))
	return a
}

func seedOrder(t *testing.T, db *gorm.DB, a *domain.Appointment, groupID *string) *domain.AppointmentOrder {
	t.Helper()
	o := &domain.AppointmentOrder{
		AppointmentID:      a.ID,
		PlatformID:         a.PlatformID,
		SchedulingType:     a.SchedulingType,
		ScheduledStartTime: a.ScheduledStartTime,
		OrderGroupID:       groupID,
		IsOrderGroup:       groupID != nil,
	}
	if groupID == nil {
		o.SearchPlan = freshPlan(true)
	}
	require.NoError(t, repo.CreateOrder(context.Background(), db, o))
	return o
}

func seedGroup(t *testing.T, db *gorm.DB, sameInterpreter bool) *domain.OrderGroup {
	t.Helper()
	g := &domain.OrderGroup{
		AppointmentsGroupID: "series-" + uuid.NewString()[:8],
		PlatformID:          "GR-1",
		ClientID:            "client-1",
		SameInterpreter:     sameInterpreter,
		SearchPlan:          freshPlan(false),
	}
	require.NoError(t, repo.CreateOrderGroup(context.Background(), db, g))
	return g
}

// seedGroupLegs creates n appointments with orders in g, one hour apart.
func seedGroupLegs(t *testing.T, db *gorm.DB, g *domain.OrderGroup, n int, mutate func(i int, a *domain.Appointment)) []*domain.Appointment {
	t.Helper()
	out := make([]*domain.Appointment, 0, n)
	for i := 0; i < n; i++ {
		a := seedAppointment(t, db, func(a *domain.Appointment) {
			a.AppointmentsGroupID = &g.AppointmentsGroupID
			a.ScheduledStartTime = t0.Add(time.Duration(i) * time.Hour)
			if mutate != nil {
				mutate(i, a)
			}
		})
		seedOrder(t, db, a, &g.ID)
		out = append(out, a)
	}
	return out
}

func freshPlan(hasInterpreters bool) domain.SearchPlan {
	return domain.SearchPlan{
		IsFirstSearchCompleted:   domain.Bool(false),
		IsSecondSearchCompleted:  domain.Bool(false),
		IsSearchNeeded:           domain.Bool(true),
		IsCompanyHasInterpreters: domain.Bool(hasInterpreters),
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, db.Model(model).Count(&n).Error)
	return n
}

// sent is one captured notification.
type sent struct {
	Event      notify.Event
	Recipient  string
	PlatformID string
}

// recordingNotifier captures notifications synchronously.
type recordingNotifier struct {
	mu  sync.Mutex
	got []sent
}

func (r *recordingNotifier) add(ev notify.Event, to, pid string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.got = append(r.got, sent{ev, to, pid})
}

func (r *recordingNotifier) OrderAccepted(_ context.Context, to, pid string, _ notify.Detail) {
	r.add(notify.EventOrderAccepted, to, pid)
}

func (r *recordingNotifier) OrderCancelled(_ context.Context, to, pid string, _ notify.Detail) {
	r.add(notify.EventOrderCancelled, to, pid)
}

func (r *recordingNotifier) GroupCancelled(_ context.Context, to, pid string, _ notify.Detail) {
	r.add(notify.EventGroupCancelled, to, pid)
}

func (r *recordingNotifier) RepeatInvitation(_ context.Context, to, pid string, _ notify.Detail) {
	r.add(notify.EventRepeatInvitation, to, pid)
}

func (r *recordingNotifier) RedFlag(_ context.Context, to, pid string, _ notify.Detail) {
	r.add(notify.EventRedFlag, to, pid)
}

func (r *recordingNotifier) all() []sent {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]sent(nil), r.got...)
}

// fakeMeetings records teardown calls.
type fakeMeetings struct {
	calls  atomic.Int32
	err    error
	during func()
}

func (f *fakeMeetings) DeleteMeeting(context.Context, *domain.MeetingConfiguration) error {
	f.calls.Add(1)
	if f.during != nil {
		f.during()
	}
	return f.err
}

// fixedTimeFrames returns the same plan for every call.
type fixedTimeFrames struct {
	plan timeframe.Plan
}

func (f fixedTimeFrames) CalculateInitialTimeFrames(domain.CommunicationType, time.Time) timeframe.Plan {
	return f.plan
}

func someTimePlan() timeframe.Plan {
	next := t0.Add(-time.Hour).Add(5 * time.Minute)
	interval := 5 * time.Minute
	end := t0.Add(-15 * time.Minute)
	return timeframe.Plan{
		NextRepeatTime:   &next,
		RepeatInterval:   &interval,
		RemainingRepeats: domain.Int(8),
		NotifyAdmin:      domain.Bool(true),
		EndSearchTime:    &end,
	}
}
