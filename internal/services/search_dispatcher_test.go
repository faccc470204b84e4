package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
	"github.com/tbourn/go-interpreter-orders/internal/repo"
	"github.com/tbourn/go-interpreter-orders/internal/search"
)

// engineSpy records calls and delegates to fn.
type engineSpy struct {
	calls int
	last  *search.Context
	fn    func(ctx context.Context, sc *search.Context) error
}

func (e *engineSpy) Run(ctx context.Context, sc *search.Context) error {
	e.calls++
	e.last = sc
	if e.fn == nil {
		return nil
	}
	return e.fn(ctx, sc)
}

func newDispatcher(db *gorm.DB, onDemand, preBooked, group search.Engine) *SearchDispatcher {
	return &SearchDispatcher{
		DB:                  db,
		OnDemand:            onDemand,
		PreBookedIndividual: preBooked,
		PreBookedGroup:      group,
		Now:                 func() time.Time { return t0 },
	}
}

func loadOrder(t *testing.T, db *gorm.DB, id string) *domain.AppointmentOrder {
	t.Helper()
	o, err := repo.GetOrderWithAppointment(context.Background(), db, id)
	require.NoError(t, err)
	return o
}

func TestDispatchIndividual_CommitsEngineFlags(t *testing.T) {
	db := newTestDB(t)
	o := seedOrder(t, db, seedAppointment(t, db, nil), nil)
	restart := t0.Add(15 * time.Minute)
	engine := &engineSpy{fn: func(_ context.Context, sc *search.Context) error {
		sc.IsFirstSearchCompleted = true
		sc.TimeToRestart = &restart
		return nil
	}}
	d := newDispatcher(db, &engineSpy{}, engine, nil)

	require.NoError(t, d.LaunchSearchForIndividualOrder(context.Background(), o.ID))
	require.Equal(t, 1, engine.calls)

	sc := engine.last
	assert.True(t, sc.SendNotifications)
	assert.True(t, sc.SetRedFlags)
	assert.True(t, sc.IsCompanyHasInterpreters)
	assert.Equal(t, domain.SchedulingPreBooked, sc.SchedulingType)
	assert.Nil(t, sc.Group)

	got := loadOrder(t, db, o.ID)
	assert.True(t, *got.IsFirstSearchCompleted)
	assert.False(t, *got.IsSecondSearchCompleted)
	assert.True(t, *got.IsSearchNeeded)
	require.NotNil(t, got.TimeToRestart)
	assert.True(t, got.TimeToRestart.Equal(restart))
}

func TestDispatchIndividual_EngineSavedSkipsCommit(t *testing.T) {
	db := newTestDB(t)
	o := seedOrder(t, db, seedAppointment(t, db, nil), nil)
	counter := countStatements(t, db)
	engine := &engineSpy{fn: func(ctx context.Context, sc *search.Context) error {
		if err := repo.RemoveOrder(ctx, db, sc.Order); err != nil {
			return err
		}
		sc.IsSearchNeeded = false
		sc.MarkSaved()
		return nil
	}}
	d := newDispatcher(db, nil, engine, nil)

	require.NoError(t, d.LaunchSearchForIndividualOrder(context.Background(), o.ID))
	_, err := repo.GetOrderWithAppointment(context.Background(), db, o.ID)
	assert.ErrorIs(t, err, repo.ErrNotFound)
	assert.Zero(t, counter.updatesOf("appointment_orders"))
}

func TestDispatchIndividual_EngineErrorStillCommits(t *testing.T) {
	db := newTestDB(t)
	o := seedOrder(t, db, seedAppointment(t, db, nil), nil)
	boom := errors.New("ranking unavailable")
	engine := &engineSpy{fn: func(_ context.Context, sc *search.Context) error {
		sc.IsFirstSearchCompleted = true
		sc.IsSecondSearchCompleted = true
		return boom
	}}
	d := newDispatcher(db, nil, engine, nil)

	err := d.LaunchSearchForIndividualOrder(context.Background(), o.ID)
	assert.ErrorIs(t, err, boom)

	got := loadOrder(t, db, o.ID)
	assert.True(t, *got.IsFirstSearchCompleted)
	assert.True(t, *got.IsSecondSearchCompleted)
}

func TestDispatchIndividual_EnginePanicStillCommits(t *testing.T) {
	db := newTestDB(t)
	o := seedOrder(t, db, seedAppointment(t, db, nil), nil)
	engine := &engineSpy{fn: func(_ context.Context, sc *search.Context) error {
		sc.IsFirstSearchCompleted = true
		panic("nil candidate")
	}}
	d := newDispatcher(db, nil, engine, nil)

	err := d.LaunchSearchForIndividualOrder(context.Background(), o.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nil candidate")
	assert.True(t, *loadOrder(t, db, o.ID).IsFirstSearchCompleted)
}

func TestDispatchIndividual_CommitIgnoresCallerCancellation(t *testing.T) {
	db := newTestDB(t)
	o := seedOrder(t, db, seedAppointment(t, db, nil), nil)
	ctx, cancel := context.WithCancel(context.Background())
	engine := &engineSpy{fn: func(_ context.Context, sc *search.Context) error {
		sc.IsFirstSearchCompleted = true
		cancel()
		return nil
	}}
	d := newDispatcher(db, nil, engine, nil)

	require.NoError(t, d.LaunchSearchForIndividualOrder(ctx, o.ID))
	assert.True(t, *loadOrder(t, db, o.ID).IsFirstSearchCompleted)
}

func TestDispatchIndividual_RoutesBySchedulingType(t *testing.T) {
	db := newTestDB(t)
	a := seedAppointment(t, db, func(a *domain.Appointment) { a.SchedulingType = domain.SchedulingOnDemand })
	o := seedOrder(t, db, a, nil)
	onDemand, preBooked := &engineSpy{}, &engineSpy{}
	d := newDispatcher(db, onDemand, preBooked, nil)

	require.NoError(t, d.LaunchSearchForIndividualOrder(context.Background(), o.ID))
	assert.Equal(t, 1, onDemand.calls)
	assert.Zero(t, preBooked.calls)
	assert.Equal(t, domain.SchedulingOnDemand, onDemand.last.SchedulingType)
}

func TestDispatchIndividual_EscortNeverSearches(t *testing.T) {
	db := newTestDB(t)
	a := seedAppointment(t, db, func(a *domain.Appointment) { a.InterpretingType = domain.InterpretingEscort })
	o := seedOrder(t, db, a, nil)
	counter := countStatements(t, db)
	engine := &engineSpy{}
	d := newDispatcher(db, engine, engine, engine)

	require.NoError(t, d.LaunchSearchForIndividualOrder(context.Background(), o.ID))
	assert.Zero(t, engine.calls)
	assert.Zero(t, counter.updatesOf("appointment_orders"))
	assert.Equal(t, domain.PhaseNotStarted, loadOrder(t, db, o.ID).Phase())
}

func TestDispatchIndividual_Validation(t *testing.T) {
	db := newTestDB(t)
	ctx := context.Background()
	engine := &engineSpy{}
	d := newDispatcher(db, engine, engine, engine)

	err := d.LaunchSearchForIndividualOrder(ctx, "missing")
	assert.ErrorIs(t, err, ErrOrderNotFound)

	noAdmin := seedOrder(t, db, seedAppointment(t, db, func(a *domain.Appointment) { a.AdminInfo = nil }), nil)
	err = d.LaunchSearchForIndividualOrder(ctx, noAdmin.ID)
	assert.ErrorIs(t, err, ErrAdminInfoRequired)

	noClient := seedOrder(t, db, seedAppointment(t, db, func(a *domain.Appointment) { a.ClientID = nil }), nil)
	err = d.LaunchSearchForIndividualOrder(ctx, noClient.ID)
	assert.ErrorIs(t, err, ErrClientRequired)

	nullFlags := seedOrder(t, db, seedAppointment(t, db, nil), nil)
	require.NoError(t, db.Model(nullFlags).Update("is_second_search_completed", nil).Error)
	err = d.LaunchSearchForIndividualOrder(ctx, nullFlags.ID)
	assert.ErrorIs(t, err, ErrSearchPlanIncomplete)
	assert.ErrorIs(t, err, ErrValidation)

	assert.Zero(t, engine.calls)
}

func TestDispatchIndividual_MissingEngine(t *testing.T) {
	db := newTestDB(t)
	o := seedOrder(t, db, seedAppointment(t, db, nil), nil)
	d := newDispatcher(db, nil, nil, nil)
	assert.ErrorIs(t, d.LaunchSearchForIndividualOrder(context.Background(), o.ID), ErrNoEngine)
}

func TestDispatchGroup_UsesAnchorAndDefaultRestart(t *testing.T) {
	db := newTestDB(t)
	g := seedGroup(t, db, false)
	legs := seedGroupLegs(t, db, g, 3, nil)
	engine := &engineSpy{fn: func(_ context.Context, sc *search.Context) error {
		sc.IsFirstSearchCompleted = true
		return nil
	}}
	d := newDispatcher(db, nil, nil, engine)

	require.NoError(t, d.LaunchSearchForOrderGroup(context.Background(), g.ID))
	require.Equal(t, 1, engine.calls)
	sc := engine.last
	assert.Equal(t, legs[0].ID, sc.Order.AppointmentID)
	require.NotNil(t, sc.Group)
	assert.Equal(t, g.ID, sc.Group.ID)
	assert.Equal(t, domain.SchedulingPreBooked, sc.SchedulingType)

	got, err := repo.GetOrderGroup(context.Background(), db, g.ID)
	require.NoError(t, err)
	assert.True(t, *got.IsFirstSearchCompleted)
	require.NotNil(t, got.TimeToRestart)
	assert.True(t, got.TimeToRestart.Equal(t0.Add(30*time.Minute)))
}

func TestDispatchGroup_EngineSavedSkipsCommit(t *testing.T) {
	db := newTestDB(t)
	g := seedGroup(t, db, true)
	seedGroupLegs(t, db, g, 2, nil)
	counter := countStatements(t, db)
	engine := &engineSpy{fn: func(ctx context.Context, sc *search.Context) error {
		var orders []domain.AppointmentOrder
		if err := db.Where("order_group_id = ?", sc.Group.ID).Find(&orders).Error; err != nil {
			return err
		}
		if err := repo.RemoveOrders(ctx, db, orders); err != nil {
			return err
		}
		sc.MarkSaved()
		return nil
	}}
	d := newDispatcher(db, nil, nil, engine)

	require.NoError(t, d.LaunchSearchForOrderGroup(context.Background(), g.ID))
	assert.Zero(t, counter.updatesOf("order_groups"))
	assert.Zero(t, countRows(t, db, &domain.OrderGroup{}))
}

func TestDispatchGroup_NoMembers(t *testing.T) {
	db := newTestDB(t)
	g := seedGroup(t, db, false)
	engine := &engineSpy{}
	d := newDispatcher(db, nil, nil, engine)

	err := d.LaunchSearchForOrderGroup(context.Background(), g.ID)
	assert.ErrorIs(t, err, ErrGroupHasNoOrders)
	assert.ErrorIs(t, err, ErrValidation)
	assert.Zero(t, engine.calls)

	assert.ErrorIs(t, d.LaunchSearchForOrderGroup(context.Background(), "missing"), ErrOrderGroupNotFound)
}

func TestDispatchGroup_EscortAnchorNeverSearches(t *testing.T) {
	db := newTestDB(t)
	g := seedGroup(t, db, false)
	seedGroupLegs(t, db, g, 2, func(i int, a *domain.Appointment) {
		if i == 0 {
			a.InterpretingType = domain.InterpretingEscort
		}
	})
	counter := countStatements(t, db)
	engine := &engineSpy{}
	d := newDispatcher(db, nil, nil, engine)

	require.NoError(t, d.LaunchSearchForOrderGroup(context.Background(), g.ID))
	assert.Zero(t, engine.calls)
	assert.Zero(t, counter.updatesOf("order_groups"))
}

func TestDispatchGroup_StepperEndToEnd(t *testing.T) {
	db := newTestDB(t)
	g := seedGroup(t, db, false)
	seedGroupLegs(t, db, g, 2, nil)
	d := newDispatcher(db, nil, nil, &search.Stepper{})

	require.NoError(t, d.LaunchSearchForOrderGroup(context.Background(), g.ID))
	got, err := repo.GetOrderGroup(context.Background(), db, g.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseFirstAttempt, got.Phase())
	assert.True(t, got.TimeToRestart.Equal(t0.Add(search.DefaultStepInterval)))
}
