package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
	"github.com/tbourn/go-interpreter-orders/internal/observability"
	"github.com/tbourn/go-interpreter-orders/internal/repo"
	"github.com/tbourn/go-interpreter-orders/internal/search"
)

// DefaultGroupRestartDelay is the retry horizon every group dispatch starts
// with, before the engine runs.
const DefaultGroupRestartDelay = 30 * time.Minute

// ErrNoEngine is returned when the engine for a route is not configured.
var ErrNoEngine = errors.New("no matching engine configured")

// SearchDispatcher runs one dispatch pass per order or group: it loads the
// order, builds a search.Context, hands it to the matching engine for the
// order's scheduling type, and commits the resulting plan flags exactly once.
//
// The commit is deferred so it runs however the engine returns (including on
// error or panic) and is skipped only when the engine called MarkSaved. The
// dispatcher performs no locking; at most one pass per order at a time is the
// caller's responsibility (see scheduler).
type SearchDispatcher struct {
	DB                  *gorm.DB
	OnDemand            search.Engine
	PreBookedIndividual search.Engine
	PreBookedGroup      search.Engine

	GroupRestartDelay time.Duration
	Now               func() time.Time
	Log               zerolog.Logger
}

func (s *SearchDispatcher) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// LaunchSearchForIndividualOrder dispatches a stand-alone order.
func (s *SearchDispatcher) LaunchSearchForIndividualOrder(ctx context.Context, orderID string) (err error) {
	tr := otel.Tracer("services/SearchDispatcher")
	ctx, span := tr.Start(ctx, "LaunchSearchForIndividualOrder",
		trace.WithAttributes(attribute.String("order.id", orderID)),
	)
	defer span.End()

	o, err := repo.GetOrderWithAppointment(ctx, s.DB, orderID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrOrderNotFound
		}
		return err
	}
	a := o.Appointment
	if a == nil {
		return ErrAppointmentNotFound
	}
	if a.ClientID == nil {
		return ErrClientRequired
	}
	if a.AdminInfo == nil {
		return ErrAdminInfoRequired
	}
	if a.InterpretingType == domain.InterpretingEscort {
		s.skipEscort("order", o.ID)
		return nil
	}
	if !o.FlagsComplete() {
		return ErrSearchPlanIncomplete
	}

	sc := newContext(o, nil, o.SchedulingType, s.now())
	sc.IsFirstSearchCompleted = *o.IsFirstSearchCompleted
	sc.IsSecondSearchCompleted = *o.IsSecondSearchCompleted
	sc.IsSearchNeeded = *o.IsSearchNeeded
	sc.IsCompanyHasInterpreters = *o.IsCompanyHasInterpreters

	engine := s.PreBookedIndividual
	if o.SchedulingType == domain.SchedulingOnDemand {
		engine = s.OnDemand
	}

	defer func() {
		err = s.commit(ctx, "order", o.ID, sc, err, func(ctx context.Context, st repo.SearchState) error {
			return repo.UpdateOrderSearchState(ctx, s.DB, o.ID, st)
		})
	}()
	return runEngine(ctx, engine, sc)
}

// LaunchSearchForOrderGroup dispatches a group through its anchor order, the
// earliest-scheduled member (ties broken by order id).
func (s *SearchDispatcher) LaunchSearchForOrderGroup(ctx context.Context, groupID string) (err error) {
	tr := otel.Tracer("services/SearchDispatcher")
	ctx, span := tr.Start(ctx, "LaunchSearchForOrderGroup",
		trace.WithAttributes(attribute.String("order_group.id", groupID)),
	)
	defer span.End()

	g, err := repo.GetOrderGroup(ctx, s.DB, groupID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrOrderGroupNotFound
		}
		return err
	}
	anchor, err := repo.GetAnchorOrder(ctx, s.DB, groupID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrGroupHasNoOrders
		}
		return err
	}
	if anchor.Appointment == nil {
		return ErrAppointmentNotFound
	}
	if anchor.Appointment.InterpretingType == domain.InterpretingEscort {
		s.skipEscort("group", g.ID)
		return nil
	}
	if !g.FlagsComplete() {
		return ErrSearchPlanIncomplete
	}

	now := s.now()
	delay := s.GroupRestartDelay
	if delay <= 0 {
		delay = DefaultGroupRestartDelay
	}
	restart := now.Add(delay)

	sc := newContext(anchor, g, domain.SchedulingPreBooked, now)
	sc.IsFirstSearchCompleted = *g.IsFirstSearchCompleted
	sc.IsSecondSearchCompleted = *g.IsSecondSearchCompleted
	sc.IsSearchNeeded = *g.IsSearchNeeded
	sc.IsCompanyHasInterpreters = *g.IsCompanyHasInterpreters
	sc.TimeToRestart = &restart

	defer func() {
		err = s.commit(ctx, "group", g.ID, sc, err, func(ctx context.Context, st repo.SearchState) error {
			return repo.UpdateGroupSearchState(ctx, s.DB, g.ID, st)
		})
	}()
	return runEngine(ctx, s.PreBookedGroup, sc)
}

func newContext(o *domain.AppointmentOrder, g *domain.OrderGroup, st domain.SchedulingType, now time.Time) *search.Context {
	return &search.Context{
		Order:             o,
		Group:             g,
		SchedulingType:    st,
		SendNotifications: true,
		SetRedFlags:       true,
		Now:               now,
	}
}

// runEngine turns an engine panic into an error so the deferred commit still
// sees a result.
func runEngine(ctx context.Context, e search.Engine, sc *search.Context) (err error) {
	if e == nil {
		return ErrNoEngine
	}
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("matching engine panic: %v", r)
		}
	}()
	return e.Run(ctx, sc)
}

// commit writes the context's plan flags unless the engine already saved.
// The write ignores caller cancellation so a pass is never left half-done.
func (s *SearchDispatcher) commit(ctx context.Context, scope, id string, sc *search.Context, runErr error, write func(context.Context, repo.SearchState) error) error {
	if sc.IsOrderSaved {
		observability.OrderDispatches.WithLabelValues(scope, outcome("saved_by_engine", runErr)).Inc()
		s.Log.Debug().Str("scope", scope).Str("id", id).Msg("engine saved final state")
		return runErr
	}

	werr := write(context.WithoutCancel(ctx), repo.SearchState{
		IsFirstSearchCompleted:  sc.IsFirstSearchCompleted,
		IsSecondSearchCompleted: sc.IsSecondSearchCompleted,
		IsSearchNeeded:          sc.IsSearchNeeded,
		TimeToRestart:           sc.TimeToRestart,
	})
	if werr != nil {
		werr = fmt.Errorf("commit %s %s search state: %w", scope, id, werr)
	}
	err := errors.Join(runErr, werr)
	observability.OrderDispatches.WithLabelValues(scope, outcome("committed", err)).Inc()

	if err != nil {
		s.Log.Error().Err(err).Str("scope", scope).Str("id", id).Msg("dispatch failed")
		return err
	}
	s.Log.Debug().Str("scope", scope).Str("id", id).Str("phase", string(sc.Phase())).Msg("search state committed")
	return nil
}

func (s *SearchDispatcher) skipEscort(scope, id string) {
	observability.OrderDispatches.WithLabelValues(scope, "skipped_escort").Inc()
	s.Log.Info().Str("scope", scope).Str("id", id).Msg("escort booking skipped; arranged manually")
}

func outcome(ok string, err error) string {
	if err != nil {
		return "failed"
	}
	return ok
}
