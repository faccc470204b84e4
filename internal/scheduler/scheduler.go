// Package scheduler is the recurring trigger of the order lifecycle. Each tick
// cancels searches whose deadline passed and dispatches searches whose next
// attempt is due.
//
// Every pass holds a per-subject lock, so a dispatch and a cancellation of the
// same order or group queue behind each other. Identical passes requested
// while one is in flight (a tick and an ops request, or two overlapping
// ticks) are collapsed with singleflight and share its result.
//
// A dispatch rejected for a reason retrying cannot fix (validation or missing
// data) pushes the subject's restart horizon FailureBackoff into the future,
// so it does not occupy the head of every batch.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
	"github.com/tbourn/go-interpreter-orders/internal/repo"
	"github.com/tbourn/go-interpreter-orders/internal/services"
)

// DefaultFailureBackoff is used when Scheduler.FailureBackoff is unset.
const DefaultFailureBackoff = time.Hour

// Dispatcher runs dispatch passes.
type Dispatcher interface {
	LaunchSearchForIndividualOrder(ctx context.Context, orderID string) error
	LaunchSearchForOrderGroup(ctx context.Context, groupID string) error
}

// Canceller cancels expired orders and groups.
type Canceller interface {
	CancelExpiredAppointmentOrder(ctx context.Context, order *domain.AppointmentOrder) error
	CancelExpiredGroupAppointmentOrders(ctx context.Context, group *domain.OrderGroup) error
}

// ErrNotFound is returned by the expire helpers for unknown ids.
var ErrNotFound = errors.New("not found")

// Report summarizes one tick.
type Report struct {
	Cancelled  int `json:"cancelled"`
	Dispatched int `json:"dispatched"`
	Failed     int `json:"failed"`
}

// Scheduler drives dispatch and expiry on a cron schedule.
type Scheduler struct {
	DB        *gorm.DB
	Dispatch  Dispatcher
	Cancel    Canceller
	BatchSize int
	// FailureBackoff delays the next attempt of a subject whose dispatch was
	// rejected by validation.
	FailureBackoff time.Duration
	Now            func() time.Time
	Log            zerolog.Logger

	flight singleflight.Group
	locks  keyedLock
	cron   *cron.Cron
}

func (s *Scheduler) now() time.Time {
	if s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

// Start runs Tick on spec (standard cron syntax or descriptors such as
// "@every 1m"). Overlapping ticks are skipped.
func (s *Scheduler) Start(spec string) error {
	logger := cron.PrintfLogger(&s.Log)
	c := cron.New(
		cron.WithLocation(time.UTC),
		cron.WithLogger(logger),
		cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
	)
	if _, err := c.AddFunc(spec, func() { s.Tick(context.Background()) }); err != nil {
		return err
	}
	s.cron = c
	c.Start()
	return nil
}

// Stop stops the cron and waits for a running tick to finish or ctx to end.
func (s *Scheduler) Stop(ctx context.Context) {
	if s.cron == nil {
		return
	}
	select {
	case <-s.cron.Stop().Done():
	case <-ctx.Done():
	}
}

// Tick cancels expired work first, so nothing past its deadline is
// dispatched, then dispatches due orders and groups.
func (s *Scheduler) Tick(ctx context.Context) Report {
	var rep Report
	now := s.now()
	log := s.Log.With().Time("tick", now).Logger()

	count := func(err error, ok *int, what, id string) {
		if err != nil {
			rep.Failed++
			log.Error().Err(err).Str(what, id).Msg("scheduled pass failed")
			return
		}
		*ok++
	}

	if orders, err := repo.ListExpiredOrders(ctx, s.DB, now, s.BatchSize); err != nil {
		log.Error().Err(err).Msg("list expired orders")
	} else {
		for i := range orders {
			count(s.cancelOrder(ctx, &orders[i]), &rep.Cancelled, "order_id", orders[i].ID)
		}
	}
	if groups, err := repo.ListExpiredGroups(ctx, s.DB, now, s.BatchSize); err != nil {
		log.Error().Err(err).Msg("list expired groups")
	} else {
		for i := range groups {
			count(s.cancelGroup(ctx, &groups[i]), &rep.Cancelled, "order_group_id", groups[i].ID)
		}
	}

	if orders, err := repo.ListDueOrders(ctx, s.DB, now, s.BatchSize); err != nil {
		log.Error().Err(err).Msg("list due orders")
	} else {
		for _, o := range orders {
			err := s.DispatchOrder(ctx, o.ID)
			if rejected(err) {
				s.backOff(ctx, log, "order", o.ID, now)
			}
			count(err, &rep.Dispatched, "order_id", o.ID)
		}
	}
	if groups, err := repo.ListDueGroups(ctx, s.DB, now, s.BatchSize); err != nil {
		log.Error().Err(err).Msg("list due groups")
	} else {
		for _, g := range groups {
			err := s.DispatchGroup(ctx, g.ID)
			if rejected(err) {
				s.backOff(ctx, log, "group", g.ID, now)
			}
			count(err, &rep.Dispatched, "order_group_id", g.ID)
		}
	}

	if rep != (Report{}) {
		log.Info().
			Int("cancelled", rep.Cancelled).
			Int("dispatched", rep.Dispatched).
			Int("failed", rep.Failed).
			Msg("scheduler tick")
	}
	return rep
}

// DispatchOrder runs one dispatch pass for an order.
func (s *Scheduler) DispatchOrder(ctx context.Context, orderID string) error {
	return s.do(ctx, "dispatch", "order/"+orderID, func() error {
		return s.Dispatch.LaunchSearchForIndividualOrder(ctx, orderID)
	})
}

// DispatchGroup runs one dispatch pass for a group.
func (s *Scheduler) DispatchGroup(ctx context.Context, groupID string) error {
	return s.do(ctx, "dispatch", "group/"+groupID, func() error {
		return s.Dispatch.LaunchSearchForOrderGroup(ctx, groupID)
	})
}

// ExpireOrder cancels an order by id. The order is loaded once the subject
// lock is held, so a pass that removed it in the meantime yields ErrNotFound.
func (s *Scheduler) ExpireOrder(ctx context.Context, orderID string) error {
	return s.do(ctx, "cancel", "order/"+orderID, func() error {
		o, err := repo.GetOrderWithAppointment(ctx, s.DB, orderID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		return s.Cancel.CancelExpiredAppointmentOrder(ctx, o)
	})
}

// ExpireGroup cancels a group by id.
func (s *Scheduler) ExpireGroup(ctx context.Context, groupID string) error {
	return s.do(ctx, "cancel", "group/"+groupID, func() error {
		g, err := repo.GetOrderGroup(ctx, s.DB, groupID)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return ErrNotFound
			}
			return err
		}
		return s.Cancel.CancelExpiredGroupAppointmentOrders(ctx, g)
	})
}

func (s *Scheduler) cancelOrder(ctx context.Context, o *domain.AppointmentOrder) error {
	return s.do(ctx, "cancel", "order/"+o.ID, func() error {
		return s.Cancel.CancelExpiredAppointmentOrder(ctx, o)
	})
}

func (s *Scheduler) cancelGroup(ctx context.Context, g *domain.OrderGroup) error {
	return s.do(ctx, "cancel", "group/"+g.ID, func() error {
		return s.Cancel.CancelExpiredGroupAppointmentOrders(ctx, g)
	})
}

// do runs fn under the subject lock, collapsing identical concurrent passes.
func (s *Scheduler) do(ctx context.Context, pass, subject string, fn func() error) error {
	_, err, _ := s.flight.Do(pass+"/"+subject, func() (any, error) {
		unlock, err := s.locks.lock(ctx, subject)
		if err != nil {
			return nil, err
		}
		defer unlock()
		return nil, fn()
	})
	return err
}

// rejected reports whether a dispatch error will recur on every retry.
func rejected(err error) bool {
	return errors.Is(err, services.ErrValidation) || errors.Is(err, services.ErrNotFound)
}

// backOff moves a rejected subject's restart horizon past now.
func (s *Scheduler) backOff(ctx context.Context, log zerolog.Logger, scope, id string, now time.Time) {
	delay := s.FailureBackoff
	if delay <= 0 {
		delay = DefaultFailureBackoff
	}
	until := now.Add(delay)
	var err error
	if scope == "group" {
		err = repo.DeferGroupSearch(ctx, s.DB, id, until)
	} else {
		err = repo.DeferOrderSearch(ctx, s.DB, id, until)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return
	}
	if err != nil {
		log.Error().Err(err).Str("scope", scope).Str("id", id).Msg("defer rejected search")
		return
	}
	log.Warn().Str("scope", scope).Str("id", id).Time("until", until).Msg("dispatch rejected; search deferred")
}
