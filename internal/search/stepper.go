package search

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/notify"
	"github.com/tbourn/go-interpreter-orders/internal/repo"
)

// DefaultStepInterval is used when the plan carries no repeat interval.
const DefaultStepInterval = 5 * time.Minute

// Stepper is the engine used when no ranking engine is configured. It invites
// nobody; it only walks the plan through its attempts so that the schedule,
// expiry and admin escalation behave as they would with a real engine.
//
//	not_started    -> first_attempt  (retry after one interval)
//	first_attempt  -> second_attempt (retry after one interval)
//	second_attempt -> second_attempt until the search deadline, then exhausted
//
// On exhaustion with red flags enabled, the appointment's admin info is
// flagged (the anchor's appointment for groups) when DB is set, and a red-flag
// notification goes to AdminRecipient if the plan asks for an admin notice.
//
// Because nobody is invited, the Stepper never emits OrderAccepted or
// RepeatInvitation; those events belong to ranking engines.
type Stepper struct {
	DB             *gorm.DB
	Notifier       notify.Notifier
	AdminRecipient string
	Log            zerolog.Logger
}

// Run implements Engine.
func (s *Stepper) Run(ctx context.Context, sc *Context) error {
	plan := sc.Plan()
	interval := DefaultStepInterval
	if plan.RepeatInterval != nil && *plan.RepeatInterval > 0 {
		interval = *plan.RepeatInterval
	}
	next := sc.Now.Add(interval)

	switch {
	case !sc.IsSearchNeeded:
		return nil
	case !sc.IsFirstSearchCompleted:
		sc.IsFirstSearchCompleted = true
	case !sc.IsSecondSearchCompleted:
		sc.IsSecondSearchCompleted = true
	}

	if plan.EndSearchTime != nil && !next.Before(*plan.EndSearchTime) {
		sc.IsSearchNeeded = false
		sc.TimeToRestart = nil
		return s.escalate(ctx, sc)
	}
	if sc.TimeToRestart == nil || next.Before(*sc.TimeToRestart) {
		sc.TimeToRestart = &next
	}
	s.Log.Debug().
		Str("order_id", sc.Order.ID).
		Str("phase", string(sc.Phase())).
		Time("time_to_restart", next).
		Msg("search stepped")
	return nil
}

func (s *Stepper) escalate(ctx context.Context, sc *Context) error {
	if !sc.SetRedFlags {
		return nil
	}
	if s.DB != nil {
		err := repo.SetRedFlag(ctx, s.DB, sc.Order.AppointmentID)
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			s.Log.Warn().Str("appointment_id", sc.Order.AppointmentID).Msg("no admin info to flag")
		case err != nil:
			return fmt.Errorf("flag appointment %s: %w", sc.Order.AppointmentID, err)
		}
	}

	plan := sc.Plan()
	if !sc.SendNotifications || s.Notifier == nil || s.AdminRecipient == "" {
		return nil
	}
	if plan.NotifyAdmin == nil || !*plan.NotifyAdmin {
		return nil
	}
	platformID := sc.Order.PlatformID
	if sc.Group != nil {
		platformID = sc.Group.PlatformID
	}
	s.Notifier.RedFlag(ctx, s.AdminRecipient, platformID, notify.Detail{
		"order_id": sc.Order.ID,
		"reason":   "search_exhausted",
	})
	return nil
}
