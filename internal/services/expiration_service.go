package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/conferencing"
	"github.com/tbourn/go-interpreter-orders/internal/domain"
	"github.com/tbourn/go-interpreter-orders/internal/notify"
	"github.com/tbourn/go-interpreter-orders/internal/observability"
	"github.com/tbourn/go-interpreter-orders/internal/repo"
)

// ExpirationService cancels orders and order groups whose search has run out.
//
// Each cancellation validates every dependent resource before touching any of
// them and tears down external meetings before opening the write transaction,
// so no connection is held across a remote call. A failed teardown leaves the
// database untouched; the next tick retries it and an already-deleted meeting
// counts as success. The transaction then deletes resources, removes orders
// and moves appointments to CANCELLED_BY_SYSTEM. Notifications are dispatched
// only after it commits.
type ExpirationService struct {
	DB       *gorm.DB
	Meetings conferencing.MeetingDeleter
	Notifier notify.Notifier
	Log      zerolog.Logger
}

// cancellation is everything collected from a validated set of appointments.
type cancellation struct {
	clientID       string
	appointments   []domain.Appointment
	appointmentIDs []string
	reminderIDs    []string
	meetingIDs     []string
	teardown       []*domain.MeetingConfiguration
	orders         []domain.AppointmentOrder
	redFlagged     bool
}

// collect validates appts and gathers the ids to delete. Any invalid
// appointment fails the whole set.
func collect(appts []domain.Appointment) (*cancellation, error) {
	c := &cancellation{appointments: appts}
	for i := range appts {
		a := &appts[i]
		if a.ClientID == nil || *a.ClientID == "" {
			return nil, fmt.Errorf("appointment %s: %w", a.ID, ErrAppointmentClientMissing)
		}
		if a.Reminder == nil {
			return nil, fmt.Errorf("appointment %s: %w", a.ID, ErrReminderMissing)
		}
		if a.Order == nil {
			return nil, fmt.Errorf("appointment %s: %w", a.ID, ErrOrderMissing)
		}
		if a.RequiresMeetingConfiguration() && a.MeetingConfiguration == nil {
			return nil, fmt.Errorf("appointment %s: %w", a.ID, ErrMeetingConfigMissing)
		}

		if c.clientID == "" {
			c.clientID = *a.ClientID
		}
		c.appointmentIDs = append(c.appointmentIDs, a.ID)
		c.reminderIDs = append(c.reminderIDs, a.Reminder.ID)
		if mc := a.MeetingConfiguration; mc != nil {
			c.meetingIDs = append(c.meetingIDs, mc.ID)
			if a.HasExternalMeeting() {
				c.teardown = append(c.teardown, mc)
			}
		}
		c.orders = append(c.orders, *a.Order)
		if a.IsRedFlagged() {
			c.redFlagged = true
		}
	}
	return c, nil
}

// apply performs the deletions and the status change on tx.
func (s *ExpirationService) apply(ctx context.Context, tx *gorm.DB, c *cancellation) error {
	if err := repo.DeleteReminders(ctx, tx, c.reminderIDs); err != nil {
		return integrity(err)
	}
	if len(c.meetingIDs) > 0 {
		if err := repo.DeleteMeetingConfigurations(ctx, tx, c.meetingIDs); err != nil {
			return integrity(err)
		}
	}
	if c.redFlagged {
		if err := repo.DisableRedFlags(ctx, tx, c.appointmentIDs); err != nil {
			return integrity(err)
		}
	}
	if err := repo.RemoveOrders(ctx, tx, c.orders); err != nil {
		return integrity(err)
	}
	return integrity(repo.UpdateAppointmentStatuses(ctx, tx, c.appointmentIDs, domain.StatusCancelledBySystem))
}

// tearDownAll deletes every external meeting of c, stopping at the first
// failure.
func (s *ExpirationService) tearDownAll(ctx context.Context, c *cancellation) error {
	for _, mc := range c.teardown {
		if err := s.tearDown(ctx, mc); err != nil {
			return err
		}
	}
	return nil
}

func (s *ExpirationService) tearDown(ctx context.Context, mc *domain.MeetingConfiguration) error {
	if mc.ExternalMeetingID == nil || *mc.ExternalMeetingID == "" {
		s.Log.Warn().Str("appointment_id", mc.AppointmentID).Msg("on-demand meeting configuration without external meeting")
		return nil
	}
	if s.Meetings == nil {
		s.Log.Warn().Str("meeting_id", *mc.ExternalMeetingID).Msg("no meetings client; external meeting left in place")
		return nil
	}
	if err := s.Meetings.DeleteMeeting(ctx, mc); err != nil {
		return fmt.Errorf("tear down meeting for appointment %s: %w", mc.AppointmentID, err)
	}
	return nil
}

// CancelExpiredAppointmentOrder cancels order's appointment: it deletes the
// reminder and meeting configuration (tearing down the external meeting for
// on-demand audio/video), clears a red flag, removes the order, marks the
// appointment CANCELLED_BY_SYSTEM and notifies the client.
func (s *ExpirationService) CancelExpiredAppointmentOrder(ctx context.Context, order *domain.AppointmentOrder) error {
	tr := otel.Tracer("services/ExpirationService")
	ctx, span := tr.Start(ctx, "CancelExpiredAppointmentOrder",
		trace.WithAttributes(
			attribute.String("order.id", order.ID),
			attribute.String("appointment.id", order.AppointmentID),
		),
	)
	defer span.End()

	a, err := repo.GetAppointmentForCancellation(ctx, s.DB, order.AppointmentID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ErrAppointmentNotFound
		}
		return err
	}
	c, err := collect([]domain.Appointment{*a})
	if err != nil {
		return err
	}
	if err := s.tearDownAll(ctx, c); err != nil {
		return err
	}
	if err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return s.apply(ctx, tx, c)
	}); err != nil {
		return err
	}

	observability.OrderCancellations.WithLabelValues("order").Inc()
	s.Log.Info().
		Str("order_id", order.ID).
		Str("appointment_id", a.ID).
		Str("platform_id", a.PlatformID).
		Msg("order cancelled by system")

	s.notifier().OrderCancelled(ctx, c.clientID, a.PlatformID, notify.Detail{
		"appointment_id": a.ID,
		"reason":         "search_expired",
	})
	return nil
}

// CancelExpiredGroupAppointmentOrders cancels every appointment of group in
// one batch per resource kind, deletes the group and notifies the client once.
// When the group's legs may have different interpreters, each assigned
// interpreter also gets a notice for their leg.
func (s *ExpirationService) CancelExpiredGroupAppointmentOrders(ctx context.Context, group *domain.OrderGroup) error {
	tr := otel.Tracer("services/ExpirationService")
	ctx, span := tr.Start(ctx, "CancelExpiredGroupAppointmentOrders",
		trace.WithAttributes(
			attribute.String("order_group.id", group.ID),
			attribute.String("appointments_group.id", group.AppointmentsGroupID),
		),
	)
	defer span.End()

	appts, err := repo.ListAppointmentsByGroup(ctx, s.DB, group.AppointmentsGroupID)
	if err != nil {
		return err
	}
	if len(appts) == 0 {
		return ErrAppointmentNotFound
	}
	c, err := collect(appts)
	if err != nil {
		return err
	}
	if err := s.tearDownAll(ctx, c); err != nil {
		return err
	}
	if err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := s.apply(ctx, tx, c); err != nil {
			return err
		}
		return repo.DeleteOrderGroup(ctx, tx, group.ID)
	}); err != nil {
		return err
	}

	observability.OrderCancellations.WithLabelValues("group").Inc()
	span.SetAttributes(attribute.Int("appointments.count", len(c.appointments)))
	s.Log.Info().
		Str("order_group_id", group.ID).
		Str("platform_id", group.PlatformID).
		Int("appointments", len(c.appointments)).
		Msg("order group cancelled by system")

	n := s.notifier()
	n.GroupCancelled(ctx, c.clientID, group.PlatformID, notify.Detail{
		"order_group_id":  group.ID,
		"appointment_ids": c.appointmentIDs,
		"reason":          "search_expired",
	})
	if group.SameInterpreter {
		return nil
	}
	for _, a := range c.appointments {
		if a.InterpreterID == nil || *a.InterpreterID == "" {
			continue
		}
		n.OrderCancelled(ctx, *a.InterpreterID, a.PlatformID, notify.Detail{
			"appointment_id": a.ID,
			"reason":         "search_expired",
		})
	}
	return nil
}

func (s *ExpirationService) notifier() notify.Notifier {
	if s.Notifier == nil {
		return notify.Nop{}
	}
	return s.Notifier
}

// integrity classifies an empty batch as a broken invariant.
func integrity(err error) error {
	if errors.Is(err, repo.ErrEmptyBatch) {
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	}
	return err
}
