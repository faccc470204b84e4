package services

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
	"github.com/tbourn/go-interpreter-orders/internal/pricing"
	"github.com/tbourn/go-interpreter-orders/internal/repo"
	"github.com/tbourn/go-interpreter-orders/internal/timeframe"
)

// OrderService turns appointments into searchable orders and order groups.
type OrderService struct {
	DB         *gorm.DB
	TimeFrames timeframe.Calculator
	Pricing    pricing.Calculator

	// PlatformCompanyID is the platform's own operating company, which always
	// counts as having interpreters.
	PlatformCompanyID string

	Log zerolog.Logger
}

// CreateOrderGroupInput describes a new order group.
type CreateOrderGroupInput struct {
	AppointmentsGroupID string
	PlatformID          string
	ClientID            string
	SameInterpreter     bool
	AcceptOvertimeRates bool
	Timezone            string
}

// CompanyInfo identifies the client's operating company.
type CompanyInfo struct {
	OperatingCompanyID string
}

// CreateOrder creates the order for appt in its own transaction.
// See CreateOrderTx.
func (s *OrderService) CreateOrder(ctx context.Context, appt *domain.Appointment, client *domain.Client, addr *domain.Address, group *domain.OrderGroup) (*domain.AppointmentOrder, error) {
	var out *domain.AppointmentOrder
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		o, err := s.CreateOrderTx(ctx, tx, appt, client, addr, group)
		out = o
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CreateOrderTx creates the order for appt on tx, so that booking code can
// create the appointment and its order atomically.
//
// A group member gets no search plan of its own (the group owns it). A
// stand-alone order gets fresh attempt flags, a schedule from the time frame
// calculator, and the company staffing flag.
func (s *OrderService) CreateOrderTx(ctx context.Context, tx *gorm.DB, appt *domain.Appointment, client *domain.Client, addr *domain.Address, group *domain.OrderGroup) (*domain.AppointmentOrder, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "CreateOrder",
		trace.WithAttributes(
			attribute.String("appointment.id", appt.ID),
			attribute.Bool("order.grouped", group != nil),
		),
	)
	defer span.End()

	if appt.ClientID == nil || *appt.ClientID == "" || client == nil {
		return nil, ErrClientRequired
	}

	quote, err := s.Pricing.PriceByOneDay(ctx,
		pricing.AttributesOf(appt, addr),
		time.Duration(appt.SchedulingDurationMin)*time.Minute,
		appt.ScheduledStartTime,
		client.IsGstPayer,
		client.Role,
	)
	if err != nil {
		return nil, err
	}

	o := &domain.AppointmentOrder{
		AppointmentID:      appt.ID,
		PlatformID:         appt.PlatformID,
		SchedulingType:     appt.SchedulingType,
		ScheduledStartTime: appt.ScheduledStartTime,
		ApproximateCost:    quote.Price,
	}

	if group != nil {
		o.IsOrderGroup = true
		o.OrderGroupID = &group.ID
	} else {
		hasInterpreters, err := s.companyHasInterpreters(ctx, tx, client.OperatingCompanyID)
		if err != nil {
			return nil, err
		}
		plan := s.TimeFrames.CalculateInitialTimeFrames(appt.CommunicationType, appt.ScheduledStartTime)
		o.SearchPlan = domain.SearchPlan{
			IsFirstSearchCompleted:   domain.Bool(false),
			IsSecondSearchCompleted:  domain.Bool(false),
			IsSearchNeeded:           domain.Bool(true),
			IsCompanyHasInterpreters: domain.Bool(hasInterpreters),
			NextRepeatTime:           plan.NextRepeatTime,
			RepeatInterval:           plan.RepeatInterval,
			RemainingRepeats:         plan.RemainingRepeats,
			NotifyAdmin:              plan.NotifyAdmin,
			EndSearchTime:            plan.EndSearchTime,
		}
		if plan.Empty() {
			s.Log.Warn().Str("appointment_id", appt.ID).Msg("order created without repeat schedule")
		}
	}

	if err := repo.CreateOrder(ctx, tx, o); err != nil {
		return nil, err
	}
	s.Log.Debug().
		Str("order_id", o.ID).
		Str("appointment_id", appt.ID).
		Str("approximate_cost", o.ApproximateCost.StringFixed(2)).
		Msg("order created")
	return o, nil
}

// CreateOrderGroup creates an order group with fresh attempt flags. Its
// schedule is filled later by CalculateTimeFramesForOrderGroup, once member
// orders exist.
func (s *OrderService) CreateOrderGroup(ctx context.Context, in CreateOrderGroupInput, company CompanyInfo) (*domain.OrderGroup, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "CreateOrderGroup",
		trace.WithAttributes(attribute.String("appointments_group.id", in.AppointmentsGroupID)),
	)
	defer span.End()

	if in.ClientID == "" {
		return nil, ErrClientRequired
	}
	hasInterpreters, err := s.companyHasInterpreters(ctx, s.DB, company.OperatingCompanyID)
	if err != nil {
		return nil, err
	}
	g := &domain.OrderGroup{
		AppointmentsGroupID: in.AppointmentsGroupID,
		PlatformID:          in.PlatformID,
		ClientID:            in.ClientID,
		SameInterpreter:     in.SameInterpreter,
		AcceptOvertimeRates: in.AcceptOvertimeRates,
		Timezone:            in.Timezone,
		SearchPlan: domain.SearchPlan{
			IsFirstSearchCompleted:   domain.Bool(false),
			IsSecondSearchCompleted:  domain.Bool(false),
			IsSearchNeeded:           domain.Bool(true),
			IsCompanyHasInterpreters: domain.Bool(hasInterpreters),
		},
	}
	if err := repo.CreateOrderGroup(ctx, s.DB, g); err != nil {
		return nil, err
	}
	return g, nil
}

// CalculateTimeFramesForOrderGroup computes the group's schedule from its
// anchor order. A calculator that cannot produce a next repeat time is a hard
// stop: ErrNoRepeatSchedule is returned and nothing is written.
func (s *OrderService) CalculateTimeFramesForOrderGroup(ctx context.Context, groupID string) (*domain.OrderGroup, error) {
	tr := otel.Tracer("services/OrderService")
	ctx, span := tr.Start(ctx, "CalculateTimeFramesForOrderGroup",
		trace.WithAttributes(attribute.String("order_group.id", groupID)),
	)
	defer span.End()

	if _, err := repo.GetOrderGroup(ctx, s.DB, groupID); err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrderGroupNotFound
		}
		return nil, err
	}
	anchor, err := repo.GetAnchorOrder(ctx, s.DB, groupID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrGroupHasNoOrders
		}
		return nil, err
	}
	if anchor.Appointment == nil {
		return nil, ErrAppointmentNotFound
	}

	plan := s.TimeFrames.CalculateInitialTimeFrames(anchor.Appointment.CommunicationType, anchor.ScheduledStartTime)
	if plan.Empty() {
		return nil, ErrNoRepeatSchedule
	}
	err = repo.UpdateGroupTimeFrames(ctx, s.DB, groupID, repo.TimeFrames{
		NextRepeatTime:   plan.NextRepeatTime,
		RepeatInterval:   plan.RepeatInterval,
		RemainingRepeats: plan.RemainingRepeats,
		NotifyAdmin:      plan.NotifyAdmin,
		EndSearchTime:    plan.EndSearchTime,
	})
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, ErrOrderGroupNotFound
		}
		return nil, err
	}
	return repo.GetOrderGroup(ctx, s.DB, groupID)
}

// companyHasInterpreters reports whether companyID can staff bookings with its
// own interpreters. The platform company always can.
func (s *OrderService) companyHasInterpreters(ctx context.Context, db *gorm.DB, companyID string) (bool, error) {
	if companyID != "" && companyID == s.PlatformCompanyID {
		return true, nil
	}
	if companyID == "" {
		return false, nil
	}
	n, err := repo.CountActiveInterpreters(ctx, db, companyID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}
