package repo

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

func seedAppointment(t *testing.T, db *gorm.DB, mutate func(*domain.Appointment)) *domain.Appointment {
	t.Helper()
	a := &domain.Appointment{
		PlatformID:            "BK-" + uuid.NewString()[:8],
		SchedulingType:        domain.SchedulingPreBooked,
		CommunicationType:     domain.CommunicationVideo,
		InterpretingType:      domain.InterpretingConsecutive,
		Status:                domain.StatusPending,
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
	if err := CreateAppointment(context.Background(), db, a); err != nil {
		t.Fatalf("CreateAppointment: %v", err)
	}
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
		o.SearchPlan = domain.SearchPlan{
			IsFirstSearchCompleted:   domain.Bool(false),
			IsSecondSearchCompleted:  domain.Bool(false),
			IsSearchNeeded:           domain.Bool(true),
			IsCompanyHasInterpreters: domain.Bool(true),
		}
	}
	if err := CreateOrder(context.Background(), db, o); err != nil {
		t.Fatalf("CreateOrder: %v", err)
	}
	return o
}

func seedGroup(t *testing.T, db *gorm.DB, appointmentsGroupID string) *domain.OrderGroup {
	t.Helper()
	g := &domain.OrderGroup{
		AppointmentsGroupID: appointmentsGroupID,
		PlatformID:          "GR-" + appointmentsGroupID,
		ClientID:            "client-1",
		SearchPlan: domain.SearchPlan{
			IsFirstSearchCompleted:   domain.Bool(false),
			IsSecondSearchCompleted:  domain.Bool(false),
			IsSearchNeeded:           domain.Bool(true),
			IsCompanyHasInterpreters: domain.Bool(false),
		},
	}
	if err := CreateOrderGroup(context.Background(), db, g); err != nil {
		t.Fatalf("CreateOrderGroup: %v", err)
	}
	return g
}

// schedule sets plan timing columns directly on a seeded row.
func schedule(t *testing.T, db *gorm.DB, model any, cols map[string]any) {
	t.Helper()
	if err := db.Model(model).Updates(cols).Error; err != nil {
		t.Fatalf("schedule %T: %v", model, err)
	}
}

func countRows(t *testing.T, db *gorm.DB, model any) int64 {
	t.Helper()
	var n int64
	if err := db.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count %T: %v", model, err)
	}
	return n
}

func ids[T any](rows []T, id func(T) string) []string {
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, id(r))
	}
	return out
}
