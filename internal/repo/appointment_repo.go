package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
)

// CreateAppointment inserts a together with any has-one resources already
// attached to it (reminder, meeting configuration, admin info). The order is
// never created here; it goes through CreateOrder.
func CreateAppointment(ctx context.Context, db *gorm.DB, a *domain.Appointment) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	a.CreatedAt, a.UpdatedAt = now, now
	if r := a.Reminder; r != nil && r.ID == "" {
		r.ID = uuid.NewString()
	}
	if m := a.MeetingConfiguration; m != nil && m.ID == "" {
		m.ID = uuid.NewString()
	}
	if ai := a.AdminInfo; ai != nil && ai.ID == "" {
		ai.ID = uuid.NewString()
	}
	return db.WithContext(ctx).Omit("Order").Create(a).Error
}

// cancellationShape preloads everything the cancellation flow validates.
func cancellationShape(db *gorm.DB) *gorm.DB {
	return db.
		Preload("Reminder").
		Preload("MeetingConfiguration").
		Preload("AdminInfo").
		Preload("Order").
		Preload("Order.OrderGroup").
		Preload("Order.OrderGroup.Orders")
}

// GetAppointmentForCancellation loads an appointment with its reminder,
// meeting configuration, admin info and order, plus the order's group and
// sibling orders.
func GetAppointmentForCancellation(ctx context.Context, db *gorm.DB, id string) (*domain.Appointment, error) {
	var a domain.Appointment
	if err := cancellationShape(db.WithContext(ctx)).Where("id = ?", id).First(&a).Error; err != nil {
		return nil, err
	}
	return &a, nil
}

// ListAppointmentsByGroup returns every leg of a multi-leg booking in the same
// shape as GetAppointmentForCancellation, earliest first.
func ListAppointmentsByGroup(ctx context.Context, db *gorm.DB, appointmentsGroupID string) ([]domain.Appointment, error) {
	var out []domain.Appointment
	err := cancellationShape(db.WithContext(ctx)).
		Where("appointments_group_id = ?", appointmentsGroupID).
		Order("scheduled_start_time ASC, id ASC").
		Find(&out).Error
	return out, err
}

// UpdateAppointmentStatuses sets status on every listed appointment in one
// statement.
func UpdateAppointmentStatuses(ctx context.Context, db *gorm.DB, ids []string, status domain.AppointmentStatus) error {
	if len(ids) == 0 {
		return ErrEmptyBatch
	}
	return db.WithContext(ctx).
		Model(&domain.Appointment{}).
		Where("id IN ?", ids).
		Updates(map[string]any{"status": status, "updated_at": time.Now().UTC()}).Error
}

// DeleteReminders removes reminders by ID.
func DeleteReminders(ctx context.Context, db *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return ErrEmptyBatch
	}
	return db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.AppointmentReminder{}).Error
}

// DeleteMeetingConfigurations removes meeting configurations by ID.
func DeleteMeetingConfigurations(ctx context.Context, db *gorm.DB, ids []string) error {
	if len(ids) == 0 {
		return ErrEmptyBatch
	}
	return db.WithContext(ctx).Where("id IN ?", ids).Delete(&domain.MeetingConfiguration{}).Error
}

// DisableRedFlags clears the red flag on the admin info of every listed
// appointment. Appointments without admin info are ignored.
func DisableRedFlags(ctx context.Context, db *gorm.DB, appointmentIDs []string) error {
	if len(appointmentIDs) == 0 {
		return ErrEmptyBatch
	}
	return db.WithContext(ctx).
		Model(&domain.AppointmentAdminInfo{}).
		Where("appointment_id IN ?", appointmentIDs).
		Updates(map[string]any{"is_red_flag_enabled": false, "updated_at": time.Now().UTC()}).Error
}

// SetRedFlag marks an appointment for admin handling. It returns ErrNotFound
// when the appointment has no admin info row.
func SetRedFlag(ctx context.Context, db *gorm.DB, appointmentID string) error {
	res := db.WithContext(ctx).
		Model(&domain.AppointmentAdminInfo{}).
		Where("appointment_id = ?", appointmentID).
		Updates(map[string]any{"is_red_flag_enabled": true, "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
