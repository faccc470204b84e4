// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the
// AppointmentOrder model.
//
// All functions are context-aware and accept a *gorm.DB handle, making them
// safe for use within transactions. They follow the "thin repository"
// approach: no business logic, only persistence and query composition. The
// one rule enforced here is the group-emptiness cascade, because every caller
// that removes an order (cancellation, matching engines) must apply it.
//
// Error semantics:
//   - Missing rows are reported as gorm.ErrRecordNotFound (ErrNotFound).
//   - Batch operations called with an empty id list return ErrEmptyBatch.
//   - Other DB errors are propagated unchanged.
package repo

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
)

// ErrNotFound is returned when a requested record does not exist.
// It aliases gorm.ErrRecordNotFound for convenience and consistency
// across the service layer and handlers.
var ErrNotFound = gorm.ErrRecordNotFound

// ErrEmptyBatch is returned by batch writes given nothing to write. Callers
// collect ids from rows they already validated, so an empty list means an
// invariant broke upstream.
var ErrEmptyBatch = errors.New("empty batch")

// SearchState is the subset of the search plan committed after a dispatch.
type SearchState struct {
	IsFirstSearchCompleted  bool
	IsSecondSearchCompleted bool
	IsSearchNeeded          bool
	TimeToRestart           *time.Time
}

func (s SearchState) columns() map[string]any {
	return map[string]any{
		"is_first_search_completed":  s.IsFirstSearchCompleted,
		"is_second_search_completed": s.IsSecondSearchCompleted,
		"is_search_needed":           s.IsSearchNeeded,
		"time_to_restart":            s.TimeToRestart,
	}
}

// CreateOrder inserts o, assigning a UUID and UTC timestamps when missing.
func CreateOrder(ctx context.Context, db *gorm.DB, o *domain.AppointmentOrder) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	o.CreatedAt, o.UpdatedAt = now, now
	return db.WithContext(ctx).Omit("Appointment", "OrderGroup").Create(o).Error
}

// GetOrderWithAppointment fetches an order with its appointment and the
// appointment's admin info.
func GetOrderWithAppointment(ctx context.Context, db *gorm.DB, id string) (*domain.AppointmentOrder, error) {
	var o domain.AppointmentOrder
	err := db.WithContext(ctx).
		Preload("Appointment").
		Preload("Appointment.AdminInfo").
		Where("id = ?", id).
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOrderSearchState writes the committed search flags onto the order.
// It returns ErrNotFound when the row no longer exists.
func UpdateOrderSearchState(ctx context.Context, db *gorm.DB, id string, s SearchState) error {
	res := db.WithContext(ctx).
		Model(&domain.AppointmentOrder{}).
		Where("id = ?", id).
		Updates(s.columns())
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// RemoveOrder deletes a single order and, if it was the last member of its
// group, the group as well.
func RemoveOrder(ctx context.Context, db *gorm.DB, o *domain.AppointmentOrder) error {
	return RemoveOrders(ctx, db, []domain.AppointmentOrder{*o})
}

// RemoveOrders deletes orders in one statement, then deletes every parent
// group left without members. Groups are never left empty.
func RemoveOrders(ctx context.Context, db *gorm.DB, orders []domain.AppointmentOrder) error {
	if len(orders) == 0 {
		return ErrEmptyBatch
	}
	ids := make([]string, 0, len(orders))
	groups := make([]string, 0, 1)
	seen := make(map[string]struct{})
	for _, o := range orders {
		ids = append(ids, o.ID)
		if o.OrderGroupID == nil {
			continue
		}
		if _, ok := seen[*o.OrderGroupID]; !ok {
			seen[*o.OrderGroupID] = struct{}{}
			groups = append(groups, *o.OrderGroupID)
		}
	}

	tx := db.WithContext(ctx)
	if err := tx.Where("id IN ?", ids).Delete(&domain.AppointmentOrder{}).Error; err != nil {
		return err
	}
	for _, gid := range groups {
		n, err := CountGroupOrders(ctx, db, gid)
		if err != nil {
			return err
		}
		if n == 0 {
			if err := DeleteOrderGroup(ctx, db, gid); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeferOrderSearch moves the order's restart horizon to until. Only the
// horizon changes; the attempt flags are left as they are.
func DeferOrderSearch(ctx context.Context, db *gorm.DB, id string, until time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.AppointmentOrder{}).
		Where("id = ?", id).
		Update("time_to_restart", until)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListDueOrders returns stand-alone orders whose next search attempt is due:
// a search is still needed, the deadline has not passed, and the restart
// horizon (or the next repeat time when no horizon was set) is reached.
// ESCORT bookings never enter a search and are left out.
func ListDueOrders(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.AppointmentOrder, error) {
	var out []domain.AppointmentOrder
	q := db.WithContext(ctx).
		Where("order_group_id IS NULL").
		Where("NOT EXISTS (SELECT 1 FROM appointments a WHERE a.id = appointment_orders.appointment_id AND a.interpreting_type = ?)", domain.InterpretingEscort).
		Where("is_search_needed = ?", true).
		Where("(end_search_time IS NULL OR end_search_time > ?)", now).
		Where("COALESCE(time_to_restart, next_repeat_time) <= ?", now).
		Order("scheduled_start_time ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListExpiredOrders returns stand-alone orders whose search deadline passed.
func ListExpiredOrders(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.AppointmentOrder, error) {
	var out []domain.AppointmentOrder
	q := db.WithContext(ctx).
		Where("order_group_id IS NULL").
		Where("end_search_time IS NOT NULL AND end_search_time <= ?", now).
		Order("end_search_time ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
