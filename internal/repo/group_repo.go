// Package repo implements the data persistence layer for domain entities,
// backed by GORM. This file provides repository functions for the OrderGroup
// model and for resolving a group's anchor order.
package repo

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
)

// TimeFrames is the schedule portion of a search plan produced by the time
// frame calculator.
type TimeFrames struct {
	NextRepeatTime   *time.Time
	RepeatInterval   *time.Duration
	RemainingRepeats *int
	NotifyAdmin      *bool
	EndSearchTime    *time.Time
}

// CreateOrderGroup inserts g, assigning a UUID and UTC timestamps.
func CreateOrderGroup(ctx context.Context, db *gorm.DB, g *domain.OrderGroup) error {
	if g.ID == "" {
		g.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	g.CreatedAt, g.UpdatedAt = now, now
	return db.WithContext(ctx).Omit("Orders").Create(g).Error
}

// GetOrderGroup fetches a group by ID without its members.
func GetOrderGroup(ctx context.Context, db *gorm.DB, id string) (*domain.OrderGroup, error) {
	var g domain.OrderGroup
	if err := db.WithContext(ctx).Where("id = ?", id).First(&g).Error; err != nil {
		return nil, err
	}
	return &g, nil
}

// GetAnchorOrder returns the group's earliest-scheduled member with its
// appointment loaded. Ties on scheduled start are broken by order ID so the
// anchor is deterministic. Returns ErrNotFound when the group has no members.
func GetAnchorOrder(ctx context.Context, db *gorm.DB, groupID string) (*domain.AppointmentOrder, error) {
	var o domain.AppointmentOrder
	err := db.WithContext(ctx).
		Preload("Appointment").
		Preload("Appointment.AdminInfo").
		Where("order_group_id = ?", groupID).
		Order("scheduled_start_time ASC, id ASC").
		First(&o).Error
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// CountGroupOrders returns the number of member orders in a group.
func CountGroupOrders(ctx context.Context, db *gorm.DB, groupID string) (int64, error) {
	var n int64
	err := db.WithContext(ctx).
		Model(&domain.AppointmentOrder{}).
		Where("order_group_id = ?", groupID).
		Count(&n).Error
	return n, err
}

// UpdateGroupSearchState writes the committed search flags onto the group.
// It returns ErrNotFound when the row no longer exists.
func UpdateGroupSearchState(ctx context.Context, db *gorm.DB, id string, s SearchState) error {
	res := db.WithContext(ctx).
		Model(&domain.OrderGroup{}).
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

// UpdateGroupTimeFrames stores a freshly computed schedule on the group.
func UpdateGroupTimeFrames(ctx context.Context, db *gorm.DB, id string, tf TimeFrames) error {
	res := db.WithContext(ctx).
		Model(&domain.OrderGroup{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"next_repeat_time":  tf.NextRepeatTime,
			"repeat_interval":   tf.RepeatInterval,
			"remaining_repeats": tf.RemainingRepeats,
			"notify_admin":      tf.NotifyAdmin,
			"end_search_time":   tf.EndSearchTime,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// DeleteOrderGroup removes a group row. Deleting an already-removed group is
// not an error: RemoveOrders may have dropped it when its last member went.
func DeleteOrderGroup(ctx context.Context, db *gorm.DB, id string) error {
	return db.WithContext(ctx).Where("id = ?", id).Delete(&domain.OrderGroup{}).Error
}

// DeferGroupSearch moves the group's restart horizon to until.
func DeferGroupSearch(ctx context.Context, db *gorm.DB, id string, until time.Time) error {
	res := db.WithContext(ctx).
		Model(&domain.OrderGroup{}).
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

// escortAnchor matches groups whose anchor (earliest start, then lowest id)
// is an ESCORT booking.
const escortAnchor = `EXISTS (
	SELECT 1 FROM appointment_orders ao
	JOIN appointments a ON a.id = ao.appointment_id
	WHERE ao.order_group_id = order_groups.id
	  AND a.interpreting_type = ?
	  AND NOT EXISTS (
		SELECT 1 FROM appointment_orders ao2
		WHERE ao2.order_group_id = ao.order_group_id
		  AND (ao2.scheduled_start_time < ao.scheduled_start_time
		   OR (ao2.scheduled_start_time = ao.scheduled_start_time AND ao2.id < ao.id))))`

// ListDueGroups returns groups whose next search attempt is due. The rules
// mirror ListDueOrders; a group is left out when its anchor is ESCORT.
func ListDueGroups(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.OrderGroup, error) {
	var out []domain.OrderGroup
	q := db.WithContext(ctx).
		Where("NOT "+escortAnchor, domain.InterpretingEscort).
		Where("is_search_needed = ?", true).
		Where("(end_search_time IS NULL OR end_search_time > ?)", now).
		Where("COALESCE(time_to_restart, next_repeat_time) <= ?", now).
		Order("created_at ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}

// ListExpiredGroups returns groups whose search deadline passed.
func ListExpiredGroups(ctx context.Context, db *gorm.DB, now time.Time, limit int) ([]domain.OrderGroup, error) {
	var out []domain.OrderGroup
	q := db.WithContext(ctx).
		Where("end_search_time IS NOT NULL AND end_search_time <= ?", now).
		Order("end_search_time ASC, id ASC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	err := q.Find(&out).Error
	return out, err
}
