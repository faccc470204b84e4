package domain

import (
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// SearchPlan is the retry schedule and progress of an interpreter search.
// It is embedded in both AppointmentOrder and OrderGroup. Every field is
// nullable: a group-member order keeps them all nil because its group owns
// the plan, while a stand-alone order has the four flags set at creation.
type SearchPlan struct {
	IsFirstSearchCompleted   *bool          `json:"is_first_search_completed"   gorm:"column:is_first_search_completed"`
	IsSecondSearchCompleted  *bool          `json:"is_second_search_completed"  gorm:"column:is_second_search_completed"`
	IsSearchNeeded           *bool          `json:"is_search_needed"            gorm:"column:is_search_needed;index"`
	IsCompanyHasInterpreters *bool          `json:"is_company_has_interpreters" gorm:"column:is_company_has_interpreters"`
	NextRepeatTime           *time.Time     `json:"next_repeat_time"            gorm:"column:next_repeat_time"`
	RepeatInterval           *time.Duration `json:"repeat_interval"             gorm:"column:repeat_interval"`
	RemainingRepeats         *int           `json:"remaining_repeats"           gorm:"column:remaining_repeats"`
	NotifyAdmin              *bool          `json:"notify_admin"                gorm:"column:notify_admin"`
	EndSearchTime            *time.Time     `json:"end_search_time"             gorm:"column:end_search_time;index"`
	TimeToRestart            *time.Time     `json:"time_to_restart"             gorm:"column:time_to_restart"`
}

// FlagsComplete reports whether the four tri-state flags required to run a
// search are all set.
func (p SearchPlan) FlagsComplete() bool {
	return p.IsFirstSearchCompleted != nil &&
		p.IsSecondSearchCompleted != nil &&
		p.IsSearchNeeded != nil &&
		p.IsCompanyHasInterpreters != nil
}

// Phase is a read-only view over the plan flags.
func (p SearchPlan) Phase() Phase {
	return PhaseOf(deref(p.IsFirstSearchCompleted), deref(p.IsSecondSearchCompleted), deref(p.IsSearchNeeded))
}

// Phase names the step a search is at. The flags on the row remain the
// source of truth; Phase only makes them readable in logs and metrics.
type Phase string

const (
	PhaseNotStarted    Phase = "not_started"
	PhaseFirstAttempt  Phase = "first_attempt"
	PhaseSecondAttempt Phase = "second_attempt"
	PhaseExhausted     Phase = "exhausted"
)

// PhaseOf derives the phase from the raw flag values.
func PhaseOf(first, second, searchNeeded bool) Phase {
	switch {
	case !searchNeeded:
		return PhaseExhausted
	case second:
		return PhaseSecondAttempt
	case first:
		return PhaseFirstAttempt
	default:
		return PhaseNotStarted
	}
}

// AppointmentOrder is one interpreter-search unit for a single appointment.
//
// Fields:
//   - AppointmentID: 1:1 link to the appointment (unique).
//   - SchedulingType / ScheduledStartTime: copies used for routing and for
//     picking a group's anchor without joining appointments.
//   - ApproximateCost: estimate computed at creation.
//   - MatchedInterpreterIDs: ordered set of currently invited interpreters.
//   - RejectedInterpreterIDs: interpreters who declined.
//   - OrderGroupID: set for group members, which then carry a nil plan.
type AppointmentOrder struct {
	ID                     string          `json:"id"                       gorm:"type:char(36);primaryKey"`
	AppointmentID          string          `json:"appointment_id"           gorm:"type:char(36);not null;uniqueIndex"`
	PlatformID             string          `json:"platform_id"              gorm:"type:varchar(32);not null"`
	SchedulingType         SchedulingType  `json:"scheduling_type"          gorm:"type:varchar(16);not null"`
	ScheduledStartTime     time.Time       `json:"scheduled_start_time"     gorm:"not null;index:idx_group_anchor,priority:2"`
	ApproximateCost        decimal.Decimal `json:"approximate_cost"         gorm:"type:decimal(12,2);not null;default:0"`
	MatchedInterpreterIDs  StringSet       `json:"matched_interpreter_ids"  gorm:"type:text"`
	RejectedInterpreterIDs StringSet       `json:"rejected_interpreter_ids" gorm:"type:text"`
	IsOrderGroup           bool            `json:"is_order_group"           gorm:"not null;default:false"`
	OrderGroupID           *string         `json:"order_group_id,omitempty" gorm:"type:char(36);index:idx_group_anchor,priority:1"`
	SearchPlan             `gorm:"embedded"`
	CreatedAt              time.Time `json:"created_at"`
	UpdatedAt              time.Time `json:"updated_at"`

	Appointment *Appointment `json:"-" gorm:"foreignKey:AppointmentID;references:ID"`
	OrderGroup  *OrderGroup  `json:"-" gorm:"foreignKey:OrderGroupID;references:ID"`
}

// TableName returns the database table name for AppointmentOrder.
func (AppointmentOrder) TableName() string { return "appointment_orders" }

// OrderGroup is the set of orders of one multi-leg booking. The group owns the
// search plan for all of its members; its earliest-scheduled member is the
// anchor that drives group-level decisions.
type OrderGroup struct {
	ID                  string `json:"id"                    gorm:"type:char(36);primaryKey"`
	AppointmentsGroupID string `json:"appointments_group_id" gorm:"type:varchar(64);not null;uniqueIndex"`
	PlatformID          string `json:"platform_id"           gorm:"type:varchar(32);not null"`
	ClientID            string `json:"client_id"             gorm:"type:char(36);not null;index"`
	SameInterpreter     bool   `json:"same_interpreter"      gorm:"not null;default:false"`
	AcceptOvertimeRates bool   `json:"accept_overtime_rates" gorm:"not null;default:false"`
	Timezone            string `json:"timezone"              gorm:"type:varchar(64)"`
	SearchPlan          `gorm:"embedded"`
	CreatedAt           time.Time `json:"created_at"`
	UpdatedAt           time.Time `json:"updated_at"`

	Orders []AppointmentOrder `json:"-" gorm:"foreignKey:OrderGroupID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

// TableName returns the database table name for OrderGroup.
func (OrderGroup) TableName() string { return "order_groups" }

// StringSet is an insertion-ordered set of identifiers stored as a JSON array.
type StringSet []string

// Add appends id unless it is already present.
func (s *StringSet) Add(id string) {
	if s.Contains(id) {
		return
	}
	*s = append(*s, id)
}

// Contains reports whether id is a member.
func (s StringSet) Contains(id string) bool {
	for _, v := range s {
		if v == id {
			return true
		}
	}
	return false
}

// Value implements driver.Valuer.
func (s StringSet) Value() (driver.Value, error) {
	if s == nil {
		return "[]", nil
	}
	b, err := json.Marshal([]string(s))
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner. Duplicates in stored data are dropped.
func (s *StringSet) Scan(src any) error {
	var raw []byte
	switch v := src.(type) {
	case nil:
		*s = StringSet{}
		return nil
	case string:
		raw = []byte(v)
	case []byte:
		raw = v
	default:
		return fmt.Errorf("string set: unsupported source type %T", src)
	}
	if len(raw) == 0 {
		*s = StringSet{}
		return nil
	}
	var ids []string
	if err := json.Unmarshal(raw, &ids); err != nil {
		return errors.Join(errors.New("string set: invalid json"), err)
	}
	out := make(StringSet, 0, len(ids))
	for _, id := range ids {
		out.Add(id)
	}
	*s = out
	return nil
}

// Bool returns a pointer to b.
func Bool(b bool) *bool { return &b }

// Int returns a pointer to n.
func Int(n int) *int { return &n }

// Time returns a pointer to t.
func Time(t time.Time) *time.Time { return &t }

// String returns a pointer to s.
func String(s string) *string { return &s }

func deref(b *bool) bool { return b != nil && *b }
