// Package domain defines the persistence models for appointments, their
// interpreter-search orders, and the resources that hang off an appointment
// (reminder, meeting configuration, admin info). These types are mapped with
// GORM and form the core data layer of the order lifecycle.
package domain

import (
	"time"
)

// SchedulingType distinguishes bookings that need an interpreter right away
// from bookings made in advance.
type SchedulingType string

const (
	SchedulingOnDemand  SchedulingType = "ON_DEMAND"
	SchedulingPreBooked SchedulingType = "PRE_BOOKED"
)

// CommunicationType is the channel the session runs over.
type CommunicationType string

const (
	CommunicationAudio      CommunicationType = "AUDIO"
	CommunicationVideo      CommunicationType = "VIDEO"
	CommunicationFaceToFace CommunicationType = "FACE_TO_FACE"
)

// IsRemote reports whether the session runs over a conferencing meeting.
func (c CommunicationType) IsRemote() bool {
	return c == CommunicationAudio || c == CommunicationVideo
}

// InterpretingType describes the interpreting service requested.
type InterpretingType string

const (
	InterpretingConsecutive  InterpretingType = "CONSECUTIVE"
	InterpretingSimultaneous InterpretingType = "SIMULTANEOUS"
	InterpretingSignLanguage InterpretingType = "SIGN_LANGUAGE"
	// InterpretingEscort bookings are arranged manually and never enter
	// automated search.
	InterpretingEscort InterpretingType = "ESCORT"
)

// AppointmentStatus is the lifecycle state of an appointment.
type AppointmentStatus string

const (
	StatusPendingPaymentConfirmation AppointmentStatus = "PENDING_PAYMENT_CONFIRMATION"
	StatusPending                    AppointmentStatus = "PENDING"
	StatusLive                       AppointmentStatus = "LIVE"
	StatusAccepted                   AppointmentStatus = "ACCEPTED"
	StatusCompleted                  AppointmentStatus = "COMPLETED"
	StatusCancelledOrder             AppointmentStatus = "CANCELLED_ORDER"
	StatusCancelledBySystem          AppointmentStatus = "CANCELLED_BY_SYSTEM"
)

// Appointment is a confirmed booking request. It is owned by the booking
// module; the order lifecycle only reads it, links to it, and moves it to
// CANCELLED_BY_SYSTEM on expiration.
//
// Fields:
//   - ID / PlatformID: UUID primary key and the human-readable booking number.
//   - ClientID: resolved client; required before an order can be searched.
//   - InterpreterID: nil until an interpreter accepts.
//   - AppointmentsGroupID: shared across every leg of a multi-leg booking.
//   - AlternativePlatform: the session runs on an external platform, so no
//     meeting configuration is ever allocated.
//   - Reminder / MeetingConfiguration / AdminInfo / Order: has-one relations
//     keyed by AppointmentID on the child table.
type Appointment struct {
	ID                    string            `json:"id"                     gorm:"type:char(36);primaryKey"`
	PlatformID            string            `json:"platform_id"            gorm:"type:varchar(32);not null;index"`
	SchedulingType        SchedulingType    `json:"scheduling_type"        gorm:"type:varchar(16);not null"`
	CommunicationType     CommunicationType `json:"communication_type"     gorm:"type:varchar(16);not null"`
	InterpretingType      InterpretingType  `json:"interpreting_type"      gorm:"type:varchar(32);not null"`
	Status                AppointmentStatus `json:"status"                 gorm:"type:varchar(32);not null;index"`
	ClientID              *string           `json:"client_id,omitempty"    gorm:"type:char(36);index"`
	InterpreterID         *string           `json:"interpreter_id,omitempty" gorm:"type:char(36);index"`
	AppointmentsGroupID   *string           `json:"appointments_group_id,omitempty" gorm:"type:varchar(64);index"`
	ScheduledStartTime    time.Time         `json:"scheduled_start_time"   gorm:"not null;index"`
	SchedulingDurationMin int               `json:"scheduling_duration_min" gorm:"not null"`
	AlternativePlatform   bool              `json:"alternative_platform"   gorm:"not null;default:false"`
	LanguageFrom          string            `json:"language_from"          gorm:"type:varchar(16)"`
	LanguageTo            string            `json:"language_to"            gorm:"type:varchar(16)"`
	Topic                 string            `json:"topic"                  gorm:"type:varchar(64)"`
	AcceptOvertimeRates   bool              `json:"accept_overtime_rates"  gorm:"not null;default:false"`
	Timezone              string            `json:"timezone"               gorm:"type:varchar(64)"`
	CreatedAt             time.Time         `json:"created_at"`
	UpdatedAt             time.Time         `json:"updated_at"`

	Reminder             *AppointmentReminder  `json:"-" gorm:"foreignKey:AppointmentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	MeetingConfiguration *MeetingConfiguration `json:"-" gorm:"foreignKey:AppointmentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	AdminInfo            *AppointmentAdminInfo `json:"-" gorm:"foreignKey:AppointmentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Order                *AppointmentOrder     `json:"-" gorm:"foreignKey:AppointmentID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Appointment.
func (Appointment) TableName() string { return "appointments" }

// RequiresMeetingConfiguration reports whether a meeting configuration must
// exist for this appointment. Face-to-face sessions and sessions hosted on an
// alternative platform never allocate one.
func (a *Appointment) RequiresMeetingConfiguration() bool {
	return !a.AlternativePlatform && a.CommunicationType != CommunicationFaceToFace
}

// HasExternalMeeting reports whether an external conferencing meeting was
// allocated at booking time (on-demand audio/video only).
func (a *Appointment) HasExternalMeeting() bool {
	return a.SchedulingType == SchedulingOnDemand && a.CommunicationType.IsRemote()
}

// IsRedFlagged reports whether admins escalated this appointment.
func (a *Appointment) IsRedFlagged() bool {
	return a.AdminInfo != nil && a.AdminInfo.IsRedFlagEnabled
}

// AppointmentReminder schedules the reminder sent ahead of the session.
// Mandatory once an appointment exists.
type AppointmentReminder struct {
	ID            string    `json:"id"             gorm:"type:char(36);primaryKey"`
	AppointmentID string    `json:"appointment_id" gorm:"type:char(36);not null;uniqueIndex"`
	RemindAt      time.Time `json:"remind_at"      gorm:"not null;index"`
	CreatedAt     time.Time `json:"created_at"`
}

// TableName returns the database table name for AppointmentReminder.
func (AppointmentReminder) TableName() string { return "appointment_reminders" }

// MeetingConfiguration holds the conferencing setup for remote sessions.
// ExternalMeetingID is set only when a meeting was created with the
// conferencing provider (on-demand audio/video).
type MeetingConfiguration struct {
	ID                string    `json:"id"                  gorm:"type:char(36);primaryKey"`
	AppointmentID     string    `json:"appointment_id"      gorm:"type:char(36);not null;uniqueIndex"`
	ExternalMeetingID *string   `json:"external_meeting_id" gorm:"type:varchar(128)"`
	MediaRegion       string    `json:"media_region"        gorm:"type:varchar(32)"`
	CreatedAt         time.Time `json:"created_at"`
}

// TableName returns the database table name for MeetingConfiguration.
func (MeetingConfiguration) TableName() string { return "meeting_configurations" }

// AppointmentAdminInfo carries admin-side annotations, notably the red flag.
type AppointmentAdminInfo struct {
	ID               string    `json:"id"                  gorm:"type:char(36);primaryKey"`
	AppointmentID    string    `json:"appointment_id"      gorm:"type:char(36);not null;uniqueIndex"`
	IsRedFlagEnabled bool      `json:"is_red_flag_enabled" gorm:"not null;default:false"`
	Message          string    `json:"message"             gorm:"type:text"`
	UpdatedAt        time.Time `json:"updated_at"`
}

// TableName returns the database table name for AppointmentAdminInfo.
func (AppointmentAdminInfo) TableName() string { return "appointment_admin_info" }

// Address is the venue of a face-to-face session. It is not persisted by the
// order lifecycle; pricing uses it to account for travel.
type Address struct {
	Latitude   float64
	Longitude  float64
	Country    string
	State      string
	Suburb     string
	StreetName string
	PostalCode string
}
