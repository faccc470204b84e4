// Package services implements the order lifecycle: creating orders and order
// groups, dispatching them to matching engines, and cancelling them when their
// search expires. This file centralizes the service-level error values so that
// callers and handlers can classify failures with errors.Is.
//
// Two categories exist. ErrValidation covers input or state that makes the
// operation impossible (a missing client, an uninitialized search plan, no
// retry schedule). ErrNotFound covers missing rows and broken data integrity
// (a mandatory reminder or order is gone). Every specific error below wraps
// exactly one of them.
package services

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation is the category of validation failures.
	ErrValidation = errors.New("validation failed")

	// ErrNotFound is the category of missing or inconsistent data.
	ErrNotFound = errors.New("not found")
)

// Validation errors.
var (
	// ErrClientRequired is returned when an appointment has no resolved client
	// at order creation.
	ErrClientRequired = fmt.Errorf("%w: appointment has no client", ErrValidation)

	// ErrSearchPlanIncomplete is returned when an order or group reaches
	// dispatch with a null plan flag.
	ErrSearchPlanIncomplete = fmt.Errorf("%w: search plan flags are not initialized", ErrValidation)

	// ErrGroupHasNoOrders is returned when a group has no member orders.
	ErrGroupHasNoOrders = fmt.Errorf("%w: order group has no orders", ErrValidation)

	// ErrNoRepeatSchedule is returned when no retry schedule can be computed.
	ErrNoRepeatSchedule = fmt.Errorf("%w: no repeat schedule available", ErrValidation)

	// ErrAdminInfoRequired is returned when an order's appointment has no admin
	// info at dispatch.
	ErrAdminInfoRequired = fmt.Errorf("%w: appointment has no admin info", ErrValidation)
)

// Not-found and integrity errors.
var (
	ErrOrderNotFound            = fmt.Errorf("%w: order", ErrNotFound)
	ErrOrderGroupNotFound       = fmt.Errorf("%w: order group", ErrNotFound)
	ErrAppointmentNotFound      = fmt.Errorf("%w: appointment", ErrNotFound)
	ErrAppointmentClientMissing = fmt.Errorf("%w: appointment client", ErrNotFound)
	ErrReminderMissing          = fmt.Errorf("%w: appointment reminder", ErrNotFound)
	ErrOrderMissing             = fmt.Errorf("%w: appointment order", ErrNotFound)
	ErrMeetingConfigMissing     = fmt.Errorf("%w: meeting configuration", ErrNotFound)
)
