// Package notify delivers order lifecycle notifications.
//
// Every send is fire-and-forget: Dispatcher hands the message to a Sender on
// its own goroutine, detached from the caller's cancellation, and a failure is
// logged with the recipient and platform id and then dropped. Nothing is
// retried and nothing is reported back to the caller. State changes are always
// committed before a notification is dispatched.
package notify

import (
	"context"
	"time"
)

// Event identifies the kind of notification.
type Event string

const (
	EventOrderAccepted    Event = "order_accepted"
	EventOrderCancelled   Event = "order_cancelled"
	EventGroupCancelled   Event = "group_cancelled"
	EventRepeatInvitation Event = "repeat_invitation"
	EventRedFlag          Event = "red_flag"
)

// Detail is the event-specific payload.
type Detail map[string]any

// Message is one notification addressed to one recipient.
type Message struct {
	Event       Event     `json:"event"`
	RecipientID string    `json:"recipient_id"`
	PlatformID  string    `json:"platform_id"`
	Detail      Detail    `json:"detail,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Sender delivers a message over some transport.
type Sender interface {
	Send(ctx context.Context, m Message) error
}

// Notifier has one method per event. Implementations must not block on
// delivery and must never surface delivery failures.
type Notifier interface {
	OrderAccepted(ctx context.Context, recipientID, platformID string, d Detail)
	OrderCancelled(ctx context.Context, recipientID, platformID string, d Detail)
	GroupCancelled(ctx context.Context, recipientID, platformID string, d Detail)
	RepeatInvitation(ctx context.Context, recipientID, platformID string, d Detail)
	RedFlag(ctx context.Context, recipientID, platformID string, d Detail)
}

// Nop discards every notification.
type Nop struct{}

func (Nop) OrderAccepted(context.Context, string, string, Detail)    {}
func (Nop) OrderCancelled(context.Context, string, string, Detail)   {}
func (Nop) GroupCancelled(context.Context, string, string, Detail)   {}
func (Nop) RepeatInvitation(context.Context, string, string, Detail) {}
func (Nop) RedFlag(context.Context, string, string, Detail)          {}
