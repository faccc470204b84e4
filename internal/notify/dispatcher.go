package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"github.com/tbourn/go-interpreter-orders/internal/observability"
)

// Options tune a Dispatcher. Zero values fall back to defaults.
type Options struct {
	// Timeout bounds a single send, including time spent waiting on the
	// rate limiter.
	Timeout time.Duration
	// RPS and Burst throttle sends across all goroutines. RPS <= 0 disables
	// throttling.
	RPS   float64
	Burst int
	Now   func() time.Time
}

// Dispatcher is the Notifier used in production.
type Dispatcher struct {
	sender  Sender
	log     zerolog.Logger
	timeout time.Duration
	limiter *rate.Limiter
	now     func() time.Time
	wg      sync.WaitGroup
}

// NewDispatcher wraps s with the fire-and-forget policy.
func NewDispatcher(s Sender, log zerolog.Logger, opt Options) *Dispatcher {
	d := &Dispatcher{
		sender:  s,
		log:     log.With().Str("component", "notify").Logger(),
		timeout: opt.Timeout,
		now:     opt.Now,
	}
	if d.timeout <= 0 {
		d.timeout = 10 * time.Second
	}
	if d.now == nil {
		d.now = time.Now
	}
	if opt.RPS > 0 {
		burst := opt.Burst
		if burst <= 0 {
			burst = 1
		}
		d.limiter = rate.NewLimiter(rate.Limit(opt.RPS), burst)
	}
	return d
}

func (d *Dispatcher) OrderAccepted(ctx context.Context, recipientID, platformID string, det Detail) {
	d.dispatch(ctx, EventOrderAccepted, recipientID, platformID, det)
}

func (d *Dispatcher) OrderCancelled(ctx context.Context, recipientID, platformID string, det Detail) {
	d.dispatch(ctx, EventOrderCancelled, recipientID, platformID, det)
}

func (d *Dispatcher) GroupCancelled(ctx context.Context, recipientID, platformID string, det Detail) {
	d.dispatch(ctx, EventGroupCancelled, recipientID, platformID, det)
}

func (d *Dispatcher) RepeatInvitation(ctx context.Context, recipientID, platformID string, det Detail) {
	d.dispatch(ctx, EventRepeatInvitation, recipientID, platformID, det)
}

func (d *Dispatcher) RedFlag(ctx context.Context, recipientID, platformID string, det Detail) {
	d.dispatch(ctx, EventRedFlag, recipientID, platformID, det)
}

// Wait blocks until every dispatched send has finished.
func (d *Dispatcher) Wait() { d.wg.Wait() }

func (d *Dispatcher) dispatch(ctx context.Context, ev Event, recipientID, platformID string, det Detail) {
	m := Message{
		Event:       ev,
		RecipientID: recipientID,
		PlatformID:  platformID,
		Detail:      det,
		CreatedAt:   d.now().UTC(),
	}
	// The send outlives the request or tick that triggered it.
	base := context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		err := d.send(base, m)
		if err != nil {
			observability.Notifications.WithLabelValues(string(ev), "failed").Inc()
			d.log.Error().Err(err).
				Str("event", string(ev)).
				Str("recipient_id", recipientID).
				Str("platform_id", platformID).
				Msg("notification failed")
			return
		}
		observability.Notifications.WithLabelValues(string(ev), "sent").Inc()
	}()
}

func (d *Dispatcher) send(base context.Context, m Message) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sender panic: %v", r)
		}
	}()
	ctx, cancel := context.WithTimeout(base, d.timeout)
	defer cancel()
	if d.limiter != nil {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
	}
	return d.sender.Send(ctx, m)
}
