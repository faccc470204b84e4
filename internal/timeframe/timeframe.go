// Package timeframe derives the retry schedule of an interpreter search from
// the session's communication type and scheduled start.
//
// The schedule is expressed as a Plan. A Plan with a nil NextRepeatTime means
// no retry is possible any more (the search window already closed) and callers
// that need a schedule must treat it as a hard failure.
package timeframe

import (
	"time"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
)

// Plan is the initial repeat schedule of a search.
type Plan struct {
	NextRepeatTime   *time.Time
	RepeatInterval   *time.Duration
	RemainingRepeats *int
	NotifyAdmin      *bool
	EndSearchTime    *time.Time
}

// Empty reports whether the plan carries no retry schedule.
func (p Plan) Empty() bool { return p.NextRepeatTime == nil }

// Calculator computes the initial schedule for a search.
type Calculator interface {
	CalculateInitialTimeFrames(ct domain.CommunicationType, scheduledStart time.Time) Plan
}

// Rule configures the schedule for one communication type. Searches repeat
// every Interval and stop CutOff before the session starts.
type Rule struct {
	Interval time.Duration
	CutOff   time.Duration
}

// DefaultRules are used for communication types missing from Baseline.Rules.
var DefaultRules = map[domain.CommunicationType]Rule{
	domain.CommunicationAudio:      {Interval: 5 * time.Minute, CutOff: 15 * time.Minute},
	domain.CommunicationVideo:      {Interval: 5 * time.Minute, CutOff: 15 * time.Minute},
	domain.CommunicationFaceToFace: {Interval: 30 * time.Minute, CutOff: 2 * time.Hour},
}

// AdminNoticeWindow is how close to the start a search must be for admins to
// be notified when it fails.
const AdminNoticeWindow = 24 * time.Hour

// Baseline is a rule-table Calculator.
type Baseline struct {
	Rules map[domain.CommunicationType]Rule
	Now   func() time.Time
}

// NewBaseline returns a Baseline over DefaultRules and the wall clock.
func NewBaseline() *Baseline {
	return &Baseline{Rules: DefaultRules, Now: time.Now}
}

func (b *Baseline) rule(ct domain.CommunicationType) Rule {
	if r, ok := b.Rules[ct]; ok {
		return r
	}
	if r, ok := DefaultRules[ct]; ok {
		return r
	}
	return DefaultRules[domain.CommunicationFaceToFace]
}

// CalculateInitialTimeFrames returns an empty Plan when fewer than one full
// interval remains before the cut-off.
func (b *Baseline) CalculateInitialTimeFrames(ct domain.CommunicationType, scheduledStart time.Time) Plan {
	now := time.Now
	if b.Now != nil {
		now = b.Now
	}
	t := now().UTC()
	r := b.rule(ct)
	if r.Interval <= 0 {
		return Plan{}
	}

	end := scheduledStart.UTC().Add(-r.CutOff)
	repeats := int(end.Sub(t) / r.Interval)
	if repeats < 1 {
		return Plan{}
	}

	next := t.Add(r.Interval)
	interval := r.Interval
	notify := scheduledStart.Sub(t) <= AdminNoticeWindow
	return Plan{
		NextRepeatTime:   &next,
		RepeatInterval:   &interval,
		RemainingRepeats: &repeats,
		NotifyAdmin:      &notify,
		EndSearchTime:    &end,
	}
}
