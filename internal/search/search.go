// Package search defines the contract between the dispatch orchestrator and
// the matching engines that look for an accepting interpreter.
//
// A dispatch pass builds a Context, hands it to one Engine, and then commits
// the Context's plan flags exactly once unless the engine reports that it
// already persisted a terminal state (typically by deleting the order after a
// match). Engines mutate the Context in place:
//
//   - set the four plan flags to their next values;
//   - set TimeToRestart when a new retry horizon was computed;
//   - call MarkSaved if and only if they persisted a terminal state
//     themselves.
package search

import (
	"context"
	"time"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
)

// Context is the transient state of one dispatch pass.
type Context struct {
	Order *domain.AppointmentOrder
	// Group is set for group dispatches; Order is then the group's anchor.
	Group          *domain.OrderGroup
	SchedulingType domain.SchedulingType

	SendNotifications bool
	SetRedFlags       bool

	IsFirstSearchCompleted   bool
	IsSecondSearchCompleted  bool
	IsSearchNeeded           bool
	IsCompanyHasInterpreters bool
	TimeToRestart            *time.Time

	// IsOrderSaved is true once the engine persisted final state itself.
	IsOrderSaved bool

	// Now is the dispatch time.
	Now time.Time
}

// MarkSaved records that the engine persisted a terminal state.
func (c *Context) MarkSaved() { c.IsOrderSaved = true }

// Phase is the readable view of the current flags.
func (c *Context) Phase() domain.Phase {
	return domain.PhaseOf(c.IsFirstSearchCompleted, c.IsSecondSearchCompleted, c.IsSearchNeeded)
}

// Plan returns the search plan owning this pass: the group's for group
// dispatches, the order's otherwise.
func (c *Context) Plan() domain.SearchPlan {
	if c.Group != nil {
		return c.Group.SearchPlan
	}
	if c.Order != nil {
		return c.Order.SearchPlan
	}
	return domain.SearchPlan{}
}

// Engine runs one matching pass.
type Engine interface {
	Run(ctx context.Context, sc *Context) error
}

// EngineFunc adapts a function to Engine.
type EngineFunc func(ctx context.Context, sc *Context) error

// Run calls f.
func (f EngineFunc) Run(ctx context.Context, sc *Context) error { return f(ctx, sc) }
