// Order lifecycle ops endpoints.
//
//   - GET  /orders/{id}                    (inspect an order and its phase)
//   - GET  /order-groups/{id}              (inspect a group and its phase)
//   - POST /orders/{id}/search             (run one dispatch pass)
//   - POST /order-groups/{id}/search       (run one group dispatch pass)
//   - POST /order-groups/{id}/time-frames  (recompute the group schedule)
//   - POST /orders/{id}/expire             (cancel as expired)
//   - POST /order-groups/{id}/expire       (cancel the whole group as expired)
//   - POST /scheduler/tick                 (run one scheduler tick now)
//   - GET  /scheduler/due?limit=N          (peek at what the next tick dispatches)
//
// Handlers only parse the path, call a service and translate the result.
package handlers

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-interpreter-orders/internal/domain"
	"github.com/tbourn/go-interpreter-orders/internal/scheduler"
	"github.com/tbourn/go-interpreter-orders/internal/utils"
)

const (
	defaultDueLimit = 50
	maxDueLimit     = 500
)

// Lifecycle runs dispatch and expiry passes. The scheduler implements it so
// manual passes share its per-order mutual exclusion.
type Lifecycle interface {
	DispatchOrder(ctx context.Context, orderID string) error
	DispatchGroup(ctx context.Context, groupID string) error
	ExpireOrder(ctx context.Context, orderID string) error
	ExpireGroup(ctx context.Context, groupID string) error
	Tick(ctx context.Context) scheduler.Report
}

// TimeFrameService recomputes a group's retry schedule.
type TimeFrameService interface {
	CalculateTimeFramesForOrderGroup(ctx context.Context, groupID string) (*domain.OrderGroup, error)
}

// OrderReader loads orders and groups for inspection.
type OrderReader interface {
	Order(ctx context.Context, id string) (*domain.AppointmentOrder, error)
	OrderGroup(ctx context.Context, id string) (*domain.OrderGroup, error)
	DueOrders(ctx context.Context, limit int) ([]domain.AppointmentOrder, error)
	DueGroups(ctx context.Context, limit int) ([]domain.OrderGroup, error)
}

// Handlers groups the ops endpoints.
type Handlers struct {
	lifecycle  Lifecycle
	timeFrames TimeFrameService
	reader     OrderReader
}

// New constructs Handlers bound to the given services.
func New(lifecycle Lifecycle, timeFrames TimeFrameService, reader OrderReader) *Handlers {
	return &Handlers{lifecycle: lifecycle, timeFrames: timeFrames, reader: reader}
}

// OrderView is an order plus its derived search phase.
type OrderView struct {
	*domain.AppointmentOrder
	Phase domain.Phase `json:"phase"`
}

// OrderGroupView is a group plus its derived search phase.
type OrderGroupView struct {
	*domain.OrderGroup
	Phase domain.Phase `json:"phase"`
}

// PassResult acknowledges a completed dispatch pass.
type PassResult struct {
	ID    string `json:"id"`
	Scope string `json:"scope"`
}

// DueList is what the next scheduler tick would dispatch, each side capped
// at the requested limit.
type DueList struct {
	Limit  int                       `json:"limit"`
	Orders []domain.AppointmentOrder `json:"orders"`
	Groups []domain.OrderGroup       `json:"groups"`
}

// pathID returns the trimmed :id parameter, or aborts with 400 when empty.
func pathID(c *gin.Context) (string, bool) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "id is required")
		return "", false
	}
	return id, true
}

// GetOrder returns an order with its phase.
func (h *Handlers) GetOrder(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	o, err := h.reader.Order(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, OrderView{AppointmentOrder: o, Phase: o.SearchPlan.Phase()})
}

// GetOrderGroup returns a group with its phase.
func (h *Handlers) GetOrderGroup(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	g, err := h.reader.OrderGroup(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, OrderGroupView{OrderGroup: g, Phase: g.SearchPlan.Phase()})
}

// SearchOrder runs one dispatch pass for an order.
func (h *Handlers) SearchOrder(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if err := h.lifecycle.DispatchOrder(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, PassResult{ID: id, Scope: "order"})
}

// SearchOrderGroup runs one dispatch pass for a group.
func (h *Handlers) SearchOrderGroup(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if err := h.lifecycle.DispatchGroup(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, PassResult{ID: id, Scope: "group"})
}

// RecalculateTimeFrames recomputes a group's schedule from its anchor order
// and returns the updated group.
func (h *Handlers) RecalculateTimeFrames(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	g, err := h.timeFrames.CalculateTimeFramesForOrderGroup(c.Request.Context(), id)
	if err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusOK, OrderGroupView{OrderGroup: g, Phase: g.SearchPlan.Phase()})
}

// ExpireOrder cancels an order as expired.
func (h *Handlers) ExpireOrder(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if err := h.lifecycle.ExpireOrder(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// ExpireOrderGroup cancels every order of a group as expired.
func (h *Handlers) ExpireOrderGroup(c *gin.Context) {
	id, valid := pathID(c)
	if !valid {
		return
	}
	if err := h.lifecycle.ExpireGroup(c.Request.Context(), id); err != nil {
		failErr(c, err)
		return
	}
	noContent(c)
}

// Tick runs one scheduler tick and reports its counts.
func (h *Handlers) Tick(c *gin.Context) {
	ok(c, http.StatusOK, h.lifecycle.Tick(c.Request.Context()))
}

// Due lists stand-alone orders and groups whose next search attempt is due.
func (h *Handlers) Due(c *gin.Context) {
	limit := utils.ClampedInt(c.Query("limit"), defaultDueLimit, 1, maxDueLimit)
	ctx := c.Request.Context()
	orders, err := h.reader.DueOrders(ctx, limit)
	if err != nil {
		failErr(c, err)
		return
	}
	groups, err := h.reader.DueGroups(ctx, limit)
	if err != nil {
		failErr(c, err)
		return
	}
	if orders == nil {
		orders = []domain.AppointmentOrder{}
	}
	if groups == nil {
		groups = []domain.OrderGroup{}
	}
	ok(c, http.StatusOK, DueList{Limit: limit, Orders: orders, Groups: groups})
}
