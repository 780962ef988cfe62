package handlers

import (
	"github.com/gin-gonic/gin"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/id"
	"wavepick/internal/domain/routing"
	"wavepick/internal/infrastructure/http/v1/dto"
)

// RoutingHandler serves walking-order optimization endpoints.
type RoutingHandler struct {
	base      *BaseHandler
	optimizer *routing.Optimizer
}

// NewRoutingHandler creates a routing handler.
func NewRoutingHandler(base *BaseHandler, optimizer *routing.Optimizer) *RoutingHandler {
	return &RoutingHandler{base: base, optimizer: optimizer}
}

// Optimize recomputes the walking order for a picking task or an explicit
// set of item results on one floor.
// POST /routes/optimize
func (h *RoutingHandler) Optimize(c *gin.Context) {
	var req dto.OptimizeRouteRequest
	if !h.base.BindJSON(c, &req) {
		return
	}

	if req.TaskID != "" {
		taskID, err := id.Parse(req.TaskID)
		if err != nil {
			h.base.Error(c, apperror.NewValidation("malformed task id").
				WithDetail("value", req.TaskID))
			return
		}
		result, err := h.optimizer.OptimizeTask(c.Request.Context(), taskID)
		if err != nil {
			h.base.Error(c, err)
			return
		}
		h.base.OK(c, result)
		return
	}

	if req.FloorID == "" || len(req.ItemResultIDs) == 0 {
		h.base.Error(c, apperror.NewValidation("either taskId or floorId with itemResultIds is required"))
		return
	}
	floorID, err := id.Parse(req.FloorID)
	if err != nil {
		h.base.Error(c, apperror.NewValidation("malformed floor id").
			WithDetail("value", req.FloorID))
		return
	}
	itemIDs := make([]id.ID, 0, len(req.ItemResultIDs))
	for _, raw := range req.ItemResultIDs {
		itemID, err := id.Parse(raw)
		if err != nil {
			h.base.Error(c, apperror.NewValidation("malformed item result id").
				WithDetail("value", raw))
			return
		}
		itemIDs = append(itemIDs, itemID)
	}

	result, err := h.optimizer.UpdateWalkingOrder(c.Request.Context(), routing.OptimizeRequest{
		ItemResultIDs: itemIDs,
		FloorID:       floorID,
	})
	if err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.OK(c, result)
}

// OptimizeTask recomputes the walking order for a picking task's items.
// POST /tasks/:id/optimize-route
func (h *RoutingHandler) OptimizeTask(c *gin.Context) {
	taskID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}

	result, err := h.optimizer.OptimizeTask(c.Request.Context(), taskID)
	if err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.OK(c, result)
}
