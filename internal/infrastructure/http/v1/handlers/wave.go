package handlers

import (
	"github.com/gin-gonic/gin"

	"wavepick/internal/domain/wave"
	"wavepick/internal/infrastructure/http/v1/dto"
)

// WaveHandler serves wave generation, reset and picking endpoints.
type WaveHandler struct {
	base         *BaseHandler
	orchestrator *wave.Orchestrator
}

// NewWaveHandler creates a wave handler.
func NewWaveHandler(base *BaseHandler, orchestrator *wave.Orchestrator) *WaveHandler {
	return &WaveHandler{base: base, orchestrator: orchestrator}
}

// Generate materializes waves for every due setting on the shipping date.
// POST /waves/generate
func (h *WaveHandler) Generate(c *gin.Context) {
	var req dto.GenerateWavesRequest
	if !h.base.BindJSON(c, &req) {
		return
	}
	shippingDate, err := dto.ParseShippingDate(req.ShippingDate)
	if err != nil {
		h.base.Error(c, err)
		return
	}

	if req.Reset {
		if err := h.orchestrator.ResetWaveData(c.Request.Context(), shippingDate); err != nil {
			h.base.Error(c, err)
			return
		}
	}

	result, err := h.orchestrator.GenerateWaves(c.Request.Context(), shippingDate)
	if err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.OK(c, result)
}

// Reset discards all wave data for the shipping date and compensates
// reservations, shortages and order line statuses.
// POST /waves/reset
func (h *WaveHandler) Reset(c *gin.Context) {
	var req dto.ResetWavesRequest
	if !h.base.BindJSON(c, &req) {
		return
	}
	shippingDate, err := dto.ParseShippingDate(req.ShippingDate)
	if err != nil {
		h.base.Error(c, err)
		return
	}

	if err := h.orchestrator.ResetWaveData(c.Request.Context(), shippingDate); err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.Success(c, "wave data reset")
}

// List returns the waves of a shipping date.
// GET /waves?shippingDate=YYYY-MM-DD
func (h *WaveHandler) List(c *gin.Context) {
	var query dto.ListWavesQuery
	if !h.base.BindQuery(c, &query) {
		return
	}
	shippingDate, err := dto.ParseShippingDate(query.ShippingDate)
	if err != nil {
		h.base.Error(c, err)
		return
	}

	waves, err := h.orchestrator.ListWaves(c.Request.Context(), shippingDate)
	if err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.OK(c, dto.WaveListResponse{Waves: waves})
}

// GetTask returns a picking task with its item results in walking order.
// GET /tasks/:id
func (h *WaveHandler) GetTask(c *gin.Context) {
	taskID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}

	task, items, err := h.orchestrator.TaskDetail(c.Request.Context(), taskID)
	if err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.OK(c, dto.TaskDetailResponse{Task: task, Items: items})
}

// CompleteItem records the picked quantity for an item result, deriving
// shortage and completion status.
// POST /picking/items/:id/complete
func (h *WaveHandler) CompleteItem(c *gin.Context) {
	itemResultID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.CompleteItemRequest
	if !h.base.BindJSON(c, &req) {
		return
	}

	item, err := h.orchestrator.CompleteItem(c.Request.Context(), itemResultID, req.PickedQtyEach)
	if err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.OK(c, item)
}
