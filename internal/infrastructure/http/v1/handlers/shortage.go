package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"wavepick/internal/core/apperror"
	"wavepick/internal/core/id"
	"wavepick/internal/core/unit"
	"wavepick/internal/domain/shortage"
	"wavepick/internal/infrastructure/http/v1/dto"
)

// ShortageHandler serves the shortage confirmation workflow and proxy
// shipment allocation endpoints.
type ShortageHandler struct {
	base    *BaseHandler
	manager *shortage.Manager
}

// NewShortageHandler creates a shortage handler.
func NewShortageHandler(base *BaseHandler, manager *shortage.Manager) *ShortageHandler {
	return &ShortageHandler{base: base, manager: manager}
}

// Get returns one shortage.
// GET /shortages/:id
func (h *ShortageHandler) Get(c *gin.Context) {
	shortageID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}
	s, err := h.manager.GetShortage(c.Request.Context(), shortageID)
	if err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.OK(c, s)
}

// ListAllocations returns a shortage's proxy shipment allocations.
// GET /shortages/:id/allocations
func (h *ShortageHandler) ListAllocations(c *gin.Context) {
	shortageID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}
	allocations, err := h.manager.ListAllocations(c.Request.Context(), shortageID)
	if err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.OK(c, gin.H{"allocations": allocations})
}

// Confirm records operational confirmation of a shortage and releases its
// remaining reservations.
// POST /shortages/:id/confirm
func (h *ShortageHandler) Confirm(c *gin.Context) {
	shortageID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}
	if err := h.manager.ConfirmShortage(c.Request.Context(), shortageID); err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.Success(c, "shortage confirmed")
}

// CancelConfirmation reverts operational confirmation.
// DELETE /shortages/:id/confirm
func (h *ShortageHandler) CancelConfirmation(c *gin.Context) {
	shortageID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}
	if err := h.manager.CancelShortageConfirmation(c.Request.Context(), shortageID); err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.Success(c, "shortage confirmation cancelled")
}

// Approve records the approval that gates task completion.
// POST /shortages/:id/approve
func (h *ShortageHandler) Approve(c *gin.Context) {
	shortageID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}
	if err := h.manager.ApproveShortage(c.Request.Context(), shortageID); err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.Success(c, "shortage approved")
}

// CreateProxy creates a proxy shipment allocation against a shortage.
// POST /shortages/:id/allocations
func (h *ShortageHandler) CreateProxy(c *gin.Context) {
	shortageID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.CreateProxyShipmentRequest
	if !h.base.BindJSON(c, &req) {
		return
	}
	fromWarehouseID, err := id.Parse(req.FromWarehouseID)
	if err != nil {
		h.base.Error(c, apperror.NewValidation("malformed source warehouse id").
			WithDetail("value", req.FromWarehouseID))
		return
	}
	qtyType := unit.QuantityType(req.Unit)
	if !qtyType.Valid() {
		h.base.Error(c, apperror.NewValidation("unknown quantity unit").
			WithDetail("value", req.Unit))
		return
	}

	allocation, err := h.manager.CreateProxyShipment(c.Request.Context(), shortage.CreateProxyRequest{
		ShortageID:      shortageID,
		FromWarehouseID: fromWarehouseID,
		Qty:             req.Qty,
		Unit:            qtyType,
	})
	if err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.CompleteIdempotency(c, http.StatusCreated, "application/json", allocation)
	c.JSON(http.StatusCreated, allocation)
}

// UpdateProxy changes a pending allocation's quantity.
// PUT /allocations/:id
func (h *ShortageHandler) UpdateProxy(c *gin.Context) {
	allocationID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.UpdateProxyShipmentRequest
	if !h.base.BindJSON(c, &req) {
		return
	}

	allocation, err := h.manager.UpdateProxyShipment(c.Request.Context(), allocationID, req.Qty)
	if err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.OK(c, allocation)
}

// CancelProxy cancels an allocation that has not started picking.
// DELETE /allocations/:id
func (h *ShortageHandler) CancelProxy(c *gin.Context) {
	allocationID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}
	if err := h.manager.CancelProxyShipment(c.Request.Context(), allocationID); err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.NoContent(c)
}

// Reserve reserves stock at the source warehouse for an allocation.
// POST /allocations/:id/reserve
func (h *ShortageHandler) Reserve(c *gin.Context) {
	allocationID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}
	if err := h.manager.ReserveAllocation(c.Request.Context(), allocationID); err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.Success(c, "allocation reserved")
}

// StartPicking moves an allocation into the picking state.
// POST /allocations/:id/start-picking
func (h *ShortageHandler) StartPicking(c *gin.Context) {
	allocationID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}
	if err := h.manager.StartAllocationPicking(c.Request.Context(), allocationID); err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.Success(c, "allocation picking started")
}

// CompletePicking records the picked quantity at the source warehouse and
// emits the transfer instruction.
// POST /allocations/:id/complete-picking
func (h *ShortageHandler) CompletePicking(c *gin.Context) {
	allocationID, ok := h.base.PathID(c, "id")
	if !ok {
		return
	}
	var req dto.CompleteAllocationPickingRequest
	if !h.base.BindJSON(c, &req) {
		return
	}

	if err := h.manager.CompleteAllocationPicking(c.Request.Context(), allocationID, req.PickedQtyEach); err != nil {
		h.base.Error(c, err)
		return
	}
	h.base.Success(c, "allocation picking completed")
}
