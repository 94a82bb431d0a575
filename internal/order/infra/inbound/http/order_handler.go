package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/davicafu/bookflow/internal/order/application"
	"github.com/davicafu/bookflow/internal/order/domain"
	"github.com/davicafu/bookflow/pkg/utils"
)

// IdempotencyKeyHeader identifica un checkout repetido del mismo comprador.
const IdempotencyKeyHeader = "Idempotency-Key"

// OrderHandler encapsula los endpoints HTTP relacionados con Order
type OrderHandler struct {
	service *application.OrderService
}

// NewOrderHandler crea un nuevo OrderHandler
func NewOrderHandler(service *application.OrderService) *OrderHandler {
	return &OrderHandler{service: service}
}

type checkoutResponse struct {
	OrderID string `json:"orderId"`
	Status  string `json:"status"`
	Total   string `json:"total"`
	Created bool   `json:"created"`
}

// ---------------- Handlers ----------------

// Checkout endpoint POST /orders. Responde 202: el resultado final llega por la saga.
func (h *OrderHandler) Checkout(c *gin.Context) {
	var req application.CheckoutRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}
	req.IdempotencyKey = c.GetHeader(IdempotencyKeyHeader)

	order, created, err := h.service.Checkout(c.Request.Context(), req)
	if err != nil {
		h.sendError(c, err)
		return
	}

	c.Header("Location", "/orders/"+order.ID.String())
	utils.SendSuccess(c, http.StatusAccepted, checkoutResponse{
		OrderID: order.ID.String(),
		Status:  string(order.Status),
		Total:   order.Total().StringFixed(2),
		Created: created,
	})
}

// GetOrder endpoint GET /orders/:id
func (h *OrderHandler) GetOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	view, err := h.service.GetOrder(c.Request.Context(), id)
	if err != nil {
		h.sendError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, view)
}

// CompleteOrder endpoint POST /orders/:id/complete
func (h *OrderHandler) CompleteOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	order, err := h.service.Complete(c.Request.Context(), id)
	if err != nil {
		h.sendError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"orderId": order.ID, "status": order.Status})
}

// CancelOrder endpoint POST /orders/:id/cancel
func (h *OrderHandler) CancelOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req struct {
		Reason string `json:"reason"`
	}
	// el cuerpo es opcional
	_ = c.ShouldBindJSON(&req)

	order, err := h.service.Cancel(c.Request.Context(), id, req.Reason)
	if err != nil {
		h.sendError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"orderId": order.ID, "status": order.Status})
}

// DeleteOrder endpoint DELETE /orders/:id
func (h *OrderHandler) DeleteOrder(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		h.sendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid order id")
		return uuid.Nil, false
	}
	return id, true
}

func (h *OrderHandler) sendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrOrderNotFound):
		utils.SendNotFound(c, "order not found")
	case errors.Is(err, domain.ErrBookNotFound), errors.Is(err, domain.ErrInvalidOrder):
		utils.SendBadRequest(c, err.Error())
	case errors.Is(err, domain.ErrCheckoutInProgress), errors.Is(err, domain.ErrInvalidStatusTransition),
		errors.Is(err, domain.ErrConcurrencyConflict):
		utils.SendConflict(c, err.Error())
	default:
		utils.SendInternalServerError(c, err.Error())
	}
}
