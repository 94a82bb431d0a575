package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/davicafu/bookflow/internal/basket/application"
	"github.com/davicafu/bookflow/internal/basket/domain"
	"github.com/davicafu/bookflow/pkg/utils"
)

// BasketHandler encapsula los endpoints HTTP de la cesta.
type BasketHandler struct {
	service *application.BasketService
}

func NewBasketHandler(service *application.BasketService) *BasketHandler {
	return &BasketHandler{service: service}
}

// UpsertBasket endpoint PUT /baskets/:id
func (h *BasketHandler) UpsertBasket(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var req application.UpsertRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.SendBadRequest(c, err.Error())
		return
	}

	b, err := h.service.Upsert(c.Request.Context(), id, req)
	if err != nil {
		sendError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"basket": b, "total": b.Total().StringFixed(2)})
}

// GetBasket endpoint GET /baskets/:id
func (h *BasketHandler) GetBasket(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	b, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		sendError(c, err)
		return
	}
	utils.SendSuccess(c, http.StatusOK, gin.H{"basket": b, "total": b.Total().StringFixed(2)})
}

// DeleteBasket endpoint DELETE /baskets/:id
func (h *BasketHandler) DeleteBasket(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), id); err != nil {
		sendError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func parseID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid basket id")
		return uuid.Nil, false
	}
	return id, true
}

func sendError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, domain.ErrBasketNotFound):
		utils.SendNotFound(c, err.Error())
	case errors.Is(err, domain.ErrInvalidBasket):
		utils.SendBadRequest(c, err.Error())
	default:
		utils.SendInternalServerError(c, err.Error())
	}
}
