package http

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/davicafu/bookflow/internal/fulfillment/application"
	"github.com/davicafu/bookflow/internal/fulfillment/domain"
	"github.com/davicafu/bookflow/pkg/utils"
)

// SagaReader es la consulta que expone finance.
type SagaReader interface {
	Get(ctx context.Context, id uuid.UUID) (*application.SagaStatus, error)
}

// SagaHandler expone el estado de las sagas para diagnóstico.
type SagaHandler struct {
	sagas SagaReader
}

func NewSagaHandler(sagas SagaReader) *SagaHandler {
	return &SagaHandler{sagas: sagas}
}

// GetSaga endpoint GET /sagas/:id
func (h *SagaHandler) GetSaga(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		utils.SendBadRequest(c, "invalid saga id")
		return
	}

	status, err := h.sagas.Get(c.Request.Context(), id)
	switch {
	case errors.Is(err, domain.ErrSagaNotFound):
		utils.SendNotFound(c, "saga not found")
	case err != nil:
		utils.SendInternalServerError(c, err.Error())
	default:
		utils.SendSuccess(c, http.StatusOK, status)
	}
}

func RegisterSagaRoutes(r *gin.Engine, handler *SagaHandler) {
	r.GET("/sagas/:id", handler.GetSaga)
}
