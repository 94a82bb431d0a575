package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/davicafu/bookflow/internal/fulfillment/application"
	"github.com/davicafu/bookflow/internal/fulfillment/domain"
)

type stubReader map[uuid.UUID]*application.SagaStatus

func (s stubReader) Get(_ context.Context, id uuid.UUID) (*application.SagaStatus, error) {
	if id == uuid.Nil {
		return nil, errors.New("db down")
	}
	st, ok := s[id]
	if !ok {
		return nil, domain.ErrSagaNotFound
	}
	return st, nil
}

func serve(r *gin.Engine, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestGetSaga(t *testing.T) {
	gin.SetMode(gin.TestMode)
	active, done := uuid.New(), uuid.New()
	reader := stubReader{
		active: {Instance: &domain.Instance{CorrelationID: active, State: domain.StatePlaced, Step: domain.StepSettling}},
		done:   {Archive: &domain.ArchiveRecord{CorrelationID: done, FinalState: domain.StateCompleted, FinishedAt: time.Now()}},
	}
	r := gin.New()
	RegisterSagaRoutes(r, NewSagaHandler(reader))

	w := serve(r, "/sagas/"+active.String())
	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Data application.SagaStatus `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Data.Instance)
	assert.Equal(t, domain.StepSettling, body.Data.Instance.Step)

	w = serve(r, "/sagas/"+done.String())
	require.Equal(t, http.StatusOK, w.Code)
	body.Data = application.SagaStatus{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	require.NotNil(t, body.Data.Archive)
	assert.Equal(t, domain.StateCompleted, body.Data.Archive.FinalState)

	assert.Equal(t, http.StatusNotFound, serve(r, "/sagas/"+uuid.NewString()).Code)
	assert.Equal(t, http.StatusBadRequest, serve(r, "/sagas/nope").Code)
	assert.Equal(t, http.StatusInternalServerError, serve(r, "/sagas/"+uuid.Nil.String()).Code)
}
