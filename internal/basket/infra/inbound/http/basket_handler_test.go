package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/davicafu/bookflow/internal/basket/application"
	sharedEvents "github.com/davicafu/bookflow/internal/shared/domain/events"
	"github.com/davicafu/bookflow/tests/mocks"
)

func setupRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	service := application.NewBasketService(mocks.NewInMemoryBasketRepo(), nil, sharedEvents.NewFulfillmentRegistry(), 0, zap.NewNop())
	r := gin.New()
	RegisterBasketRoutes(r, NewBasketHandler(service))
	return r
}

func do(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestBasketEndpoints(t *testing.T) {
	r := setupRouter()
	id := uuid.NewString()
	body := map[string]interface{}{
		"buyerId": uuid.NewString(),
		"items": []map[string]interface{}{
			{"bookId": uuid.NewString(), "quantity": 2, "unitPrice": "9.95"},
		},
	}

	w := do(r, http.MethodPut, "/baskets/"+id, body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var resp struct {
		Data struct {
			Total string `json:"total"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "19.90", resp.Data.Total)

	w = do(r, http.MethodGet, "/baskets/"+id, nil)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/baskets/"+id, nil).Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/baskets/"+id, nil).Code)
}

func TestBasketEndpoints_Validation(t *testing.T) {
	r := setupRouter()

	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodGet, "/baskets/nope", nil).Code)

	missingBuyer := map[string]interface{}{"items": []interface{}{}}
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/baskets/"+uuid.NewString(), missingBuyer).Code)

	negative := map[string]interface{}{
		"buyerId": uuid.NewString(),
		"items":   []map[string]interface{}{{"bookId": uuid.NewString(), "quantity": 1, "unitPrice": "-1"}},
	}
	assert.Equal(t, http.StatusBadRequest, do(r, http.MethodPut, "/baskets/"+uuid.NewString(), negative).Code)
}
