package status

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRouter(t *testing.T) (*gin.Engine, *Aggregator) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	a := NewAggregator(nil, nil, testLogger(t))
	RegisterRoutes(router, a, testLogger(t))
	return router, a
}

func doJSON(t *testing.T, router *gin.Engine, method, path string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)

	var decoded map[string]interface{}
	if resp.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &decoded))
	}
	return resp, decoded
}

func TestStatusRoutes(t *testing.T) {
	router, a := setupRouter(t)

	resp, body := doJSON(t, router, http.MethodPost, "/api/v1/status", gin.H{"tool": "build", "value": "green"})
	require.Equal(t, http.StatusOK, resp.Code)
	assert.Equal(t, "build: green", body["line"])

	t.Run("push then get drains exactly once", func(t *testing.T) {
		resp, _ := doJSON(t, router, http.MethodPost, "/api/v1/status/push", gin.H{"tool": "build", "text": "deploy done"})
		require.Equal(t, http.StatusOK, resp.Code)

		resp, body := doJSON(t, router, http.MethodGet, "/api/v1/status", nil)
		require.Equal(t, http.StatusOK, resp.Code)
		msgs := body["messages"].([]interface{})
		require.Len(t, msgs, 1)
		first := msgs[0].(map[string]interface{})
		assert.Equal(t, "deploy done", first["text"])

		_, body = doJSON(t, router, http.MethodGet, "/api/v1/status", nil)
		assert.Empty(t, body["messages"])
	})

	t.Run("clearing via empty value", func(t *testing.T) {
		resp, body := doJSON(t, router, http.MethodPost, "/api/v1/status", gin.H{"tool": "build", "value": ""})
		require.Equal(t, http.StatusOK, resp.Code)
		assert.Equal(t, "", body["line"])
		assert.Empty(t, a.Items())
	})

	t.Run("push requires tool and text", func(t *testing.T) {
		resp, body := doJSON(t, router, http.MethodPost, "/api/v1/status/push", gin.H{"tool": "x"})
		require.Equal(t, http.StatusBadRequest, resp.Code)
		assert.Contains(t, body, "expected")
	})
}
