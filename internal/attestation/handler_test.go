package attestation_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/attestation"
	"carbon-scribe/mrv-registry/internal/auth"
)

func newRouter(f *fixture, actor auth.Actor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		auth.WithActor(c, actor)
		c.Next()
	})
	attestation.NewHandler(f.service, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))
	return router
}

func TestHandler_SubmitReturnsAccepted(t *testing.T) {
	f := newFixture(t, false, 8)
	router := newRouter(f, validator)

	body := `{"project_id":"` + f.project.ID + `","analysis_data":{"co2":120.5,"areaChange":0.03}}`
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attestations", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusAccepted, w.Code)
	var record attestation.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, attestation.LedgerUnavailable, record.LedgerStatus)
	assert.JSONEq(t, `{"areaChange":0.03,"co2":120.5}`, string(record.AnalysisData))

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/attestations/"+record.ID+"/verify", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"match":true`)
}

func TestHandler_ErrorStatuses(t *testing.T) {
	f := newFixture(t, false, 8)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/attestations", strings.NewReader(`{"project_id":"`+f.project.ID+`"}`))
	req.Header.Set("Content-Type", "application/json")
	newRouter(f, owner).ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = httptest.NewRecorder()
	newRouter(f, admin).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/attestations/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodPost, "/api/v1/attestations", strings.NewReader(`{}`))
	req.Header.Set("Content-Type", "application/json")
	newRouter(f, admin).ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
