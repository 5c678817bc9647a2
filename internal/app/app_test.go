package app

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	gorilla "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/attestation"
	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/config"
	"carbon-scribe/mrv-registry/internal/notifications/websocket"
	"carbon-scribe/mrv-registry/internal/projects"
)

const secret = "test-secret"

func newTestApp(t *testing.T) *App {
	t.Helper()
	gin.SetMode(gin.TestMode)
	cfg := &config.Config{
		Database: config.DatabaseConfig{Driver: config.DriverMemory},
		Anchor:   config.AnchorConfig{Workers: 2, QueueSize: 8},
		Security: config.SecurityConfig{JWTSecret: secret},
		Monitoring: config.MonitoringConfig{
			MetricsPath: "/metrics",
			StaleAfter:  time.Minute,
		},
	}
	a, err := New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	require.NoError(t, a.Start(context.Background()))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		assert.NoError(t, a.Shutdown(ctx))
	})
	return a
}

func bearer(t *testing.T, actor auth.Actor) string {
	t.Helper()
	token, err := auth.NewTokenParser(secret).Sign(actor, jwt.RegisteredClaims{
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	})
	require.NoError(t, err)
	return "Bearer " + token
}

func do(router http.Handler, method, path, authz, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestHealthAndMetrics(t *testing.T) {
	a := newTestApp(t)
	router := a.Router()

	w := do(router, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
	assert.Contains(t, w.Body.String(), `"ledger_configured":false`)

	w = do(router, http.MethodGet, "/metrics", "", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestAPIRequiresToken(t *testing.T) {
	router := newTestApp(t).Router()

	w := do(router, http.MethodGet, "/api/v1/projects", "", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(router, http.MethodOptions, "/api/v1/projects", "", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAttestationWithoutLedgerEndToEnd(t *testing.T) {
	a := newTestApp(t)
	router := a.Router()
	owner := bearer(t, auth.Actor{ID: "owner-1", Role: auth.RoleUser})
	validator := bearer(t, auth.Actor{ID: "V", Role: auth.RoleValidator})

	w := do(router, http.MethodPost, "/api/v1/projects", owner, `{"name":"Kelp forest"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var project projects.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &project))

	w = do(router, http.MethodPost, "/api/v1/attestations", validator,
		`{"project_id":"`+project.ID+`","analysis_data":{"biomass":12.5}}`)
	require.Equal(t, http.StatusAccepted, w.Code)
	var record attestation.Record
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &record))
	assert.Equal(t, attestation.LedgerUnavailable, record.LedgerStatus)
	assert.Len(t, record.Digest, 66)

	w = do(router, http.MethodGet, "/api/v1/attestations/"+record.ID+"/verify", owner, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"match":true`)
}

func subscribe(t *testing.T, srv *httptest.Server, authz, projectID string) (*gorilla.Conn, websocket.Message) {
	t.Helper()
	header := http.Header{}
	header.Set("Authorization", authz)
	conn, _, err := gorilla.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", header)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	require.NoError(t, conn.WriteJSON(websocket.Message{
		Type: websocket.TypeSubscribe,
		Data: map[string]any{"project_ids": []any{projectID}},
	}))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var ack websocket.Message
	require.NoError(t, conn.ReadJSON(&ack))
	return conn, ack
}

func TestWebsocketEventsFollowProjectAccess(t *testing.T) {
	a := newTestApp(t)
	srv := httptest.NewServer(a.Router())
	defer srv.Close()
	owner := bearer(t, auth.Actor{ID: "owner-1", Role: auth.RoleUser})
	stranger := bearer(t, auth.Actor{ID: "stranger", Role: auth.RoleUser})
	validator := bearer(t, auth.Actor{ID: "V", Role: auth.RoleValidator})

	w := do(srv.Config.Handler, http.MethodPost, "/api/v1/projects", owner, `{"name":"Mangrove belt"}`)
	require.Equal(t, http.StatusCreated, w.Code)
	var project projects.Project
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &project))

	w = do(srv.Config.Handler, http.MethodGet, "/api/v1/projects/"+project.ID, stranger, "")
	require.Equal(t, http.StatusForbidden, w.Code)

	strangerConn, ack := subscribe(t, srv, stranger, project.ID)
	assert.Empty(t, ack.Data["project_ids"])
	ownerConn, ack := subscribe(t, srv, owner, project.ID)
	assert.Equal(t, []any{project.ID}, ack.Data["project_ids"])

	w = do(srv.Config.Handler, http.MethodPost, "/api/v1/attestations", validator,
		`{"project_id":"`+project.ID+`","analysis_data":{"secret_biomass":12.5}}`)
	require.Equal(t, http.StatusAccepted, w.Code)

	ownerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var evt websocket.Message
	require.NoError(t, ownerConn.ReadJSON(&evt))
	assert.Equal(t, attestation.EventReconciled, evt.Type)
	assert.Equal(t, project.ID, evt.Target)

	strangerConn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var leaked websocket.Message
	assert.Error(t, strangerConn.ReadJSON(&leaked))
}
