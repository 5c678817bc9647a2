package reports_test

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/credits"
	"carbon-scribe/mrv-registry/internal/projects"
	"carbon-scribe/mrv-registry/internal/reports"
	"carbon-scribe/mrv-registry/internal/store/memstore"
)

var (
	owner     = auth.Actor{ID: "owner-1", Role: auth.RoleUser}
	holder    = auth.Actor{ID: "user-1", Role: auth.RoleUser, Address: "addr1"}
	stranger  = auth.Actor{ID: "user-2", Role: auth.RoleUser}
	validator = auth.Actor{ID: "V", Role: auth.RoleValidator}
)

type fixture struct {
	service *reports.Service
	issued  *credits.Credit
	retired *credits.Credit
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	store := memstore.New()
	projectSvc := projects.NewService(store.Projects, zap.NewNop())
	creditSvc := credits.NewService(store.Credits, projectSvc, nil, nil, zap.NewNop())

	p, err := projectSvc.Create(ctx, owner, projects.CreateProjectRequest{Name: "Peatland rewetting"})
	require.NoError(t, err)

	mint := func(amount float64) *credits.Credit {
		c, err := creditSvc.Create(ctx, validator, credits.CreateRequest{ProjectID: p.ID, Amount: amount, Vintage: "2025"})
		require.NoError(t, err)
		c, err = creditSvc.Issue(ctx, validator, c.ID, credits.IssueRequest{Recipient: holder.Address})
		require.NoError(t, err)
		return c
	}

	f := &fixture{issued: mint(10)}
	f.retired = mint(25)
	f.retired, err = creditSvc.Retire(ctx, holder, f.retired.ID, credits.RetireRequest{Reason: "scope 1 offset"})
	require.NoError(t, err)

	f.service = reports.NewService(creditSvc, projectSvc, zap.NewNop())
	return f
}

func serve(f *fixture, actor auth.Actor, path string) *httptest.ResponseRecorder {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		auth.WithActor(c, actor)
		c.Next()
	})
	reports.NewHandler(f.service, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
	return w
}

func TestExportCredits(t *testing.T) {
	f := newFixture(t)

	w := serve(f, owner, "/api/v1/reports/credits/export")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".xlsx")
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("PK")))

	w = serve(f, validator, "/api/v1/reports/credits/export?format=csv")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), f.retired.ID)
	assert.Contains(t, w.Body.String(), "scope 1 offset")

	w = serve(f, validator, "/api/v1/reports/credits/export?format=docx")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(f, stranger, "/api/v1/reports/credits/export?project_id="+f.issued.ProjectID)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestCertificate(t *testing.T) {
	f := newFixture(t)

	w := serve(f, holder, "/api/v1/reports/credits/"+f.retired.ID+"/certificate")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(w.Body.Bytes(), []byte("%PDF-")))

	w = serve(f, holder, "/api/v1/reports/credits/"+f.issued.ID+"/certificate")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(f, stranger, "/api/v1/reports/credits/"+f.retired.ID+"/certificate")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = serve(f, validator, "/api/v1/reports/credits/missing/certificate")
	assert.Equal(t, http.StatusNotFound, w.Code)
}
