package fielddata_test

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"carbon-scribe/mrv-registry/internal/auth"
	"carbon-scribe/mrv-registry/internal/fielddata"
	"carbon-scribe/mrv-registry/internal/scoring"
)

func multipartBody(t *testing.T, files map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, contentType := range files {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="files"; filename="`+name+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write([]byte("bytes of " + name))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())
	return &body, mw.FormDataContentType()
}

func TestHandler_UploadImages(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	fd := f.collect(t)
	f.oracle.On("Score", mock.Anything, mock.Anything).Return(scoring.Result{CredibilityScore: 0.6, Confidence: 0.8}, nil)

	router := gin.New()
	router.Use(func(c *gin.Context) {
		auth.WithActor(c, owner)
		c.Next()
	})
	fielddata.NewHandler(f.service, zap.NewNop()).RegisterRoutes(router.Group("/api/v1"))

	body, contentType := multipartBody(t, map[string]string{"plot.jpg": "image/jpeg"})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/field-data/"+fd.ID+"/images", body)
	req.Header.Set("Content-Type", contentType)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var updated fielddata.FieldData
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &updated))
	require.Len(t, updated.Evidence.Images, 1)
	assert.Equal(t, "plot.jpg", updated.Evidence.Images[0].Filename)
	assert.InDelta(t, 0.6, updated.Evidence.CredibilityScore, 1e-9)

	body, contentType = multipartBody(t, map[string]string{"report.pdf": "application/pdf"})
	req = httptest.NewRequest(http.MethodPost, "/api/v1/field-data/"+fd.ID+"/images", body)
	req.Header.Set("Content-Type", contentType)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
