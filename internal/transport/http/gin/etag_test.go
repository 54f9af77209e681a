package httpgin

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func etagRouter() *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.GET("/snapshot", func(c *gin.Context) {
		writeJSONWithCache(c, http.StatusOK,
			gin.H{"units": []int{1, 2, 3}}, "public, max-age=5", true)
	})
	return r
}

func TestWriteJSONWithCache(t *testing.T) {
	r := etagRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "public, max-age=5", w.Header().Get("Cache-Control"))

	tag := w.Header().Get("ETag")
	require.NotEmpty(t, tag)
	assert.Contains(t, tag, "W/")
	assert.JSONEq(t, `{"units":[1,2,3]}`, w.Body.String())

	// conditional re-request with the tag returns 304 and no body
	w2 := httptest.NewRecorder()
	req2 := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	req2.Header.Set("If-None-Match", tag)
	r.ServeHTTP(w2, req2)

	assert.Equal(t, http.StatusNotModified, w2.Code)
	assert.Empty(t, w2.Body.String())
	assert.Equal(t, tag, w2.Header().Get("ETag"))
}

func TestWriteJSONWithCacheMismatchedTag(t *testing.T) {
	r := etagRouter()

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/snapshot", nil)
	req.Header.Set("If-None-Match", `W/"stale"`)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.NotEmpty(t, w.Body.String())
}
