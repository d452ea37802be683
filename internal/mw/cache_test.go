package mw

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"github.com/stretchr/testify/assert"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req, _ := http.NewRequest(method, path, nil)
	r.ServeHTTP(w, req)
	return w
}

func TestCache_ServesGetFromCacheUntilMutation(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	hits := 0
	status := http.StatusOK

	r := gin.New()
	r.Use(Cache(store, time.Minute))
	r.GET("/capacity", func(c *gin.Context) {
		hits++
		c.JSON(http.StatusOK, gin.H{"hits": hits})
	})
	r.PUT("/bed-status", func(c *gin.Context) {
		c.Status(status)
	})

	first := do(r, http.MethodGet, "/capacity")
	second := do(r, http.MethodGet, "/capacity")
	assert.Equal(t, 1, hits)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, "HIT", second.Header().Get("X-Cache"))

	status = http.StatusConflict
	do(r, http.MethodPut, "/bed-status")
	do(r, http.MethodGet, "/capacity")
	assert.Equal(t, 1, hits, "a failed mutation keeps the cache")

	status = http.StatusOK
	do(r, http.MethodPut, "/bed-status")
	third := do(r, http.MethodGet, "/capacity")
	assert.Equal(t, 2, hits)
	assert.JSONEq(t, `{"hits":2}`, third.Body.String())
}

func TestCache_DoesNotCacheErrors(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	calls := 0

	r := gin.New()
	r.Use(Cache(store, time.Minute))
	r.GET("/forecast", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "DATA_UNAVAILABLE"})
	})

	do(r, http.MethodGet, "/forecast")
	do(r, http.MethodGet, "/forecast")
	assert.Equal(t, 2, calls)
}

func TestCache_KeysOnSortedQuery(t *testing.T) {
	store := cache.New(time.Minute, time.Minute)
	calls := 0

	r := gin.New()
	r.Use(Cache(store, time.Minute))
	r.GET("/forecast", func(c *gin.Context) {
		calls++
		c.JSON(http.StatusOK, gin.H{"days": c.Query("days")})
	})

	do(r, http.MethodGet, "/forecast?days=7&ward=MICU")
	hit := do(r, http.MethodGet, "/forecast?ward=MICU&days=7")
	assert.Equal(t, 1, calls)
	assert.Equal(t, "HIT", hit.Header().Get("X-Cache"))

	other := do(r, http.MethodGet, "/forecast?days=14")
	assert.Equal(t, 2, calls)
	assert.JSONEq(t, `{"days":"14"}`, other.Body.String())
}
