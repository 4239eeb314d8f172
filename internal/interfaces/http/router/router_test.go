package router

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopsync/backend/internal/interfaces/http/handler"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestNewRouter(t *testing.T) {
	r := NewRouter(gin.New())
	assert.Equal(t, "/api/v1", r.BasePath())
	assert.Empty(t, r.registrars)

	r = NewRouter(gin.New(), WithAPIVersion("v2"))
	assert.Equal(t, "/api/v2", r.BasePath())
}

func TestRouterSetup(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	group := NewDomainGroup("test", "/test")
	group.GET("/ping", func(c *gin.Context) {
		c.String(http.StatusOK, "pong")
	})
	r.Register(group)
	r.Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/test/ping", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "pong", w.Body.String())
}

func TestDomainGroup_MiddlewareAndSubgroups(t *testing.T) {
	engine := gin.New()
	r := NewRouter(engine)

	var order []string
	group := NewDomainGroup("shops", "/shops").Use(func(c *gin.Context) {
		order = append(order, "group")
		c.Next()
	})
	group.Group("sync", "/:shop_id/sync").GET("", func(c *gin.Context) {
		order = append(order, "handler:"+c.Param("shop_id"))
		c.Status(http.StatusNoContent)
	})
	r.Register(group)
	r.Setup()

	w := httptest.NewRecorder()
	engine.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/v1/shops/42/sync", nil))

	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"group", "handler:42"}, order)

	routes := r.Routes()
	require.Len(t, routes, 1)
	assert.Equal(t, "/api/v1/shops/:shop_id/sync", routes[0].Path)
	assert.Equal(t, "sync", routes[0].Group)
}

func TestRegisterAPI(t *testing.T) {
	engine := gin.New()
	deny := func(status int) gin.HandlerFunc {
		return func(c *gin.Context) { c.AbortWithStatus(status) }
	}

	routes := RegisterAPI(engine, Handlers{
		Shop:    handler.NewShopHandler(nil),
		Webhook: handler.NewWebhookHandler(nil, nil),
		System:  handler.NewSystemHandler("shopsync", "test"),
	}, Guards{
		Auth:    deny(http.StatusUnauthorized),
		Install: deny(http.StatusTooManyRequests),
	})

	paths := map[string]bool{}
	for _, r := range routes {
		paths[r.Method+" "+r.Path] = true
	}
	for _, want := range []string{
		"GET /health",
		"POST /api/v1/install",
		"POST /api/v1/webhooks/:shop_id",
		"POST /api/v1/shops/:shop_id/uninstall",
		"GET /api/v1/shops/:shop_id/sync",
		"POST /api/v1/shops/:shop_id/sync",
		"GET /api/v1/shops/:shop_id/search-fields",
		"PUT /api/v1/shops/:shop_id/search-fields",
		"GET /api/v1/sync/tasks",
		"GET /api/v1/system/info",
	} {
		assert.True(t, paths[want], "missing route %s", want)
	}

	tests := []struct {
		method, path string
		expected     int
	}{
		{http.MethodGet, "/health", http.StatusOK},
		{http.MethodPost, "/api/v1/install", http.StatusTooManyRequests},
		{http.MethodGet, "/api/v1/sync/tasks", http.StatusUnauthorized},
		{http.MethodPost, "/api/v1/shops/" + "7f1c0e55-0000-4000-8000-000000000001" + "/sync", http.StatusUnauthorized},
		{http.MethodGet, "/api/v1/system/info", http.StatusUnauthorized},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.path, func(t *testing.T) {
			w := httptest.NewRecorder()
			engine.ServeHTTP(w, httptest.NewRequest(tt.method, tt.path, nil))
			assert.Equal(t, tt.expected, w.Code)
		})
	}
}
