package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/shopsync/backend/internal/infrastructure/auth"
	"github.com/shopsync/backend/internal/interfaces/http/handler"
	"github.com/shopsync/backend/internal/interfaces/http/middleware"
)

// Handlers are the endpoint implementations mounted by RegisterAPI
type Handlers struct {
	Shop    *handler.ShopHandler
	Webhook *handler.WebhookHandler
	System  *handler.SystemHandler
}

// Guards are the per-group middleware chains
type Guards struct {
	// Auth authenticates admin bearer tokens
	Auth gin.HandlerFunc
	// Install throttles the public install endpoint
	Install gin.HandlerFunc
	// BodyLimit bounds request bodies on the public endpoints
	BodyLimit gin.HandlerFunc
}

// RegisterAPI mounts the service's routes on engine and returns the route inventory
func RegisterAPI(engine *gin.Engine, h Handlers, g Guards) []RouteInfo {
	engine.GET("/health", h.System.Health)

	r := NewRouter(engine)

	install := NewDomainGroup("install", "")
	if g.Install != nil {
		install.Use(g.Install)
	}
	if g.BodyLimit != nil {
		install.Use(g.BodyLimit)
	}
	install.Handle(http.MethodPost, "/install", "Verify install callback and register shop", h.Shop.Install)
	r.Register(install)

	webhooks := NewDomainGroup("webhooks", "/webhooks")
	if g.BodyLimit != nil {
		webhooks.Use(g.BodyLimit)
	}
	webhooks.Handle(http.MethodPost, "/:shop_id", "Queue incremental sync from upstream notification", h.Webhook.Receive)
	r.Register(webhooks)

	shops := NewDomainGroup("shops", "/shops/:shop_id").Use(g.Auth)
	shops.Handle(http.MethodPost, "/uninstall", "Cancel sync work and deactivate shop",
		middleware.RequireScope(auth.ScopeShopAdmin), h.Shop.Uninstall)
	shops.Handle(http.MethodGet, "/sync", "Shop sync status",
		middleware.RequireScope(auth.ScopeSyncRead), h.Shop.GetSyncStatus)
	shops.Handle(http.MethodPost, "/sync", "Queue full sync",
		middleware.RequireScope(auth.ScopeSyncWrite), h.Shop.TriggerSync)
	shops.Handle(http.MethodGet, "/search-fields", "Search field configuration",
		middleware.RequireScope(auth.ScopeSyncRead), h.Shop.GetSearchFields)
	shops.Handle(http.MethodPut, "/search-fields", "Replace search field configuration",
		middleware.RequireScope(auth.ScopeShopAdmin), h.Shop.UpdateSearchFields)
	r.Register(shops)

	r.Register(NewDomainGroup("sync", "/sync").Use(g.Auth).
		Handle(http.MethodGet, "/tasks", "Recent sync task results",
			middleware.RequireScope(auth.ScopeSyncRead), h.Shop.ListTasks))

	r.Register(NewDomainGroup("system", "/system").Use(g.Auth).
		Handle(http.MethodGet, "/info", "Build and uptime",
			middleware.RequireScope(auth.ScopeSyncRead), h.System.GetSystemInfo))

	r.Setup()

	return append([]RouteInfo{{
		Group: "system", Method: http.MethodGet, Path: "/health", Description: "Dependency health",
	}}, r.Routes()...)
}
