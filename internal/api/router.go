package api

import (
	"context"
	"database/sql"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geethx/workshop/internal/auth"
	"github.com/geethx/workshop/internal/identity"
	"github.com/geethx/workshop/internal/inventory"
	"github.com/geethx/workshop/internal/observability"
)

// Deps are the services the router dispatches to.
type Deps struct {
	DB        *sql.DB
	Identity  *identity.Service
	Inventory *inventory.Service

	// Optional.
	Metrics      *observability.Metrics
	Gatherer     prometheus.Gatherer
	LoginLimiter *RateLimiter
	ReadyChecks  map[string]func(context.Context) error
}

// NewRouter creates the API router with all endpoints registered.
func NewRouter(d Deps) http.Handler {
	mux := http.NewServeMux()

	authHandler := &AuthHandler{Identity: d.Identity}
	usersHandler := &UsersHandler{Identity: d.Identity}
	itemsHandler := &ItemsHandler{Inventory: d.Inventory}
	txHandler := &TransactionsHandler{Inventory: d.Inventory}
	healthHandler := &HealthHandler{DB: d.DB, Checks: d.ReadyChecks}

	authMW := AuthMiddleware(d.Identity)
	canRead := RequireCapability(auth.CapInventoryRead)
	canWrite := RequireCapability(auth.CapCatalogWrite)
	canTransition := RequireCapability(auth.CapInventoryTransition)
	canManage := RequireCapability(auth.CapUsersManage)

	limit := func(h http.Handler) http.Handler { return h }
	if d.LoginLimiter != nil {
		limit = d.LoginLimiter.Middleware
	}

	// Public.
	mux.Handle("POST /api/auth/login", limit(http.HandlerFunc(authHandler.Login)))
	mux.Handle("POST /api/auth/register", limit(http.HandlerFunc(authHandler.Register)))
	mux.HandleFunc("GET /healthz", healthHandler.Live)
	mux.HandleFunc("GET /readyz", healthHandler.Ready)
	if d.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(d.Gatherer, promhttp.HandlerOpts{}))
	}

	// Any authenticated user.
	mux.Handle("GET /api/auth/me", authMW(http.HandlerFunc(authHandler.Me)))
	mux.Handle("POST /api/auth/logout", authMW(http.HandlerFunc(authHandler.Logout)))
	mux.Handle("PUT /api/auth/password", authMW(http.HandlerFunc(authHandler.ChangePassword)))

	// Items: read (admin, staff), write (admin).
	mux.Handle("GET /api/items", authMW(canRead(http.HandlerFunc(itemsHandler.List))))
	mux.Handle("GET /api/items/stats", authMW(canRead(http.HandlerFunc(itemsHandler.Stats))))
	mux.Handle("GET /api/items/checked-out", authMW(canRead(http.HandlerFunc(itemsHandler.CheckedOut))))
	mux.Handle("GET /api/items/code/{code}", authMW(canRead(http.HandlerFunc(itemsHandler.GetByCode))))
	mux.Handle("GET /api/items/{id}", authMW(canRead(http.HandlerFunc(itemsHandler.Get))))
	mux.Handle("POST /api/items", authMW(canWrite(http.HandlerFunc(itemsHandler.Create))))
	mux.Handle("PUT /api/items/{id}", authMW(canWrite(http.HandlerFunc(itemsHandler.Update))))
	mux.Handle("DELETE /api/items/{id}", authMW(canWrite(http.HandlerFunc(itemsHandler.Delete))))
	mux.Handle("PUT /api/images/{id}", authMW(canWrite(http.HandlerFunc(itemsHandler.UploadImage))))
	mux.Handle("GET /api/images/{id}", authMW(canRead(http.HandlerFunc(itemsHandler.GetImage))))

	// Ledger and transitions (admin, staff).
	mux.Handle("GET /api/transactions", authMW(canRead(http.HandlerFunc(txHandler.List))))
	mux.Handle("GET /api/transactions/recent", authMW(canRead(http.HandlerFunc(txHandler.Recent))))
	mux.Handle("GET /api/transactions/item/{id}", authMW(canRead(http.HandlerFunc(txHandler.ItemHistory))))
	mux.Handle("GET /api/transactions/export", authMW(canRead(http.HandlerFunc(txHandler.Export))))
	mux.Handle("POST /api/transactions/checkout", authMW(canTransition(http.HandlerFunc(txHandler.CheckOut))))
	mux.Handle("POST /api/transactions/checkin", authMW(canTransition(http.HandlerFunc(txHandler.CheckIn))))
	mux.Handle("POST /api/transactions/batch", authMW(canTransition(http.HandlerFunc(txHandler.Batch))))

	// Users: listing needs users:manage, mutations are checked per target.
	mux.Handle("GET /api/users", authMW(canManage(http.HandlerFunc(usersHandler.List))))
	mux.Handle("GET /api/users/{id}", authMW(canManage(http.HandlerFunc(usersHandler.Get))))
	mux.Handle("POST /api/users", authMW(http.HandlerFunc(usersHandler.Create)))
	mux.Handle("PUT /api/users/{id}", authMW(http.HandlerFunc(usersHandler.Update)))
	mux.Handle("DELETE /api/users/{id}", authMW(http.HandlerFunc(usersHandler.Delete)))

	return RequestIDMiddleware(LoggingMiddleware(d.Metrics)(mux))
}
