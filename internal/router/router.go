package router

import (
	"log"
	"net/http"

	"github.com/dastarkhan/food-api/internal/config"
	"github.com/dastarkhan/food-api/internal/database"
	"github.com/dastarkhan/food-api/internal/enum"
	"github.com/dastarkhan/food-api/internal/handler"
	mw "github.com/dastarkhan/food-api/internal/middleware"
	"github.com/dastarkhan/food-api/internal/pricing"
	"github.com/dastarkhan/food-api/internal/promo"
	"github.com/dastarkhan/food-api/internal/service"
	"github.com/dastarkhan/food-api/internal/ws"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/jackc/pgx/v5/pgxpool"
)

// New creates a Chi router with all application routes wired up.
// catalog prices carts (cached or not); notifier may be nil.
func New(cfg *config.Config, queries *database.Queries, pool *pgxpool.Pool, hub *ws.Hub, catalog pricing.Catalog, notifier service.Notifier) chi.Router {
	r := chi.NewRouter()

	// Standard middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Link"},
		AllowCredentials: true,
		MaxAge:           300, // 5 minutes
	}))

	// Public routes
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})

	authHandler := handler.NewAuthHandler(queries, cfg.JWTSecret)
	authHandler.RegisterRoutes(r)

	// WebSocket route (handles auth internally via query param)
	r.Get("/ws/orders", func(w http.ResponseWriter, r *http.Request) {
		ws.ServeWS(hub, cfg.JWTSecret, w, r)
	})

	promos := promo.NewEngine(pool, func(db database.DBTX) promo.Store {
		return database.New(db)
	})
	orderService := service.NewOrderService(
		pool,
		func(db database.DBTX) service.OrderStore {
			return database.New(db)
		},
		pricing.NewEngine(catalog),
		promos,
		notifier,
		service.Options{
			DeliveryFee:          cfg.DeliveryFee,
			FreeDeliveryFrom:     cfg.FreeDeliveryFrom,
			ReleasePromoOnCancel: cfg.ReleasePromoOnCancel,
		},
	)

	// Guest-or-member routes
	orderHandler := handler.NewOrderHandler(orderService)
	orderHandler.RegisterRoutes(r, cfg.JWTSecret)

	promoHandler := handler.NewPromoHandler(promos)
	promoHandler.RegisterRoutes(r, cfg.JWTSecret)

	// Staff dashboards
	staffHandler := handler.NewStaffHandler(orderService)
	r.Group(func(r chi.Router) {
		r.Use(mw.Authenticate(cfg.JWTSecret))

		r.With(mw.RequireRole(enum.UserRoleAdmin)).Route("/admin", staffHandler.RegisterAdminRoutes)
		r.With(mw.RequireRole(enum.UserRoleKitchen)).Route("/kitchen", staffHandler.RegisterKitchenRoutes)
		r.With(mw.RequireRole(enum.UserRoleCourier)).Route("/courier", staffHandler.RegisterCourierRoutes)
	})

	log.Println("Router initialized with all handlers")
	return r
}
