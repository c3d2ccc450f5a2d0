package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/angelmondragon/storefront-backend/api/controllers"
	ordercontrollers "github.com/angelmondragon/storefront-backend/api/controllers/orders"
	"github.com/angelmondragon/storefront-backend/api/middleware"
	"github.com/angelmondragon/storefront-backend/internal/categories"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/internal/users"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
)

// Params carries everything the HTTP surface depends on. Cache and Idempotency
// are nil when redis is not configured.
type Params struct {
	Config      *config.Config
	Logger      *logger.Logger
	DB          controllers.Pinger
	Cache       controllers.Pinger
	Idempotency redis.IdempotencyStore
	Gatherer    prometheus.Gatherer
	HTTPMetrics *metrics.HTTPMetrics

	Categories categories.Service
	Products   products.Service
	Users      users.Service
	Orders     orders.Service
}

func NewRouter(p Params) http.Handler {
	logg := p.Logger
	env := ""
	var corsOrigins []string
	if p.Config != nil {
		env = p.Config.App.Env
		corsOrigins = p.Config.HTTP.CORSOrigins
	}

	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.Metrics(p.HTTPMetrics),
		middleware.CORS(corsOrigins),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(env))
		r.Get("/ready", controllers.HealthReady(env, logg, p.DB, p.Cache))
	})

	if p.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(p.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/categories", func(r chi.Router) {
			r.Get("/", controllers.CategoryList(p.Categories, logg))
			r.Post("/", controllers.CategoryCreate(p.Categories, logg))
			r.Get("/{categoryId}", controllers.CategoryDetail(p.Categories, logg))
			r.Put("/{categoryId}", controllers.CategoryUpdate(p.Categories, logg))
			r.Patch("/{categoryId}", controllers.CategoryUpdate(p.Categories, logg))
			r.Delete("/{categoryId}", controllers.CategoryDelete(p.Categories, logg))
		})

		r.Route("/products", func(r chi.Router) {
			r.Get("/", controllers.ProductList(p.Products, logg))
			r.Post("/", controllers.ProductCreate(p.Products, logg))
			r.Get("/{productId}", controllers.ProductDetail(p.Products, logg))
			r.Put("/{productId}", controllers.ProductUpdate(p.Products, logg))
			r.Patch("/{productId}", controllers.ProductUpdate(p.Products, logg))
			r.Delete("/{productId}", controllers.ProductDelete(p.Products, logg))
		})

		r.Route("/users", func(r chi.Router) {
			r.Post("/", controllers.UserCreate(p.Users, logg))
			r.Get("/{userId}", controllers.UserDetail(p.Users, logg))
		})

		r.Route("/orders", func(r chi.Router) {
			r.Use(middleware.Idempotency(p.Idempotency, logg))
			r.Get("/", ordercontrollers.List(p.Orders, logg))
			r.Post("/", ordercontrollers.Place(p.Orders, logg))
			r.Post("/create", ordercontrollers.Place(p.Orders, logg))
			r.Get("/{orderId}", ordercontrollers.Detail(p.Orders, logg))
		})
	})

	return r
}
