package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/buja23/OpiticaPruden/pkg/health"
	"github.com/buja23/OpiticaPruden/pkg/middleware"
	mockgateway "github.com/buja23/OpiticaPruden/services/checkout/internal/gateway/mock"
	"github.com/buja23/OpiticaPruden/services/checkout/internal/service"
)

const serviceName = "checkout"

// RoleAdmin is the role allowed on /api/v1/admin routes.
const RoleAdmin = "admin"

// Services groups the services behind the HTTP API.
type Services struct {
	Checkout  *service.CheckoutService
	Reconcile *service.ReconcileService
	Sweeper   *service.SweeperService
	Orders    *service.OrderService
}

// RouterConfig holds the HTTP-level settings of the router.
type RouterConfig struct {
	// Auth authenticates buyer and admin routes. Required.
	Auth func(http.Handler) http.Handler

	AllowedOrigins    []string
	RateLimitRPS      float64
	RateLimitBurst    int
	SweepToken        string
	PprofAllowedCIDRs []string

	// MockGateway, when set, mounts the payment simulation endpoint.
	MockGateway *mockgateway.Gateway
}

// NewRouter creates a chi router with all checkout service routes registered.
func NewRouter(svc Services, healthHandler *health.Handler, cfg RouterConfig, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.AllowedOrigins...)))
	r.Use(middleware.Recovery(logger))
	r.Use(chimw.Timeout(30 * time.Second))
	r.Use(middleware.RequestLogging(logger, "/health/live", "/health/ready", "/metrics"))
	r.Use(middleware.Tracing(serviceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(serviceName))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Pprof debug endpoints with IP allowlist.
	middleware.RegisterPprof(r, cfg.PprofAllowedCIDRs, logger)

	checkoutHandler := NewCheckoutHandler(svc.Checkout, logger)
	webhookHandler := NewWebhookHandler(svc.Reconcile, logger)
	sweepHandler := NewSweepHandler(svc.Sweeper, cfg.SweepToken, logger)
	orderHandler := NewOrderHandler(svc.Orders, logger)

	writeLimit := middleware.RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst, logger)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.NoStore)

		// Gateway notifications and the scheduler carry no user identity.
		r.Post("/webhooks/mercadopago", webhookHandler.MercadoPago)
		r.Post("/internal/sweep", sweepHandler.Sweep)

		r.Group(func(r chi.Router) {
			r.Use(cfg.Auth)
			r.Use(ContentTypeJSON)

			r.With(writeLimit).Post("/checkout/preference", checkoutHandler.CreatePreference)

			r.Get("/orders", orderHandler.ListOrders)
			r.Get("/orders/{id}", orderHandler.GetOrder)
			r.With(writeLimit).Post("/orders/{id}/cancel", orderHandler.CancelOrder)

			r.Route("/admin", func(r chi.Router) {
				r.Use(middleware.RequireRole(RoleAdmin))
				r.Get("/orders", orderHandler.ListAllOrders)
				r.Put("/orders/{id}/logistics", orderHandler.UpdateLogistics)
			})
		})

		if cfg.MockGateway != nil {
			devHandler := NewDevPaymentHandler(cfg.MockGateway, svc.Reconcile, logger)
			r.With(ContentTypeJSON).Post("/dev/payments", devHandler.SimulatePayment)
		}
	})

	return r
}
