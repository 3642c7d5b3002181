package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/stockroom-hq/stockroom-backend/api/controllers"
	"github.com/stockroom-hq/stockroom-backend/api/middleware"
	"github.com/stockroom-hq/stockroom-backend/internal/creditledger"
	"github.com/stockroom-hq/stockroom-backend/internal/fulfillment"
	"github.com/stockroom-hq/stockroom-backend/internal/orderstate"
	"github.com/stockroom-hq/stockroom-backend/internal/routing"
	"github.com/stockroom-hq/stockroom-backend/pkg/config"
	"github.com/stockroom-hq/stockroom-backend/pkg/db"
	"github.com/stockroom-hq/stockroom-backend/pkg/logger"
	pkgredis "github.com/stockroom-hq/stockroom-backend/pkg/redis"
)

// Services bundles the domain services the router exposes.
type Services struct {
	Orders      orderstate.Service
	Credit      creditledger.Service
	Routing     routing.Service
	Fulfillment fulfillment.Service
}

func NewRouter(
	cfg *config.Config,
	logg *logger.Logger,
	dbP db.Pinger,
	redisClient *pkgredis.Client,
	svcs Services,
) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.Logging(logg),
		middleware.CORS(),
		middleware.Actor(logg),
	)

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, dbP, redisClient))
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/public", func(r chi.Router) {
		r.Get("/ping", controllers.PublicPing())
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", controllers.CreateOrder(svcs.Orders, logg))
			r.Get("/{orderId}", controllers.GetOrder(svcs.Orders, logg))
			r.Get("/{orderId}/history", controllers.OrderHistory(svcs.Orders, logg))
			r.Post("/{orderId}/submit", controllers.SubmitOrder(svcs.Fulfillment, logg))
			r.Post("/{orderId}/cancel", controllers.CancelOrder(svcs.Fulfillment, logg))
			r.Post("/{orderId}/dispatch", controllers.DispatchOrder(svcs.Fulfillment, logg))
			r.Post("/{orderId}/deliver", controllers.DeliverOrder(svcs.Fulfillment, logg))
		})

		r.Route("/broadcasts", func(r chi.Router) {
			r.Get("/{broadcastId}", controllers.BroadcastStatus(svcs.Routing, logg))
			r.Post("/{broadcastId}/responses", controllers.RecordSupplierResponse(svcs.Routing, logg))
			r.Post("/{broadcastId}/accept", controllers.AcceptBroadcast(svcs.Fulfillment, logg))
		})

		r.Get("/credit-accounts/{buyerId}/{supplierId}", controllers.AvailableCredit(svcs.Credit, logg))
	})

	r.Route("/api/admin/v1", func(r chi.Router) {
		r.Use(middleware.RequireActor(logg))
		r.Use(middleware.Idempotency(redisClient, logg))

		r.Get("/ping", controllers.AdminPing())
		r.Route("/credit-accounts", func(r chi.Router) {
			r.Post("/", controllers.CreateCreditAccount(svcs.Credit, logg))
			r.Post("/block", controllers.SetAccountBlock(svcs.Credit, logg))
			r.Post("/adjustments", controllers.RecordAdjustment(svcs.Credit, logg))
			r.Get("/{buyerId}/{supplierId}/entries", controllers.LedgerEntries(svcs.Credit, logg))
		})
		r.Post("/orders/{orderId}/release", controllers.ReleaseReservation(svcs.Credit, logg))
	})

	return r
}
