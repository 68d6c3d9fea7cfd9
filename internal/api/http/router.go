package httpapi

import (
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	platformhealth "github.com/shestoi/pos-terminal/platform/health/http"
	platformobservability "github.com/shestoi/pos-terminal/platform/observability"
)

// NewRouter создаёт и настраивает HTTP роутер POS Terminal Service.
// readiness - функция для проверки готовности сервиса.
// logger используется для observability HTTP middleware (trace_id в логах)
func NewRouter(handler *Handler, webhook *WebhookHandler, readiness func() bool, logger *zap.Logger) chi.Router {
	router := chi.NewRouter()

	// Observability: trace context + span на каждый запрос, logger с trace_id в контексте
	if logger != nil {
		router.Use(platformobservability.HTTPMiddleware("pos", logger))
	}

	router.Route("/api", func(r chi.Router) {
		r.Get("/tables", handler.GetTables)
		r.Post("/create-payment", handler.CreatePayment)
		r.Post("/create-reversal", handler.CreateReversal)
		r.Get("/abort/{tableName}", handler.Abort)
		r.Get("/transaction-status/{tableName}", handler.TransactionStatus)

		// Асинхронные события процессора платежей
		r.Post("/webhooks/notifications", webhook.HandleNotifications)
	})

	// Health без middleware
	router.Get("/health", platformhealth.Handler(readiness))

	return router
}
