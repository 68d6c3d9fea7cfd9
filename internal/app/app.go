package app

import (
	"context"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	platformlogging "github.com/shestoi/pos-terminal/platform/logging"
	platformobservability "github.com/shestoi/pos-terminal/platform/observability"
	platformshutdown "github.com/shestoi/pos-terminal/platform/shutdown"

	httpapi "github.com/shestoi/pos-terminal/internal/api/http"
	"github.com/shestoi/pos-terminal/internal/config"
	"github.com/shestoi/pos-terminal/internal/correlation"
	eventkafka "github.com/shestoi/pos-terminal/internal/event/kafka"
	"github.com/shestoi/pos-terminal/internal/notification"
	"github.com/shestoi/pos-terminal/internal/registry"
	"github.com/shestoi/pos-terminal/internal/service"
	"github.com/shestoi/pos-terminal/internal/terminal"
)

// seedTableCount — количество демо-столов кассы
const seedTableCount = 4

// App содержит все зависимости для запуска и корректного shutdown POS Terminal Service
type App struct {
	logger      *zap.Logger
	httpServer  *http.Server
	shutdownMgr *platformshutdown.Manager
	wg          sync.WaitGroup
}

// Build создаёт и настраивает все зависимости POS Terminal Service
func Build(cfg config.Config) (*App, error) {
	const op = "app.Build"

	// Создаём logger
	logger, err := platformlogging.New(platformlogging.Config{
		ServiceName: "pos",
		Env:         string(cfg.AppEnv),
		Level:       cfg.LogLevel,
		Format:      cfg.LogFormat,
	})
	if err != nil {
		return nil, err
	}

	logger = logger.With(zap.String("op", op))
	logger.Info("Building POS Terminal service",
		zap.String("http_addr", cfg.HTTPAddr),
		zap.String("terminal_endpoint", cfg.TerminalAPIEndpoint),
		zap.String("poi_id", cfg.POIID),
		zap.Strings("kafka_brokers", cfg.KafkaBrokers),
	)

	// Инициализируем OpenTelemetry (no-op провайдеры, если экспорт выключен)
	otelShutdown, err := platformobservability.Init(context.Background(), platformobservability.Config{
		Enabled:               cfg.OTELEnabled,
		OTLPEndpoint:          cfg.OTELEndpoint,
		SamplingRatio:         cfg.OTELSamplingRatio,
		ServiceName:           "pos",
		DeploymentEnvironment: string(cfg.AppEnv),
	})
	if err != nil {
		return nil, err
	}

	// Реестр столов: фиксированный демо-набор, вся жизнь в памяти процесса
	tableRegistry := registry.Seed(seedTableCount)

	// Kafka publisher событий смены статуса (no-op, если брокеры не заданы)
	var publisher service.PaymentEventPublisher
	var kafkaPublisher *eventkafka.StatusPublisher
	if len(cfg.KafkaBrokers) > 0 {
		kafkaPublisher = eventkafka.NewStatusPublisher(logger, cfg.KafkaBrokers, cfg.KafkaPaymentEventTopic)
		publisher = kafkaPublisher
		logger.Info("Kafka publisher enabled", zap.String("topic", cfg.KafkaPaymentEventTopic))
	} else {
		publisher = eventkafka.NewNoOpPublisher(logger)
		logger.Info("Kafka brokers not configured, using no-op publisher")
	}

	// Синхронный клиент Terminal API
	terminalClient := terminal.NewClient(logger, cfg.TerminalAPIEndpoint, cfg.TerminalAPIKey)

	// Генератор корреляционных идентификаторов
	ids := correlation.NewGenerator()

	// Service слой: синхронные операции оплаты
	paymentService := service.New(logger, tableRegistry, terminalClient, ids, publisher, cfg.SaleID, cfg.POIID)

	// Webhook reconciler: асинхронные события процессора
	hmacValidator, err := notification.NewHMACValidator(cfg.HMACKey)
	if err != nil {
		return nil, err
	}
	reconciler := notification.NewReconciler(logger, hmacValidator, tableRegistry, publisher)

	// HTTP слой
	handler := httpapi.NewHandler(paymentService)
	webhookHandler := httpapi.NewWebhookHandler(reconciler)

	// Состояние целиком в памяти, готовность = процесс жив
	readiness := func() bool { return true }

	router := httpapi.NewRouter(handler, webhookHandler, readiness, logger)

	// WriteTimeout с запасом над таймаутом синхронного обмена с терминалом:
	// create-payment держит соединение, пока покупатель не приложит карту
	httpServer := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 165 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Создаём shutdown manager
	shutdownMgr := platformshutdown.New(cfg.ShutdownTimeout, logger)

	// Регистрируем shutdown функции в обратном порядке выполнения
	shutdownMgr.Add("otel", otelShutdown)
	if kafkaPublisher != nil {
		shutdownMgr.Add("kafka_writer", platformshutdown.CloseWriter(kafkaPublisher))
	}
	shutdownMgr.Add("http_server", platformshutdown.ShutdownHTTPServer(httpServer))

	return &App{
		logger:      logger,
		httpServer:  httpServer,
		shutdownMgr: shutdownMgr,
	}, nil
}

// Run запускает сервис и блокируется до получения сигнала shutdown
func (a *App) Run() error {
	defer platformlogging.Sync(a.logger)

	a.logger.Info("Starting POS Terminal service", zap.String("addr", a.httpServer.Addr))
	a.logger.Info("Health check available", zap.String("url", "http://"+a.httpServer.Addr+"/health"))

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	// Ожидаем сигнал и выполняем shutdown
	a.shutdownMgr.Wait()

	a.wg.Wait()
	a.logger.Info("POS Terminal service stopped")
	return nil
}
