package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	_ "github.com/lib/pq"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"marketplace/internal/cart"
	"marketplace/internal/catalog"
	"marketplace/internal/config"
	"marketplace/internal/coupons"
	"marketplace/internal/inventory"
	"marketplace/internal/messaging"
	"marketplace/internal/mw"
	"marketplace/internal/notify"
	"marketplace/internal/orders"
	"marketplace/internal/payments"
	"marketplace/internal/sweeper"
	"marketplace/internal/telemetry"
)

func main() {
	ctx := context.Background()
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	cfg := config.New()

	shutdownTracer, err := telemetry.InitTracerProvider(ctx, "marketplace", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize tracer", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownTracer(ctx) }()

	metricsHandler, shutdownMeter, err := telemetry.InitMeterProvider("marketplace", "0.1.0")
	if err != nil {
		logger.Error("failed to initialize meter", "error", err)
		os.Exit(1)
	}
	defer func() { _ = shutdownMeter(ctx) }()

	db, err := telemetry.OpenDB("postgres", cfg.DatabaseURL)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer func() { _ = db.Close() }()

	if err := db.PingContext(ctx); err != nil {
		logger.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	var producer *messaging.Producer
	if cfg.KafkaBrokers != "" {
		brokers := strings.Split(cfg.KafkaBrokers, ",")
		producer = messaging.NewProducer(brokers, "order.events")
		defer func() { _ = producer.Close() }()
	}

	orderRepo := orders.NewOrderRepository(db)
	paymentRepo := payments.NewPaymentRepository(db)
	productRepo := catalog.NewProductRepository(db)
	inventoryRepo := inventory.NewInventoryRepository(db)
	cartRepo := cart.NewCartRepository(db)
	couponRepo := coupons.NewCouponRepository(db)

	var events orders.EventPublisher
	if producer != nil {
		events = producer
	}
	orderSvc := orders.NewService(orderRepo, paymentRepo, productRepo, inventoryRepo, couponRepo, events, cfg.PaymentTimeout, logger)

	hub := notify.NewHub(logger)

	var sweepEvents sweeper.Publisher
	if producer != nil {
		sweepEvents = producer
	}
	sweep := sweeper.New(orderRepo, orderSvc, inventoryRepo, hub, sweepEvents, logger)
	if err := sweep.Start(ctx, cfg.SweepSchedule); err != nil {
		logger.Error("failed to start expiry sweep", "error", err)
		os.Exit(1)
	}
	defer sweep.Stop()

	var paymentEvents payments.EventPublisher
	if producer != nil {
		paymentEvents = producer
	}

	orderHandler := orders.NewHandler(orderSvc, cartRepo, logger)
	paymentHandler := payments.NewHandler(paymentRepo, orderRepo, paymentEvents, logger)
	productHandler := catalog.NewHandler(productRepo, logger)
	inventoryHandler := inventory.NewHandler(inventoryRepo, logger)
	cartHandler := cart.NewHandler(cartRepo, logger)
	couponHandler := coupons.NewHandler(couponRepo, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		ExposedHeaders:   []string{"Authorization"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.Method(http.MethodGet, "/metrics", metricsHandler)

	r.Group(func(r chi.Router) {
		r.Use(mw.Auth(cfg.JWTSecret))

		orderHandler.Routes(r)
		paymentHandler.Routes(r)
		productHandler.Routes(r)
		inventoryHandler.Routes(r)
		cartHandler.Routes(r)
		couponHandler.Routes(r)
		r.Get("/ws", hub.HandleWS)
	})

	server := &http.Server{
		Addr: cfg.RunAddress,
		Handler: otelhttp.NewHandler(r, "server",
			otelhttp.WithSpanNameFormatter(func(_ string, r *http.Request) string {
				return r.Method + " " + r.URL.Path
			}),
		),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("starting server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}
}
