package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/multierr"

	"github.com/angelmondragon/storefront-backend/api/routes"
	"github.com/angelmondragon/storefront-backend/internal/categories"
	"github.com/angelmondragon/storefront-backend/internal/orders"
	"github.com/angelmondragon/storefront-backend/internal/products"
	"github.com/angelmondragon/storefront-backend/internal/users"
	"github.com/angelmondragon/storefront-backend/pkg/config"
	"github.com/angelmondragon/storefront-backend/pkg/db"
	"github.com/angelmondragon/storefront-backend/pkg/logger"
	"github.com/angelmondragon/storefront-backend/pkg/metrics"
	"github.com/angelmondragon/storefront-backend/pkg/migrate"
	"github.com/angelmondragon/storefront-backend/pkg/outbox"
	"github.com/angelmondragon/storefront-backend/pkg/redis"
	"github.com/angelmondragon/storefront-backend/pkg/security"
)

const serviceName = "api"

func main() {
	logg := logger.New(logger.Options{ServiceName: serviceName})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: serviceName,
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		Format:      cfg.App.LogFormat,
		WarnStack:   cfg.App.LogWarnStack,
	})

	if err := run(cfg, logg); err != nil {
		logg.Error(context.Background(), "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logg *logger.Logger) (err error) {
	bootCtx := context.Background()

	dbClient, err := db.New(bootCtx, cfg.DB, logg)
	if err != nil {
		return fmt.Errorf("bootstrap database: %w", err)
	}
	defer func() {
		err = multierr.Append(err, dbClient.Close())
	}()

	if err := migrate.MaybeRunDev(bootCtx, cfg, logg, dbClient); err != nil {
		return fmt.Errorf("run dev migrations: %w", err)
	}

	params := routes.Params{
		Config: cfg,
		Logger: logg,
		DB:     dbClient,
	}

	if cfg.Redis.Enabled() {
		redisClient, redisErr := redis.New(bootCtx, cfg.Redis, logg)
		if redisErr != nil {
			return fmt.Errorf("bootstrap redis: %w", redisErr)
		}
		defer func() {
			err = multierr.Append(err, redisClient.Close())
		}()
		params.Cache = redisClient
		params.Idempotency = redisClient
	} else {
		logg.Warn(bootCtx, "redis not configured, idempotency keys disabled")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	params.Gatherer = registry
	params.HTTPMetrics = metrics.NewHTTPMetrics(registry)

	if err := wireServices(cfg, logg, dbClient, registry, &params); err != nil {
		return err
	}

	addr := ":" + cfg.App.Port
	server := &http.Server{
		Addr:              addr,
		Handler:           routes.NewRouter(params),
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		ReadHeaderTimeout: cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":  cfg.App.Env,
		"addr": addr,
	})

	serveErr := make(chan error, 1)
	go func() {
		logg.Info(ctx, "starting api server")
		if listenErr := server.ListenAndServe(); listenErr != nil && !errors.Is(listenErr, http.ErrServerClosed) {
			serveErr <- listenErr
		}
		close(serveErr)
	}()

	select {
	case listenErr := <-serveErr:
		if listenErr != nil {
			return fmt.Errorf("listen: %w", listenErr)
		}
		return nil
	case <-ctx.Done():
	}

	logg.Info(ctx, "api server shutting down gracefully")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		return fmt.Errorf("shutdown: %w", shutdownErr)
	}
	return nil
}

func wireServices(cfg *config.Config, logg *logger.Logger, dbClient *db.Client, reg prometheus.Registerer, params *routes.Params) error {
	conn := dbClient.DB()

	categoryRepo := categories.NewRepository(conn)
	categorySvc, err := categories.NewService(categoryRepo)
	if err != nil {
		return fmt.Errorf("create category service: %w", err)
	}

	productRepo := products.NewRepository(conn)
	productSvc, err := products.NewService(productRepo, categoryRepo)
	if err != nil {
		return fmt.Errorf("create product service: %w", err)
	}

	userRepo := users.NewRepository(conn)
	userSvc, err := users.NewService(userRepo, security.NewHasher(cfg.Password))
	if err != nil {
		return fmt.Errorf("create user service: %w", err)
	}

	orderSvc, err := orders.NewService(orders.ServiceParams{
		Repo:     orders.NewRepository(conn),
		Products: productRepo,
		Users:    userRepo,
		Tx:       dbClient,
		Outbox:   outbox.NewService(outbox.NewRepository(conn), logg),
		Config:   cfg.Orders,
		Metrics:  metrics.NewOrderMetrics(reg),
		Logger:   logg,
	})
	if err != nil {
		return fmt.Errorf("create order service: %w", err)
	}

	params.Categories = categorySvc
	params.Products = productSvc
	params.Users = userSvc
	params.Orders = orderSvc
	return nil
}
