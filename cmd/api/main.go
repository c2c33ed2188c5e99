package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	logrus "github.com/sirupsen/logrus"

	"tokentrust/internal/bootstrap"
	"tokentrust/internal/handlers"
	"tokentrust/internal/middleware"
	"tokentrust/internal/routes"
	"tokentrust/pkg/config"
	solanaUtils "tokentrust/pkg/solana"
	"tokentrust/pkg/utils"
)

const shutdownTimeout = 10 * time.Second

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		logrus.Fatal("Failed to load settings: ", err)
	}
	settings.ConfigureLogging(false)
	if err := settings.Validate(); err != nil {
		logrus.Fatal("Invalid settings: ", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	clock := utils.SystemClock()
	l, db, err := bootstrap.OpenLedger(settings, clock)
	if err != nil {
		logrus.Fatal("Failed to open ledger: ", err)
	}
	defer config.CloseDatabase(db)

	decision, err := bootstrap.NewDecision(settings, clock)
	if err != nil {
		logrus.Fatal("Failed to build decision layer: ", err)
	}

	h := &handlers.Handler{
		Ledger:       l,
		Evaluator:    decision.Scorer,
		Gate:         decision.Simulator,
		RPCEndpoints: solanaUtils.NewEndpointPool(settings.RPCPrimary, settings.RPCFallbacks).Endpoints(),
	}

	// RabbitMQ is optional for the API; without it recommendation intake answers 503.
	if settings.RabbitMQ.Enabled {
		conn, err := config.DialRabbitMQ(ctx, settings.RabbitMQ)
		if err != nil {
			logrus.Fatal("Failed to connect to RabbitMQ: ", err)
		}
		defer conn.Close()
		publisher, err := config.NewPublisher(conn)
		if err != nil {
			logrus.Fatal("Failed to create publisher: ", err)
		}
		defer publisher.Close()
		h.Publisher = publisher
		h.RecommendationQueue = settings.RabbitMQ.RecommendationQ
		logrus.Info("RabbitMQ initialized successfully")
	} else {
		logrus.Info("RabbitMQ not configured, recommendation intake disabled")
	}

	limiter := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		RequestsPerSecond: settings.RateLimitRPS,
		Burst:             settings.RateLimitBurst,
	})
	go limiter.RunCleanup(ctx)

	r := routes.SetupRouter(h, routes.Options{
		AllowedOrigins: settings.AllowedOrigins,
		RateLimiter:    limiter,
	})
	srv := &http.Server{Addr: settings.APIAddr, Handler: r}

	go func() {
		logrus.WithField("addr", settings.APIAddr).Info("API server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logrus.Fatal("Failed to start server: ", err)
		}
	}()

	<-ctx.Done()
	logrus.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logrus.WithError(err).Error("Server shutdown failed")
	}
}
