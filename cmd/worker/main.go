package main

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	logrus "github.com/sirupsen/logrus"

	"tokentrust/internal/bootstrap"
	"tokentrust/internal/schedule"
	"tokentrust/internal/services"
	"tokentrust/pkg/config"
	"tokentrust/pkg/executor"
	solanaUtils "tokentrust/pkg/solana"
	"tokentrust/pkg/utils"
)

const (
	consumerPrefetch = 1
	// A sweep may sell several tokens, each waiting on confirmation.
	monitorTimeout = 10 * time.Minute
)

func main() {
	settings, err := config.LoadSettings()
	if err != nil {
		logrus.Fatal("Failed to load settings: ", err)
	}
	settings.ConfigureLogging(true)
	if err := errors.Join(settings.Validate(), settings.ValidateTrading()); err != nil {
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

	signer, err := solanaUtils.NewKeyManager(settings.KeystoreDir).LoadSigner(settings.WalletAddress, settings.KeystorePassword)
	if err != nil {
		logrus.Fatal("Failed to load trading wallet: ", err)
	}
	pool := solanaUtils.NewEndpointPool(settings.RPCPrimary, settings.RPCFallbacks)
	accounts := solanaUtils.NewAccountInfo(pool)
	if balance, err := accounts.WalletBalance(ctx, signer.PublicKey()); err != nil {
		logrus.WithError(err).Warn("Could not read wallet balance")
	} else if balance < settings.TradeAmount {
		logrus.WithField("balance_sol", balance).Warn("Wallet balance is below the default trade amount")
	} else {
		logrus.WithField("balance_sol", balance).Info("Wallet balance")
	}
	exec := executor.NewExecutor(executor.Config{
		MinTradeSize:       settings.MinTradeSize,
		DefaultSlippageBps: settings.SlippageBps,
	}, utils.NewJupiterClient(settings.JupiterURL, nil), signer, pool, clock)

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

	pipeline := services.NewPipeline(services.Config{
		DefaultAmount:      settings.TradeAmount,
		DefaultSlippageBps: settings.SlippageBps,
		RecentTradeWindow:  settings.RecentTradeWindow,
		TradeEventsQueue:   settings.RabbitMQ.TradeEventsQueue,
	}, l, decision.Scorer, decision.Simulator, exec, publisher, clock).WithDecimals(accounts)

	scheduler, err := schedule.Start(ctx, settings.MonitorSpec, schedule.NewMonitorJob(pipeline, monitorTimeout))
	if err != nil {
		logrus.Fatal("Failed to schedule trade monitor: ", err)
	}

	consumer, err := config.NewConsumer(conn, settings.RabbitMQ.RecommendationQ, consumerPrefetch)
	if err != nil {
		logrus.Fatal("Failed to create consumer: ", err)
	}
	defer consumer.Close()

	logrus.WithFields(logrus.Fields{
		"wallet": signer.PublicKey().String(),
		"queue":  settings.RabbitMQ.RecommendationQ,
	}).Info("Trading worker started, waiting for recommendations...")

	if err := consumer.Consume(ctx, pipeline.HandleRecommendationMessage); err != nil && !errors.Is(err, context.Canceled) {
		logrus.WithError(err).Error("Consumer stopped")
	}

	logrus.Info("Shutting down trading worker")
	<-scheduler.Stop().Done()
}
