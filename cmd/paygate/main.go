// Package main запускает HTTP-сервер платёжного шлюза.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/paygate/internal/config"
	"github.com/mmeshcher/paygate/internal/gateway"
	"github.com/mmeshcher/paygate/internal/handler"
	"github.com/mmeshcher/paygate/internal/middleware"
	"github.com/mmeshcher/paygate/internal/paystack"
	"github.com/mmeshcher/paygate/internal/repository"
	"github.com/mmeshcher/paygate/internal/service"
	"github.com/mmeshcher/paygate/internal/webhook"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}

	gatewayClient := gateway.NewClient(gateway.Config{
		BaseURL:    cfg.GatewayBaseURL,
		APIVersion: cfg.GatewayAPIVersion,
		MerchantID: cfg.GatewayMerchantID,
		Password:   cfg.GatewayPassword,
		Timeout:    cfg.GatewayTimeout,
	})
	sugar.Infow("payment gateway configured", "base_url", cfg.GatewayBaseURL, "merchant", gatewayClient.MerchantID())

	var split service.SplitProvider
	if cfg.SplitEnabled() {
		split = paystack.NewClient(cfg.PaystackBaseURL, cfg.PaystackSecretKey)
	} else {
		sugar.Warn("PAYSTACK_SECRET_KEY not set, split payments and webhooks are disabled")
	}

	svc := service.NewService(repo, gatewayClient, split, logger, service.Options{
		MerchantName:              cfg.MerchantName,
		MerchantURL:               cfg.MerchantURL,
		ReturnURL:                 cfg.ReturnURL,
		CancelURL:                 cfg.CancelURL,
		RetryAttemptCount:         cfg.RetryAttemptCount,
		DefaultCurrency:           cfg.DefaultCurrency,
		CommissionPercent:         cfg.PlatformCommissionPercent,
		SplitCallbackURL:          cfg.PaystackCallbackURL,
		RequireRemoteVerification: cfg.RequireRemoteVerification,
	})
	defer svc.Close()

	signature := middleware.NewSignatureMiddleware(webhook.NewPaystackVerifier(cfg.PaystackSecretKey), logger)
	h := handler.NewHandler(svc, logger, signature)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:              cfg.RunAddress,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting paygate server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
