package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"fruitripe.dev/chamber-hub/internal/auth"
	"fruitripe.dev/chamber-hub/internal/bridge"
	"fruitripe.dev/chamber-hub/internal/httpapi"
	"fruitripe.dev/chamber-hub/internal/hub"
	"fruitripe.dev/chamber-hub/internal/mailer"
	"fruitripe.dev/chamber-hub/internal/store"
	"fruitripe.dev/chamber-hub/internal/sweeper"
	"fruitripe.dev/chamber-hub/pkg/metrics"
	"fruitripe.dev/chamber-hub/pkg/mq"
)

// metricsNamespace prefixes every Prometheus metric.
const metricsNamespace = "chamber_hub"

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the chamber hub server",
	Long: `Run the chamber hub server that:
- Consumes chamber telemetry from RabbitMQ
- Persists readings and tracks chamber liveness in PostgreSQL
- Fans readings out to authorized viewers over WebSocket rooms
- Serves the authenticated HTTP API`,
	RunE: runServer,
}

func init() {
	rootCmd.AddCommand(serverCmd)

	// Server-specific flags
	serverCmd.Flags().Int("http-port", 4000, "HTTP listen port")
	serverCmd.Flags().StringSlice("cors-origins", []string{"*"}, "allowed cross-origin callers")
	serverCmd.Flags().String("db-host", "localhost", "PostgreSQL host")
	serverCmd.Flags().Int("db-port", 5432, "PostgreSQL port")
	serverCmd.Flags().String("db-user", "postgres", "PostgreSQL user")
	serverCmd.Flags().String("db-password", "", "PostgreSQL password")
	serverCmd.Flags().String("db-name", "fruitripe", "PostgreSQL database name")
	serverCmd.Flags().String("db-sslmode", "disable", "PostgreSQL SSL mode")
	serverCmd.Flags().String("mq-url", "amqp://localhost:5672", "RabbitMQ URL")
	serverCmd.Flags().String("mq-exchange", "telemetry", "RabbitMQ topic exchange for telemetry")
	serverCmd.Flags().String("mq-queue", "chamber-telemetry", "RabbitMQ queue for telemetry")
	serverCmd.Flags().String("mq-binding-key", "chambers.*.data", "topic pattern the telemetry queue is bound with")
	serverCmd.Flags().String("jwt-secret", "", "secret signing access tokens")
	serverCmd.Flags().Duration("access-ttl", 12*time.Hour, "access token lifetime")
	serverCmd.Flags().Int("refresh-ttl-days", 30, "refresh token lifetime in days")
	serverCmd.Flags().Int("reset-ttl-minutes", 60, "password reset token lifetime in minutes")
	serverCmd.Flags().Bool("reset-return-token", false, "echo raw reset tokens in forgot-password responses (debug only)")
	serverCmd.Flags().String("frontend-base-url", "http://localhost:5173", "base URL for reset links")
	serverCmd.Flags().String("smtp-host", "", "SMTP relay host (mail disabled when empty)")
	serverCmd.Flags().Int("smtp-port", 587, "SMTP relay port")
	serverCmd.Flags().String("smtp-user", "", "SMTP user")
	serverCmd.Flags().String("smtp-password", "", "SMTP password")
	serverCmd.Flags().String("smtp-from", "no-reply@example.com", "From address for outbound mail")
	serverCmd.Flags().Duration("sweep-interval", time.Minute, "presence sweep interval")
	serverCmd.Flags().Int("offline-after-minutes", 10, "silence threshold before a chamber is marked offline")

	// Bind flags to viper
	_ = viper.BindPFlag("server.http.port", serverCmd.Flags().Lookup("http-port"))
	_ = viper.BindPFlag("server.cors.origins", serverCmd.Flags().Lookup("cors-origins"))
	_ = viper.BindPFlag("server.db.host", serverCmd.Flags().Lookup("db-host"))
	_ = viper.BindPFlag("server.db.port", serverCmd.Flags().Lookup("db-port"))
	_ = viper.BindPFlag("server.db.user", serverCmd.Flags().Lookup("db-user"))
	_ = viper.BindPFlag("server.db.password", serverCmd.Flags().Lookup("db-password"))
	_ = viper.BindPFlag("server.db.name", serverCmd.Flags().Lookup("db-name"))
	_ = viper.BindPFlag("server.db.sslmode", serverCmd.Flags().Lookup("db-sslmode"))
	_ = viper.BindPFlag("server.mq.url", serverCmd.Flags().Lookup("mq-url"))
	_ = viper.BindPFlag("server.mq.exchange", serverCmd.Flags().Lookup("mq-exchange"))
	_ = viper.BindPFlag("server.mq.queue", serverCmd.Flags().Lookup("mq-queue"))
	_ = viper.BindPFlag("server.mq.binding_key", serverCmd.Flags().Lookup("mq-binding-key"))
	_ = viper.BindPFlag("server.auth.jwt_secret", serverCmd.Flags().Lookup("jwt-secret"))
	_ = viper.BindPFlag("server.auth.access_ttl", serverCmd.Flags().Lookup("access-ttl"))
	_ = viper.BindPFlag("server.auth.refresh_ttl_days", serverCmd.Flags().Lookup("refresh-ttl-days"))
	_ = viper.BindPFlag("server.auth.reset_ttl_minutes", serverCmd.Flags().Lookup("reset-ttl-minutes"))
	_ = viper.BindPFlag("server.auth.reset_return_token", serverCmd.Flags().Lookup("reset-return-token"))
	_ = viper.BindPFlag("server.auth.frontend_base_url", serverCmd.Flags().Lookup("frontend-base-url"))
	_ = viper.BindPFlag("server.smtp.host", serverCmd.Flags().Lookup("smtp-host"))
	_ = viper.BindPFlag("server.smtp.port", serverCmd.Flags().Lookup("smtp-port"))
	_ = viper.BindPFlag("server.smtp.user", serverCmd.Flags().Lookup("smtp-user"))
	_ = viper.BindPFlag("server.smtp.password", serverCmd.Flags().Lookup("smtp-password"))
	_ = viper.BindPFlag("server.smtp.from", serverCmd.Flags().Lookup("smtp-from"))
	_ = viper.BindPFlag("server.sweeper.interval", serverCmd.Flags().Lookup("sweep-interval"))
	_ = viper.BindPFlag("server.sweeper.offline_after_minutes", serverCmd.Flags().Lookup("offline-after-minutes"))
}

func runServer(_ *cobra.Command, _ []string) error {
	logger := GetLogger()
	logger.Info("starting chamber hub server")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	// Database
	db, err := store.NewDB(&store.DBConfig{
		Logger:   logger,
		Host:     viper.GetString("server.db.host"),
		Port:     viper.GetInt("server.db.port"),
		User:     viper.GetString("server.db.user"),
		Password: viper.GetString("server.db.password"),
		DBName:   viper.GetString("server.db.name"),
		SSLMode:  viper.GetString("server.db.sslmode"),
	})
	if err != nil {
		return err
	}
	defer func() {
		if err := store.CloseDB(db, logger); err != nil {
			logger.Error("failed to close database", "error", err)
		}
	}()
	st := store.New(db)

	// Fan-out hub
	fanout, err := hub.New(st, logger)
	if err != nil {
		return err
	}
	fanout.SetMetrics(metrics.NewHubMetrics(metricsNamespace))

	// Token service
	var resetMailer auth.Mailer
	if m := mailer.New(mailer.Config{
		Host:     viper.GetString("server.smtp.host"),
		Port:     viper.GetInt("server.smtp.port"),
		User:     viper.GetString("server.smtp.user"),
		Password: viper.GetString("server.smtp.password"),
		From:     viper.GetString("server.smtp.from"),
	}, logger); m != nil {
		resetMailer = m
	}

	authSvc, err := auth.NewService(st, st, resetMailer, logger, auth.Config{
		JWTSecret:        []byte(viper.GetString("server.auth.jwt_secret")),
		AccessTTL:        viper.GetDuration("server.auth.access_ttl"),
		RefreshTTL:       time.Duration(viper.GetInt("server.auth.refresh_ttl_days")) * 24 * time.Hour,
		ResetTTL:         time.Duration(viper.GetInt("server.auth.reset_ttl_minutes")) * time.Minute,
		ReturnResetToken: viper.GetBool("server.auth.reset_return_token"),
		FrontendBaseURL:  viper.GetString("server.auth.frontend_base_url"),
	})
	if err != nil {
		return err
	}

	// Realtime transport
	corsOrigins := viper.GetStringSlice("server.cors.origins")
	wsHandler, err := hub.NewWSHandler(fanout, authSvc, logger, hub.WSConfig{
		AllowedOrigins: corsOrigins,
	})
	if err != nil {
		return err
	}

	// Telemetry consumer
	mqClient := mq.New(mq.Config{
		URL:        viper.GetString("server.mq.url"),
		Exchange:   viper.GetString("server.mq.exchange"),
		Queue:      viper.GetString("server.mq.queue"),
		BindingKey: viper.GetString("server.mq.binding_key"),
	}, logger)
	mqClient.SetMetrics(metrics.NewMQMetrics(metricsNamespace))

	ingest, err := bridge.New(&bridge.Config{
		Logger:      logger,
		Store:       st,
		Broadcaster: fanout,
		MQClient:    mqClient,
	})
	if err != nil {
		return err
	}
	ingest.SetMetrics(metrics.NewBridgeMetrics(metricsNamespace))

	if err := ingest.Start(ctx); err != nil {
		return err
	}

	// Presence sweeper
	sweep, err := sweeper.New(&sweeper.Config{
		Logger:    logger,
		Store:     st,
		Interval:  viper.GetDuration("server.sweeper.interval"),
		Threshold: time.Duration(viper.GetInt("server.sweeper.offline_after_minutes")) * time.Minute,
	})
	if err != nil {
		return err
	}
	sweep.SetMetrics(metrics.NewSweeperMetrics(metricsNamespace))
	sweep.Start(ctx)

	// HTTP API
	server, err := httpapi.NewServer(&httpapi.Config{
		Logger:      logger,
		Port:        viper.GetInt("server.http.port"),
		CORSOrigins: corsOrigins,
		AuthService: authSvc,
		Queries:     st,
		WSHandler:   wsHandler,
	})
	if err != nil {
		return err
	}
	server.SetMetrics(metrics.NewHTTPMetrics(metricsNamespace))

	runErr := server.Run(ctx)

	// Orderly teardown once the HTTP server has drained.
	stop()
	if err := ingest.Stop(); err != nil {
		logger.Error("failed to stop ingestion bridge", "error", err)
	}
	sweep.Stop()

	logger.Info("chamber hub server stopped")
	return runErr
}
