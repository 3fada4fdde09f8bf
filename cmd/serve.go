package cmd

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"example.com/backstage/services/ess/internal/api"
	"example.com/backstage/services/ess/internal/core"
	"example.com/backstage/services/ess/internal/infrastructure"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the ESS session service",
	Long:  `Opens the MQTT session with the energy-storage station and serves the HTTP query/command API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServer()
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServer() error {
	logger.Info("Initializing ESS Session Service...")

	// --- Transport Setup ---
	transport, err := infrastructure.NewMQTTSession(infrastructure.MQTTConfig{
		BrokerURL:      cfg.MQTT.BrokerURL,
		ClientID:       cfg.MQTT.ClientID,
		Username:       cfg.MQTT.Username,
		Password:       cfg.MQTT.Password,
		QoS:            cfg.MQTT.QoS,
		CleanSession:   cfg.MQTT.CleanSession,
		KeepAlive:      cfg.MQTT.KeepAlive,
		ConnectTimeout: cfg.MQTT.ConnectTimeout,
	}, logger)
	if err != nil {
		return fmt.Errorf("transport setup failed: %w", err)
	}

	// --- Session Setup ---
	session := core.NewSessionManager(core.SessionConfig{
		ProductCode:       cfg.Session.ProductCode,
		DeviceCode:        cfg.Session.DeviceCode,
		DerivedTopics:     cfg.Topics.Derived,
		HeartbeatTimeout:  cfg.Session.HeartbeatTimeout,
		ConnectWait:       cfg.Session.ConnectWait,
		ReconnectInterval: cfg.Session.ReconnectInterval,
		EventLogLimit:     cfg.Session.EventLogLimit,
	}, transport, logger)

	for _, o := range cfg.Topics.Overrides {
		if err := session.SetTopicOverride(core.Category(o.Category), core.Direction(o.Direction), o.Topic); err != nil {
			return fmt.Errorf("invalid topic override %s/%s: %w", o.Direction, o.Category, err)
		}
	}

	transport.SetInboundHandler(session.HandleInbound)
	transport.SetConnectionEvents(infrastructure.ConnectionEvents{
		OnUp:   session.HandleTransportUp,
		OnDown: session.HandleTransportDown,
	})

	// Initial connect; the supervisor keeps retrying if it fails.
	if err := session.Connect(); err != nil {
		logger.WithError(err).Warn("Initial station connect failed, supervisor will retry")
	}

	superCtx, stopSupervisor := context.WithCancel(context.Background())
	go session.Supervise(superCtx)

	// --- API Layer Setup ---
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	handlers := api.NewAPIHandlers(session)
	api.SetupRoutes(router, handlers, logger)

	// --- HTTP Server ---
	serverAddr := fmt.Sprintf(":%d", cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	// --- Graceful Shutdown ---
	shutdownChan := make(chan os.Signal, 1)
	signal.Notify(shutdownChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		logger.Infof("ESS Session API listening on %s", serverAddr)
		logger.Info("Service started successfully")

		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("Server failed to start: %v", err)
		}
	}()

	// Wait for shutdown signal
	<-shutdownChan

	logger.Warn("Shutdown signal received, initiating graceful shutdown...")

	stopSupervisor()
	session.Disconnect()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Errorf("Server shutdown failed: %v", err)
	} else {
		logger.Info("Server stopped gracefully")
	}

	logger.Info("ESS Session Service shutdown complete")
	return nil
}
