package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/ukydev/fleet-maintenance/internal/auth"
	"github.com/ukydev/fleet-maintenance/internal/config"
	"github.com/ukydev/fleet-maintenance/internal/db"
	"github.com/ukydev/fleet-maintenance/internal/events"
	"github.com/ukydev/fleet-maintenance/internal/handlers"
	"github.com/ukydev/fleet-maintenance/internal/maintenance"
	"github.com/ukydev/fleet-maintenance/internal/registry"
	"github.com/ukydev/fleet-maintenance/internal/service"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return fmt.Errorf("failed to load config: %w", err)
			}
			if cmd.Flags().Changed("port") {
				cfg.Server.Port, _ = cmd.Flags().GetInt("port")
			}
			logger := cfg.NewLogger()

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, cfg, logger)
		},
	}
	cmd.Flags().Int("port", 0, "Override server.port")
	return cmd
}

// app is the wired service graph plus the resources it holds open.
type app struct {
	svc     *service.MaintenanceService
	router  *gin.Engine
	closers []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config, logger *logrus.Logger) (*app, error) {
	a := &app{}
	fail := func(err error) (*app, error) {
		a.Close()
		return nil, err
	}

	catalog, err := registry.LoadCatalog(cfg.Seed.CatalogFile)
	if err != nil {
		return nil, err
	}
	fleet, err := registry.LoadFleet(cfg.Seed.FleetFile)
	if err != nil {
		return nil, err
	}
	vendors := registry.NewVendors(fleet.Vendors)
	assets := registry.NewAssets(fleet.Assets)

	var store db.Store = db.NewMemoryStore()
	if cfg.Storage.Driver == "mongo" {
		client, err := db.ConnectMongo(ctx, cfg.Mongo.URI)
		if err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, func() {
			_ = client.Disconnect(context.Background())
		})
		mongoStore := db.NewMongoStore(client.Database(cfg.Mongo.Database))
		if err := mongoStore.EnsureIndexes(ctx); err != nil {
			return fail(err)
		}
		store = mongoStore
		logger.WithField("database", cfg.Mongo.Database).Info("Connected to MongoDB")
	}

	var (
		publisher  events.Publisher = events.NopPublisher{}
		mqttClient mqtt.Client
	)
	if cfg.MQTT.Broker != "" {
		mqttClient, err = events.Connect(events.MQTTConfig{
			Broker:   cfg.MQTT.Broker,
			ClientID: cfg.MQTT.ClientID,
			Username: cfg.MQTT.Username,
			Password: cfg.MQTT.Password,
		})
		if err != nil {
			return fail(err)
		}
		mqttPublisher := events.NewMQTTPublisher(mqttClient, cfg.MQTT.TopicPrefix)
		a.closers = append(a.closers, mqttPublisher.Close)
		publisher = mqttPublisher
	}

	engine := maintenance.New(vendors, catalog, maintenance.WithLogger(logger))
	a.svc = service.New(engine, assets, vendors, catalog,
		service.WithStore(store),
		service.WithPublisher(publisher),
		service.WithLogger(logger),
	)
	if err := a.svc.Hydrate(ctx); err != nil {
		return fail(err)
	}

	if mqttClient != nil && cfg.MQTT.TelemetryTopic != "" {
		sub := events.NewTelemetrySubscriber(mqttClient, cfg.MQTT.TelemetryTopic, a.svc)
		if err := sub.Start(); err != nil {
			return fail(err)
		}
		a.closers = append(a.closers, sub.Stop)
	}

	var authService *auth.Service
	if cfg.Auth.Enabled {
		authService, err = auth.NewService(cfg.Auth.Secret, cfg.Auth.Expiry)
		if err != nil {
			return fail(err)
		}
	}

	if logger.GetLevel() < logrus.DebugLevel {
		gin.SetMode(gin.ReleaseMode)
	}
	a.router = handlers.NewRouter(a.svc, handlers.RouterConfig{
		Auth:            authService,
		RateLimit:       cfg.RateLimit.Requests,
		RateLimitWindow: cfg.RateLimit.Window,
		Logger:          logger,
	})
	return a, nil
}

// serve runs the HTTP server until ctx is cancelled.
func serve(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           a.router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"addr":    srv.Addr,
			"storage": cfg.Storage.Driver,
			"auth":    cfg.Auth.Enabled,
		}).Info("HTTP server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}
	logger.Info("Server exited")
	return nil
}
