package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/zoobzio/clockz"

	"github.com/ukydev/hajj-fleet-dispatch/internal/auth"
	"github.com/ukydev/hajj-fleet-dispatch/internal/cache"
	"github.com/ukydev/hajj-fleet-dispatch/internal/config"
	"github.com/ukydev/hajj-fleet-dispatch/internal/db"
	"github.com/ukydev/hajj-fleet-dispatch/internal/dispatch"
	"github.com/ukydev/hajj-fleet-dispatch/internal/events"
	"github.com/ukydev/hajj-fleet-dispatch/internal/handlers"
	"github.com/ukydev/hajj-fleet-dispatch/internal/hub"
	"github.com/ukydev/hajj-fleet-dispatch/internal/location"
	"github.com/ukydev/hajj-fleet-dispatch/internal/logging"
	"github.com/ukydev/hajj-fleet-dispatch/internal/middleware"
	"github.com/ukydev/hajj-fleet-dispatch/internal/models"
	"github.com/ukydev/hajj-fleet-dispatch/internal/monitoring"
	"github.com/ukydev/hajj-fleet-dispatch/internal/notify"
	"github.com/ukydev/hajj-fleet-dispatch/internal/ratelimit"
	"github.com/ukydev/hajj-fleet-dispatch/internal/telemetry"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load config")
	}

	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	logger.WithFields(logrus.Fields{
		"http_addr":     cfg.HTTPAddr,
		"store_backend": cfg.StoreBackend,
		"redis_enabled": cfg.RedisEnabled,
		"mqtt_enabled":  cfg.MQTTEnabled,
	}).Info("Starting dispatch server")

	if err := run(cfg, logger); err != nil {
		logger.WithError(err).Fatal("Server stopped")
	}
	logger.Info("Shutdown complete")
}

func run(cfg *config.Config, logger *logrus.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	authService, err := auth.NewService(cfg.JWTSecret, cfg.JWTExpiry)
	if err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	if err := seedBuses(ctx, store, cfg.File.Buses, time.Now()); err != nil {
		return err
	}

	locationOpts := []location.Option{location.WithRetention(cfg.LocationRetention)}
	var mirror *cache.LocationMirror
	if cfg.RedisEnabled {
		mirror, err = cache.NewLocationMirror(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB, cfg.LocationCacheTTL, logger)
		if err != nil {
			return fmt.Errorf("redis: %w", err)
		}
		defer mirror.Close()
		locationOpts = append(locationOpts, location.WithMirror(mirror))
	}
	locations := location.NewService(logger, locationOpts...)

	limiter := ratelimit.New(rateLimitOptions(cfg.File.RateLimits)...)
	h := hub.New(hub.Config{IdleTimeout: cfg.IdleTimeout, SweepInterval: cfg.SweepInterval}, limiter, logger)
	router := notify.NewRouter(notify.NewRoomDeliverer(h), logger, notify.WithRetention(cfg.NotificationRetention))

	metrics := monitoring.NewService(logger,
		monitoring.WithRetention(cfg.MetricRetention),
		monitoring.WithAlertSink(alertSink(ctx, router)),
	)
	applyThresholds(metrics, cfg.File.Thresholds)

	fleet := dispatch.NewWorkflow(store, logger,
		dispatch.WithCutoff(cfg.DispatchCutoffKM),
		dispatch.WithLocator(locations),
	)
	dispatcher := events.NewDispatcher(h, authService, locations, metrics, router, fleet, logger)

	healthOpts := []handlers.HealthOption{handlers.WithLimiterStats(limiter)}
	if cfg.MQTTEnabled {
		bridge, client, err := startBridge(ctx, cfg, h, dispatcher, logger)
		if err != nil {
			return err
		}
		defer client.Disconnect(250)
		healthOpts = append(healthOpts, handlers.WithTelemetrySessions(bridge))
	}

	fleetAPI := handlers.NewFleetHandler(fleet, locations, metrics, cfg.NearestDefaultKM, logger)
	if mirror != nil {
		fleetAPI.UseLocationCache(mirror)
	}
	api := handlers.Router{
		Auth:          middleware.NewAuthMiddleware(authService),
		RateLimit:     middleware.NewRateLimitMiddleware(limiter, logger),
		Fleet:         fleetAPI,
		Tokens:        handlers.NewAuthHandler(authService, logger),
		WS:            handlers.NewWSHandler(h, dispatcher, nil, logger),
		Health:        handlers.NewHealthHandler(h, healthOpts...),
		Notifications: handlers.NewNotificationHandler(router),
	}
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           api.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go h.Run(ctx)
	go maintain(ctx, clockz.RealClock, cfg.SweepInterval, logger, locations, metrics, router)

	serveErr := make(chan error, 1)
	go func() {
		logger.WithField("addr", cfg.HTTPAddr).Info("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("HTTP server shutdown error")
	}
	return nil
}

// openStore returns the configured dispatch store and a function releasing it.
func openStore(ctx context.Context, cfg *config.Config, logger logrus.FieldLogger) (dispatch.Store, func(), error) {
	if cfg.StoreBackend != "mongo" {
		return dispatch.NewMemoryStore(), func() {}, nil
	}

	client, err := db.ConnectMongo(ctx, cfg.MongoURI)
	if err != nil {
		return nil, nil, fmt.Errorf("mongo: %w", err)
	}
	closeFn := func() {
		if err := client.Disconnect(context.Background()); err != nil {
			logger.WithError(err).Warn("Failed to disconnect from MongoDB")
		}
	}
	store := db.NewMongoStore(client, cfg.MongoDB, logger)
	if err := store.EnsureIndexes(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("mongo indexes: %w", err)
	}
	logger.WithField("database", cfg.MongoDB).Info("Connected to MongoDB")
	return store, closeFn, nil
}

// busSaver is the part of dispatch.Store used for seeding.
type busSaver interface {
	SaveBus(ctx context.Context, bus models.Bus) error
}

func seedBuses(ctx context.Context, store busSaver, seeds []config.BusSeed, now time.Time) error {
	for _, seed := range seeds {
		if err := store.SaveBus(ctx, seed.Bus(now)); err != nil {
			return fmt.Errorf("seed bus %s: %w", seed.ID, err)
		}
	}
	return nil
}

func rateLimitOptions(rl config.RateLimits) []ratelimit.Option {
	var opts []ratelimit.Option
	if rl.Default > 0 {
		opts = append(opts, ratelimit.WithDefaultInterval(rl.Default))
	}
	for event, d := range rl.Events {
		opts = append(opts, ratelimit.WithInterval(event, d))
	}
	return opts
}

// applyThresholds registers a critical band per sensor type.
func applyThresholds(metrics *monitoring.Service, thresholds map[string]models.SensorThreshold) {
	for sensorType, band := range thresholds {
		metrics.SetThreshold(events.SensorMetric(sensorType), monitoring.CriticalBand(band))
	}
}

// alertSink forwards monitoring alerts to maintenance and supervisors.
func alertSink(ctx context.Context, router *notify.Router) monitoring.AlertSink {
	return func(a models.Alert) {
		payload := map[string]interface{}{
			"metric":    a.Metric,
			"value":     a.Value,
			"condition": a.Condition,
		}
		if busID := a.Tags["busId"]; busID != "" {
			payload["busId"] = busID
		}
		router.Notify(ctx, notify.Request{
			Type:       "metric_alert",
			Message:    fmt.Sprintf("Metric %s reached %g (%s)", a.Metric, a.Value, a.Condition),
			Recipients: []string{string(models.RoleMaintenance), string(models.RoleSupervisor)},
			Priority:   models.PriorityHigh,
			Payload:    payload,
		})
	}
}

type pruner interface {
	Prune() int
}

// maintain prunes the bounded histories every interval until ctx is done.
func maintain(ctx context.Context, clock clockz.Clock, interval time.Duration, logger logrus.FieldLogger, pruners ...pruner) {
	if interval <= 0 {
		interval = time.Minute
	}
	for {
		select {
		case <-ctx.Done():
			return
		case <-clock.After(interval):
			removed := 0
			for _, p := range pruners {
				removed += p.Prune()
			}
			if removed > 0 {
				logger.WithField("removed", removed).Debug("Pruned expired history")
			}
		}
	}
}

func startBridge(ctx context.Context, cfg *config.Config, h *hub.Hub, handler telemetry.Handler, logger logrus.FieldLogger) (*telemetry.Bridge, mqtt.Client, error) {
	bridge := telemetry.NewBridge(h, handler, cfg.MQTTTopicPrefix, logger)
	clientID := cfg.MQTTClientID
	if clientID == "" {
		clientID = "hajj-dispatch"
	}
	client, err := telemetry.Connect(cfg.MQTTBroker, clientID, func(c mqtt.Client) {
		if err := bridge.Subscribe(ctx, c, 1); err != nil {
			logger.WithError(err).Error("Failed to subscribe to telemetry topics")
		}
	}, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("mqtt %s: %w", cfg.MQTTBroker, err)
	}
	return bridge, client, nil
}
