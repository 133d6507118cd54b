package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/example/safety-checkin/internal/application"
	"github.com/example/safety-checkin/internal/auth"
	"github.com/example/safety-checkin/internal/checkin"
	"github.com/example/safety-checkin/internal/config"
	"github.com/example/safety-checkin/internal/events"
	"github.com/example/safety-checkin/internal/evidence"
	httptransport "github.com/example/safety-checkin/internal/http"
	"github.com/example/safety-checkin/internal/location"
	"github.com/example/safety-checkin/internal/notify"
	"github.com/example/safety-checkin/internal/persistence"
	"github.com/example/safety-checkin/internal/persistence/memory"
	"github.com/example/safety-checkin/internal/persistence/sqlite"
	"github.com/example/safety-checkin/internal/realtime"
)

// app holds the wired process components.
type app struct {
	logger   *slog.Logger
	store    persistence.Store
	redis    *redis.Client
	hub      *realtime.Hub
	vault    *evidence.Vault
	runner   *checkin.Runner
	checkins *application.CheckinService
	contacts *application.ContactService
	handler  http.Handler
}

func newApp(ctx context.Context, cfg config.Config, logger *slog.Logger) (a *app, err error) {
	a = &app{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
			a = nil
		}
	}()

	if a.store, err = openStore(ctx, cfg); err != nil {
		return a, err
	}

	gateway, err := newGateway(cfg, logger)
	if err != nil {
		return a, err
	}

	relay := location.NewRelay(location.RelayOptions{
		Timeout: cfg.LocationTimeout,
		MaxAge:  cfg.LocationMaxAge,
		Logger:  logger.With("component", "location.Relay"),
	})
	a.hub = realtime.NewHub(realtime.HubOptions{
		Reporter: relay,
		Logger:   logger.With("component", "realtime.Hub"),
	})
	relay.SetRequester(a.hub)

	publishers := events.Fanout{a.hub}
	checks := map[string]httptransport.Pinger{}
	if pinger, ok := a.store.(httptransport.Pinger); ok {
		checks["store"] = pinger
	}
	if cfg.RedisAddr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		publishers = append(publishers, events.NewRedisStream(a.redis, cfg.RedisStream, 0))
		checks["redis"] = redisPinger{client: a.redis}
	}

	a.vault, err = evidence.New(evidence.Options{
		Dir:         cfg.EvidenceDir,
		Key:         cfg.EvidenceKey,
		MaxBytes:    cfg.EvidenceMaxBytes,
		Store:       a.store,
		IDGenerator: uuid.NewString,
		Logger:      logger.With("component", "evidence.Vault"),
	})
	if err != nil {
		return a, fmt.Errorf("open evidence vault: %w", err)
	}

	a.runner = checkin.NewRunner(checkin.RunnerOptions{
		MonitorPeriod: cfg.MonitorPeriod,
		Logger:        logger.With("component", "checkin.Runner"),
	})

	a.checkins = application.NewCheckinService(application.CheckinDependencies{
		Sessions:                 a.store,
		Locations:                a.store,
		Contacts:                 a.store,
		Recordings:               a.store,
		Provider:                 relay,
		Reporter:                 relay,
		Gateway:                  gateway,
		Publisher:                publishers,
		Recorder:                 a.vault,
		Evidence:                 a.vault,
		Runner:                   a.runner,
		IDGenerator:              uuid.NewString,
		LocationTimeout:          cfg.LocationTimeout,
		DefaultDeactivationLimit: cfg.DefaultDeactivationLimit,
		ArchiveAfter:             cfg.ArchiveAfter,
		Logger:                   logger,
	})
	a.contacts = application.NewContactServiceWithLogger(a.store, cfg.MaxContacts, uuid.NewString, nil, logger)

	verifier, err := auth.NewVerifier(auth.Config{Secret: []byte(cfg.JWTSecret), Audience: cfg.JWTAudience})
	if err != nil {
		return a, fmt.Errorf("configure token verifier: %w", err)
	}

	a.handler = httptransport.NewRouter(httptransport.RouterConfig{
		Checkins:   httptransport.NewCheckinHandler(a.checkins, logger),
		Contacts:   httptransport.NewContactHandler(a.contacts, logger),
		Realtime:   httptransport.NewRealtimeHandler(a.hub, logger),
		Health:     httptransport.NewHealthHandler(checks, logger),
		Auth:       httptransport.RequireOwner(verifier, logger),
		Middleware: []func(http.Handler) http.Handler{httptransport.RequestLogger(logger)},
	})
	return a, nil
}

// Close halts every session task before releasing the stores they use.
func (a *app) Close() {
	if a == nil {
		return
	}
	a.runner.Shutdown()
	if a.hub != nil {
		a.hub.Close()
	}
	if a.vault != nil {
		if err := a.vault.Close(); err != nil {
			a.logger.Error("failed to close evidence vault", "error", err)
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Error("failed to close redis client", "error", err)
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			a.logger.Error("failed to close storage", "error", err)
		}
	}
}

func openStore(ctx context.Context, cfg config.Config) (persistence.Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return memory.New(), nil
	case config.StoreSQLite, "":
		store, err := sqlite.Open(ctx, cfg.SQLiteDSN)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

func newGateway(cfg config.Config, logger *slog.Logger) (notify.Gateway, error) {
	switch cfg.NotifyMode {
	case config.NotifyHTTP:
		return notify.NewHTTPGateway(notify.HTTPGatewayOptions{
			URL:     cfg.NotifyURL,
			APIKey:  cfg.NotifyAPIKey,
			Timeout: cfg.NotifyTimeout,
			Logger:  logger,
		})
	case config.NotifyTwilio:
		return notify.NewTwilioGateway(notify.TwilioOptions{
			AccountSID: cfg.TwilioAccountSID,
			AuthToken:  cfg.TwilioAuthToken,
			From:       cfg.TwilioFrom,
			Timeout:    cfg.NotifyTimeout,
			Logger:     logger,
		})
	case config.NotifyLog, "":
		return notify.NewLogGateway(logger), nil
	default:
		return nil, errors.New("unknown notify mode " + cfg.NotifyMode)
	}
}

type redisPinger struct {
	client *redis.Client
}

func (p redisPinger) Ping(ctx context.Context) error {
	return p.client.Ping(ctx).Err()
}
