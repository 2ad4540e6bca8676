package dependency_container

import (
	"errors"
	"fmt"

	"github.com/NeuralTrust/TrustShield/pkg/app/challenge"
	"github.com/NeuralTrust/TrustShield/pkg/app/ddos"
	"github.com/NeuralTrust/TrustShield/pkg/app/geo"
	"github.com/NeuralTrust/TrustShield/pkg/app/identity"
	"github.com/NeuralTrust/TrustShield/pkg/app/monitoring"
	"github.com/NeuralTrust/TrustShield/pkg/app/pattern"
	"github.com/NeuralTrust/TrustShield/pkg/app/ratelimit"
	"github.com/NeuralTrust/TrustShield/pkg/app/threat"
	"github.com/NeuralTrust/TrustShield/pkg/cache"
	"github.com/NeuralTrust/TrustShield/pkg/config"
	handlers "github.com/NeuralTrust/TrustShield/pkg/handlers/http"
	infraCache "github.com/NeuralTrust/TrustShield/pkg/infra/cache"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/event"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/subscriber"
	"github.com/NeuralTrust/TrustShield/pkg/infra/geoip"
	"github.com/NeuralTrust/TrustShield/pkg/infra/httpx"
	"github.com/NeuralTrust/TrustShield/pkg/infra/jwt"
	"github.com/NeuralTrust/TrustShield/pkg/middleware"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type Container struct {
	Store            cache.Store
	BucketStore      *ratelimit.BucketStore
	RulesEngine      *ratelimit.RulesEngine
	PatternAnalyzer  pattern.Analyzer
	ThreatDetector   *threat.Detector
	Monitoring       *monitoring.Service
	ChallengeSystem  *challenge.System
	GeoLocator       geoip.Locator
	GeoService       *geo.Service
	Protection       *ddos.Protection
	JWTManager       jwt.Manager
	InstanceID       string
	EventPublisher   infraCache.EventPublisher
	// EventListener is nil when there is no shared store.
	EventListener    infraCache.EventListener
	HandlerTransport handlers.HandlerTransport
	ProxyMiddlewares *middleware.Transport
	AdminMiddlewares *middleware.AdminTransport
}

type ContainerDI struct {
	Cfg    *config.Config
	Logger *logrus.Logger
}

func NewContainer(di ContainerDI) (*Container, error) {
	cfg := di.Cfg
	logger := di.Logger

	store, err := newStore(cfg, logger)
	if err != nil {
		return nil, err
	}

	bucketStore := ratelimit.NewBucketStore(store, logger, &ratelimit.BucketStoreOpts{
		FallbackSize: cfg.RateLimiting.FallbackSize,
	})

	analyzer := pattern.NewAnalyzer(pattern.AnalyzerDI{
		Store:              store,
		Logger:             logger,
		ChallengeThreshold: cfg.DDoS.Challenges.Threshold,
	})

	detector := threat.NewDetector(threat.DetectorDI{
		Analyzer:       analyzer,
		Store:          store,
		Logger:         logger,
		AnomalyStdDevs: cfg.Threat.AnomalyStdDevs,
	})
	monitoringService := monitoring.NewService(monitoring.ServiceDI{
		Store:     store,
		Learner:   detector,
		Logger:    logger,
		QueueSize: cfg.Monitoring.QueueSize,
	})

	rulesEngine, err := ratelimit.NewRulesEngine(ratelimit.RulesEngineDI{
		Store:   bucketStore,
		Default: cfg.RateLimiting.Default,
		Rules:   cfg.RateLimiting.Rules,
		Events:  monitoringService,
		Logger:  logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build rate limit rules: %w", err)
	}

	challengeSystem := challenge.NewSystem(challenge.SystemDI{
		Store:   store,
		Logger:  logger,
		SiteKey: cfg.DDoS.Challenges.CaptchaSiteKey,
	})

	locator, err := newLocator(cfg.Geo, logger)
	if err != nil {
		return nil, err
	}
	geoService := geo.NewService(geo.ServiceDI{
		Store:     store,
		Locator:   locator,
		Config:    cfg.DDoS.GeoBlocking,
		CacheSize: cfg.Geo.CacheSize,
		Logger:    logger,
	})

	protection, err := ddos.NewProtection(ddos.ProtectionDI{
		Config:     cfg.DDoS,
		Geo:        geoService,
		Challenges: challengeSystem,
		Analyzer:   detector,
		Store:      store,
		Events:     monitoringService,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to build ddos protection: %w", err)
	}

	jwtManager := jwt.NewJwtManager(&cfg.Server)
	identities := identity.NewResolver(identity.ResolverDI{
		Tokens: jwtManager,
		Keys:   identity.NewKeyring(cfg.Identity.APIKeys),
		Logger: logger,
	})

	instanceID := uuid.NewString()
	var (
		publisher = infraCache.NewNoopEventPublisher()
		listener  infraCache.EventListener
	)
	if redisStore, ok := store.(*cache.RedisStore); ok {
		publisher = infraCache.NewRedisEventPublisher(redisStore.Client(), instanceID)
		listener = infraCache.NewRedisEventListener(logger, redisStore.Client(), instanceID, event.Registry)
		infraCache.RegisterEventSubscriber[event.RulesReloadedEvent](
			listener,
			subscriber.NewRulesReloadedEventSubscriber(logger, rulesEngine),
		)
		infraCache.RegisterEventSubscriber[event.GeoPolicyUpdatedEvent](
			listener,
			subscriber.NewGeoPolicyUpdatedEventSubscriber(logger, geoService),
		)
	}

	panicRecoverMiddleware := middleware.NewPanicRecoverMiddleware(logger)
	proxyMiddlewares := &middleware.Transport{
		PanicRecoverMiddleware:    panicRecoverMiddleware,
		MetricsMiddleware:         middleware.NewMetricsMiddleware(logger),
		SecurityContextMiddleware: middleware.NewSecurityContextMiddleware(logger, geoService, identities),
		DDoSMiddleware:            middleware.NewDDoSMiddleware(logger, protection),
	}
	if cfg.RateLimiting.Enabled {
		proxyMiddlewares.RateLimitMiddleware = middleware.NewRateLimitMiddleware(logger, rulesEngine)
	}
	adminMiddlewares := &middleware.AdminTransport{
		PanicRecoverMiddleware: panicRecoverMiddleware,
		AdminAuthMiddleware:    middleware.NewAdminAuthMiddleware(logger, jwtManager),
	}

	handlerTransport := handlers.HandlerTransport{
		ForwardHandler: handlers.NewForwardHandler(logger, cfg.Upstream),

		ListRulesHandler:      handlers.NewListRulesHandler(logger, rulesEngine),
		ReloadRulesHandler:    handlers.NewReloadRulesHandler(logger, rulesEngine, publisher),
		RateLimitUsageHandler: handlers.NewRateLimitUsageHandler(logger, rulesEngine),
		ResetRateLimitHandler: handlers.NewResetRateLimitHandler(logger, rulesEngine),

		ListEventsHandler:    handlers.NewListEventsHandler(logger, monitoringService),
		GetEventStatsHandler: handlers.NewGetEventStatsHandler(logger, monitoringService),

		GetGeoHandler:         handlers.NewGetGeoHandler(logger, geoService),
		BlockCountryHandler:   handlers.NewBlockCountryHandler(logger, geoService, publisher),
		UnblockCountryHandler: handlers.NewUnblockCountryHandler(logger, geoService, publisher),

		ListChallengesHandler: handlers.NewListChallengesHandler(logger, challengeSystem),
		GetChallengeHandler:   handlers.NewGetChallengeHandler(logger, challengeSystem),

		GetVersionHandler: handlers.NewGetVersionHandler(logger),
		GetHealthHandler:  handlers.NewGetHealthHandler(logger, store),
	}

	return &Container{
		Store:            store,
		BucketStore:      bucketStore,
		RulesEngine:      rulesEngine,
		PatternAnalyzer:  analyzer,
		ThreatDetector:   detector,
		Monitoring:       monitoringService,
		ChallengeSystem:  challengeSystem,
		GeoLocator:       locator,
		GeoService:       geoService,
		Protection:       protection,
		JWTManager:       jwtManager,
		InstanceID:       instanceID,
		EventPublisher:   publisher,
		EventListener:    listener,
		HandlerTransport: handlerTransport,
		ProxyMiddlewares: proxyMiddlewares,
		AdminMiddlewares: adminMiddlewares,
	}, nil
}

// ApplyConfig pushes a reloaded configuration into the running components.
// Each component keeps its previous settings when its section is invalid.
func (c *Container) ApplyConfig(cfg *config.Config) error {
	var errs []error
	if err := c.RulesEngine.Reload(cfg.RateLimiting.Rules); err != nil {
		errs = append(errs, fmt.Errorf("rate limit rules: %w", err))
	}
	if err := c.Protection.UpdateConfig(cfg.DDoS); err != nil {
		errs = append(errs, fmt.Errorf("ddos: %w", err))
	}
	c.GeoService.UpdateConfig(cfg.DDoS.GeoBlocking)
	return errors.Join(errs...)
}

// Close stops background work and releases external resources.
func (c *Container) Close() error {
	c.Monitoring.Shutdown()
	var errs []error
	if c.GeoLocator != nil {
		errs = append(errs, c.GeoLocator.Close())
	}
	if closer, ok := c.Store.(interface{ Close() error }); ok {
		errs = append(errs, closer.Close())
	}
	return errors.Join(errs...)
}

func newStore(cfg *config.Config, logger *logrus.Logger) (cache.Store, error) {
	if !cfg.Redis.Enabled {
		logger.Warn("redis is disabled, limits and challenges are local to this instance")
		return cache.NewMemoryStore(cache.DefaultMemoryStoreSize), nil
	}
	store, err := cache.NewRedisStore(cache.Config{
		Host:     cfg.Redis.Host,
		Port:     cfg.Redis.Port,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		TLS:      cfg.Redis.TLS,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis store: %w", err)
	}
	return store, nil
}

func newLocator(cfg config.GeoConfig, logger *logrus.Logger) (geoip.Locator, error) {
	if cfg.DatabasePath != "" {
		locator, err := geoip.NewMaxMindLocator(cfg.DatabasePath)
		if err != nil {
			return nil, fmt.Errorf("failed to open geo database: %w", err)
		}
		logger.WithField("path", cfg.DatabasePath).Info("using maxmind geo database")
		return locator, nil
	}
	if cfg.LookupURL == "" {
		logger.Info("geo lookup disabled, relying on edge headers")
		return nil, nil
	}
	client := httpx.NewFastHTTPClient(httpx.WithTimeout(cfg.LookupTimeout))
	breaker := httpx.NewCircuitBreaker(
		"geo-lookup",
		cfg.BreakerTimeout,
		cfg.BreakerMaxFailures,
		httpx.WithStateLogger(logger),
	)
	return geoip.NewHTTPLocator(cfg.LookupURL, client, breaker), nil
}
