package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NeuralTrust/TrustShield/pkg/config"
	"github.com/NeuralTrust/TrustShield/pkg/dependency_container"
	"github.com/NeuralTrust/TrustShield/pkg/infra/cache/channel"
	infraLogger "github.com/NeuralTrust/TrustShield/pkg/infra/logger"
	"github.com/NeuralTrust/TrustShield/pkg/server"
	"github.com/NeuralTrust/TrustShield/pkg/server/router"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 15 * time.Second

func main() {
	serverType := getServerType()
	envFile := os.Getenv("ENV_FILE")
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		log.Println("no .env file found, using system environment variables")
	}

	logger, logCloser, err := infraLogger.NewLogger("shield")
	if err != nil {
		log.Fatalf("failed to initialize logger: %v", err)
	}
	defer logCloser.Close()

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config"
	}
	loader := config.NewLoader(configPath)
	cfg, err := loader.Load()
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}

	container, err := dependency_container.NewContainer(dependency_container.ContainerDI{
		Cfg:    cfg,
		Logger: logger,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to initialize dependencies")
	}
	container.Monitoring.StartWorkers(cfg.Monitoring.Workers)

	loader.Watch(func(next *config.Config) {
		if err := container.ApplyConfig(next); err != nil {
			logger.WithError(err).Error("config reload partially rejected")
			return
		}
		logger.Info("config reloaded")
	}, func(err error) {
		logger.WithError(err).Error("failed to reload config")
	})

	servers := initializeServers(serverType, cfg, logger, container)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	if container.EventListener != nil {
		go container.EventListener.Listen(gctx, channel.PolicyEventsChannel)
	}
	for _, srv := range servers {
		srv := srv
		g.Go(srv.Run)
	}
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down servers")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		for _, srv := range servers {
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.WithError(err).Error("error shutting down server")
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server failed")
	}
	if err := container.Close(); err != nil {
		logger.WithError(err).Warn("failed to release resources")
	}
	logger.Info("server gracefully stopped")
}

func getServerType() string {
	if len(os.Args) > 1 {
		return os.Args[1]
	}
	return "all"
}

func initializeServers(
	serverType string,
	cfg *config.Config,
	logger *logrus.Logger,
	container *dependency_container.Container,
) []server.Server {
	proxy := func() server.Server {
		return server.NewProxyServer(server.ProxyServerDI{
			Config: cfg,
			Logger: logger,
			Routers: []router.ServerRouter{
				router.NewProxyRouter(container.ProxyMiddlewares, container.HandlerTransport),
			},
		})
	}
	admin := func() server.Server {
		return server.NewAdminServer(server.AdminServerDI{
			Config: cfg,
			Logger: logger,
			Routers: []router.ServerRouter{
				router.NewAdminRouter(container.AdminMiddlewares, container.HandlerTransport),
			},
		})
	}

	switch serverType {
	case "proxy":
		return []server.Server{proxy()}
	case "admin":
		return []server.Server{admin()}
	default:
		return []server.Server{proxy(), admin()}
	}
}
