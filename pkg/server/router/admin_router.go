package router

import (
	"errors"

	handlers "github.com/NeuralTrust/TrustShield/pkg/handlers/http"
	"github.com/NeuralTrust/TrustShield/pkg/middleware"
	"github.com/gofiber/fiber/v2"
)

var (
	ErrInvalidHandlerTransport = errors.New("invalid handler transport")
)

type adminRouter struct {
	middlewareTransport *middleware.AdminTransport
	handlerTransport    handlers.HandlerTransport
}

func NewAdminRouter(
	middlewareTransport *middleware.AdminTransport,
	handlerTransport handlers.HandlerTransport,
) ServerRouter {
	return &adminRouter{
		middlewareTransport: middlewareTransport,
		handlerTransport:    handlerTransport,
	}
}

func (r *adminRouter) BuildRoutes(router *fiber.App) error {
	ht := r.handlerTransport
	if ht.ListRulesHandler == nil || ht.GetVersionHandler == nil || ht.GetHealthHandler == nil {
		return ErrInvalidHandlerTransport
	}

	if r.middlewareTransport.PanicRecoverMiddleware != nil {
		router.Use(r.middlewareTransport.PanicRecoverMiddleware.Middleware())
	}

	router.Get("/version", ht.GetVersionHandler.Handle)
	router.Get("/health", ht.GetHealthHandler.Handle)

	v1 := router.Group("/api/v1")
	{
		if r.middlewareTransport.AdminAuthMiddleware != nil {
			v1.Use(r.middlewareTransport.AdminAuthMiddleware.Middleware())
		}

		rules := v1.Group("/rules")
		{
			rules.Get("", ht.ListRulesHandler.Handle)
			rules.Post("/reload", ht.ReloadRulesHandler.Handle)
		}

		rateLimit := v1.Group("/ratelimit")
		{
			rateLimit.Post("/usage", ht.RateLimitUsageHandler.Handle)
			rateLimit.Delete("", ht.ResetRateLimitHandler.Handle)
		}

		events := v1.Group("/events")
		{
			events.Get("", ht.ListEventsHandler.Handle)
			events.Get("/stats", ht.GetEventStatsHandler.Handle)
		}

		geo := v1.Group("/geo")
		{
			geo.Put("/blocked/:country", ht.BlockCountryHandler.Handle)
			geo.Delete("/blocked/:country", ht.UnblockCountryHandler.Handle)
			geo.Get("/:ip", ht.GetGeoHandler.Handle)
		}

		challenges := v1.Group("/challenges")
		{
			challenges.Get("/:ip", ht.ListChallengesHandler.Handle)
			challenges.Get("/:ip/:id", ht.GetChallengeHandler.Handle)
		}
	}

	return nil
}
