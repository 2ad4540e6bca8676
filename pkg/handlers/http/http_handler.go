package http

import "github.com/gofiber/fiber/v2"

type Handler interface {
	Handle(ctx *fiber.Ctx) error
}

type HandlerTransport struct {
	// Proxy
	ForwardHandler Handler

	// Rate limiting
	ListRulesHandler      Handler
	ReloadRulesHandler    Handler
	RateLimitUsageHandler Handler
	ResetRateLimitHandler Handler

	// Events
	ListEventsHandler    Handler
	GetEventStatsHandler Handler

	// Geo
	GetGeoHandler         Handler
	BlockCountryHandler   Handler
	UnblockCountryHandler Handler

	// Challenges
	ListChallengesHandler Handler
	GetChallengeHandler   Handler

	// System
	GetVersionHandler Handler
	GetHealthHandler  Handler
}
