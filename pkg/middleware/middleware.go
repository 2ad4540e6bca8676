package middleware

import "github.com/gofiber/fiber/v2"

type Middleware interface {
	Middleware() fiber.Handler
}

// Transport holds the proxy chain in the order it must run.
type Transport struct {
	PanicRecoverMiddleware    Middleware
	MetricsMiddleware         Middleware
	SecurityContextMiddleware Middleware
	DDoSMiddleware            Middleware
	RateLimitMiddleware       Middleware
}

func (t *Transport) GetMiddlewares() []interface{} {
	chain := []Middleware{
		t.PanicRecoverMiddleware,
		t.MetricsMiddleware,
		t.SecurityContextMiddleware,
		t.DDoSMiddleware,
		t.RateLimitMiddleware,
	}
	handlers := make([]interface{}, 0, len(chain))
	for _, m := range chain {
		if m != nil {
			handlers = append(handlers, m.Middleware())
		}
	}
	return handlers
}

// AdminTransport holds the admin server middlewares. Auth guards /api/v1 only.
type AdminTransport struct {
	PanicRecoverMiddleware Middleware
	AdminAuthMiddleware    Middleware
}
