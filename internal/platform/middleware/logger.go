package middleware

import (
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/medclaims/claims/internal/platform/auth"
)

// RequestObserver receives per-request measurements, e.g. Prometheus collectors.
type RequestObserver interface {
	ObserveRequest(method, route string, status int, latency time.Duration)
}

func Logger(logger zerolog.Logger, observers ...RequestObserver) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()

			err := next(c)
			if err != nil {
				// Let echo write the response so the logged status is final.
				c.Error(err)
			}
			latency := time.Since(start)
			status := c.Response().Status
			// Downstream middleware may have swapped the request to carry the principal.
			req := c.Request()

			evt := logger.Info()
			switch {
			case status >= 500:
				evt = logger.Error().Err(err)
			case status >= 400:
				evt = logger.Warn()
			}

			rid, _ := c.Get("request_id").(string)
			evt = evt.
				Str("request_id", rid).
				Str("method", req.Method).
				Str("path", req.URL.Path).
				Int("status", status).
				Dur("latency", latency).
				Str("remote_ip", c.RealIP())
			if p := auth.PrincipalFromContext(req.Context()); p != nil {
				evt = evt.Str("user_id", p.UserID).Str("role", p.Role)
			}
			evt.Msg("request")

			for _, o := range observers {
				o.ObserveRequest(req.Method, c.Path(), status, latency)
			}
			return nil
		}
	}
}
