package auth

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// RegisterRevocationRoutes exposes self-service token revocation (logout).
func RegisterRevocationRoutes(g *echo.Group, store RevocationStore) {
	g.POST("/auth/revoke", handleRevokeOwnToken(store))
}

func handleRevokeOwnToken(store RevocationStore) echo.HandlerFunc {
	return func(c echo.Context) error {
		p := PrincipalFromContext(c.Request().Context())
		if p == nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "authentication required")
		}
		if p.TokenID == "" {
			return echo.NewHTTPError(http.StatusBadRequest, "token has no jti and cannot be revoked")
		}
		exp := p.ExpiresAt
		if exp.IsZero() {
			exp = time.Now().Add(time.Hour)
		}
		if err := store.Revoke(c.Request().Context(), p.TokenID, exp); err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "revocation failed")
		}
		return c.NoContent(http.StatusNoContent)
	}
}
