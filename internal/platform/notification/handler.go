package notification

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/medclaims/claims/pkg/pagination"
)

// RegisterRoutes mounts the read-only failure log on g.
func RegisterRoutes(g *echo.Group, log FailureLog) {
	g.GET("/notifications/failures", ListFailures(log))
}

func ListFailures(log FailureLog) echo.HandlerFunc {
	return func(c echo.Context) error {
		pg := pagination.FromContext(c)
		items, total, err := log.List(c.Request().Context(), pg.Limit, pg.Offset)
		if err != nil {
			return echo.NewHTTPError(http.StatusInternalServerError, "failed to list notification failures")
		}
		return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset))
	}
}
