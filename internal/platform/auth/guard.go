package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// Guard resolves bearer credentials to a Principal and enforces role
// allow-lists. The block-list is always evaluated before any allow-list.
type Guard struct {
	verifier *Verifier
	profiles ProfileStore
	logger   zerolog.Logger
}

func NewGuard(verifier *Verifier, profiles ProfileStore, logger zerolog.Logger) *Guard {
	return &Guard{verifier: verifier, profiles: profiles, logger: logger}
}

// Resolve verifies the Authorization header value and builds the Principal.
func (g *Guard) Resolve(ctx context.Context, header string) (*Principal, error) {
	tokenStr, err := ParseBearer(header)
	if err != nil {
		return nil, err
	}
	claims, err := g.verifier.Verify(ctx, tokenStr)
	if err != nil {
		return nil, err
	}
	profile, err := g.profiles.GetProfile(ctx, claims.Subject)
	if err != nil {
		return nil, err
	}

	p := &Principal{
		UserID:  claims.Subject,
		Email:   firstNonEmpty(profile.Email, claims.Email),
		Name:    firstNonEmpty(profile.Name, claims.Name),
		Role:    NormalizeRole(profile.Role),
		TokenID: claims.ID,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	p.Scope = BuildScope(p.Role, profile.EntityAssignments)
	return p, nil
}

// Authenticate attaches the Principal to the request. It also rejects
// blocked roles and any role outside the claims module.
func (g *Guard) Authenticate() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p, err := g.Resolve(c.Request().Context(), c.Request().Header.Get(echo.HeaderAuthorization))
			if err != nil {
				return g.toHTTP(c, err)
			}
			if err := checkRole(p.Role, ClaimsRoles); err != nil {
				return err
			}
			c.Set("user_id", p.UserID)
			c.SetRequest(c.Request().WithContext(WithPrincipal(c.Request().Context(), p)))
			return next(c)
		}
	}
}

// RequireRole admits principals whose role is in roles and not blocked.
func RequireRole(roles ...string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			p := PrincipalFromContext(c.Request().Context())
			if p == nil {
				return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{
					"message": "authentication required", "reason": ReasonMissing,
				})
			}
			if err := checkRole(p.Role, roles); err != nil {
				return err
			}
			return next(c)
		}
	}
}

func checkRole(role string, allowed []string) error {
	if IsBlocked(role) {
		return echo.NewHTTPError(http.StatusForbidden, "administrators cannot access the claims module")
	}
	if !hasRole(allowed, role) {
		return echo.NewHTTPError(http.StatusForbidden,
			fmt.Sprintf("role %q is not permitted; required role: %s", role, strings.Join(allowed, " or ")))
	}
	return nil
}

func (g *Guard) toHTTP(c echo.Context, err error) error {
	var authErr *AuthError
	switch {
	case errors.As(err, &authErr):
		g.logger.Info().Str("reason", authErr.Reason).Str("path", c.Path()).Msg("credential rejected")
		return echo.NewHTTPError(http.StatusUnauthorized, map[string]string{
			"message": authErr.Error(), "reason": authErr.Reason,
		})
	case errors.Is(err, ErrProfileNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "user profile not found")
	}
	g.logger.Error().Err(err).Msg("authentication failed")
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
