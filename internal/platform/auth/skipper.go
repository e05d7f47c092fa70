package auth

import (
	"github.com/labstack/echo/v4"
)

// PublicRoutes are registered route patterns served without a caller
// identity. Matching is on the route pattern, so /health/extra is not public
// even though it shares a prefix.
var PublicRoutes = []string{"/health", "/health/db"}

// AuthSkipper reports whether the matched route is public.
func AuthSkipper(c echo.Context) bool {
	route := c.Path()
	for _, p := range PublicRoutes {
		if route == p {
			return true
		}
	}
	return false
}
