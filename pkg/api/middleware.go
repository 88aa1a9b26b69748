package api

import (
	"github.com/google/uuid"
	echo "github.com/labstack/echo/v5"
)

// Header names of the turn RPC contract.
const (
	headerWorkspaceID    = "X-Workspace-ID"
	headerConversationID = "X-Conversation-ID"
	headerChannel        = "X-Channel"
	headerRequestID      = "X-Request-ID"
)

// requestID returns middleware that stamps every response with an
// X-Request-ID so error logs can be correlated with caller reports. An
// inbound id is echoed back; otherwise one is generated.
func requestID() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			id := c.Request().Header.Get(headerRequestID)
			if id == "" {
				id = uuid.NewString()
			}
			c.Response().Header().Set(headerRequestID, id)
			return next(c)
		}
	}
}

// securityHeaders returns middleware that sets standard security response headers.
func securityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c *echo.Context) error {
			h := c.Response().Header()
			h.Set("X-Frame-Options", "DENY")
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
			h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
			return next(c)
		}
	}
}
