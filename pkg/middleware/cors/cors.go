package cors

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// Policy holds the allowed origin set. An empty set allows every origin.
type Policy struct {
	origins map[string]struct{}
}

// NewPolicy normalises the configured origins.
func NewPolicy(allowedOrigins []string) *Policy {
	origins := make(map[string]struct{}, len(allowedOrigins))
	for _, origin := range allowedOrigins {
		origins[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return &Policy{origins: origins}
}

// Allowed reports whether the origin may call the API. The websocket upgrader shares this check.
func (p *Policy) Allowed(origin string) bool {
	if p == nil || len(p.origins) == 0 {
		return true
	}
	_, ok := p.origins[strings.TrimRight(origin, "/")]
	return ok
}

// CheckOrigin adapts the policy to websocket.Upgrader.CheckOrigin.
func (p *Policy) CheckOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	return p.Allowed(origin)
}

// New returns the CORS middleware for the policy.
func New(p *Policy) gin.HandlerFunc {
	allowAll := p == nil || len(p.origins) == 0

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		switch {
		case origin != "" && p.Allowed(origin):
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		case origin == "" && allowAll:
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}

		c.Writer.Header().Set("Vary", "Origin")
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With, X-Request-ID")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Max-Age", "600")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}
