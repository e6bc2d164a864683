// Package ginmw provides Gin HTTP middleware for the identity gate.
//
// Gate answers protected routes from the session store's current snapshot:
// a waiting response while the startup probe is pending, a redirect to the
// entry path for visitors without a full session, and the handler otherwise.
package ginmw

import (
	"net/http"
	"slices"

	"github.com/gin-gonic/gin"

	auth "github.com/shreegurucool/auth-go"
	"github.com/shreegurucool/auth-go/gate"
)

// KeyIdentity is the gin.Context key holding the *auth.Identity.
const KeyIdentity = "guru_identity"

// GateOption configures Gate middleware behavior.
type GateOption func(*gateConfig)

type gateConfig struct {
	waiting gin.HandlerFunc
}

// WithWaitingHandler replaces the response sent while the session is loading.
// The handler must write a response.
func WithWaitingHandler(h gin.HandlerFunc) GateOption {
	return func(cfg *gateConfig) { cfg.waiting = h }
}

// Gate returns Gin middleware that enforces g on every request.
// While loading it answers 503 with Retry-After; without a full session it
// redirects (303) to the entry path with caching disabled so history cannot
// bring the protected page back.
func Gate(g *gate.Gate, opts ...GateOption) gin.HandlerFunc {
	cfg := &gateConfig{waiting: defaultWaiting}
	for _, o := range opts {
		o(cfg)
	}

	return func(c *gin.Context) {
		d := g.Check()
		switch d.Action {
		case gate.Wait:
			cfg.waiting(c)
			c.Abort()
		case gate.Redirect:
			c.Header("Cache-Control", "no-store")
			c.Redirect(http.StatusSeeOther, d.To)
			c.Abort()
		default:
			c.Set(KeyIdentity, d.Identity)
			c.Request = c.Request.WithContext(auth.WithIdentity(c.Request.Context(), d.Identity))
			c.Next()
		}
	}
}

// RequireRole returns Gin middleware that admits only the given roles.
// Requires Gate middleware to run first. Responds with 403 otherwise.
func RequireRole(roles ...auth.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := GetIdentity(c)
		if id == nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "not authenticated"})
			return
		}
		if !slices.Contains(roles, id.Role) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "role not permitted"})
			return
		}
		c.Next()
	}
}

// GetIdentity returns the identity admitted by Gate, or nil.
func GetIdentity(c *gin.Context) *auth.Identity {
	v, _ := c.Get(KeyIdentity)
	id, _ := v.(*auth.Identity)
	return id
}

func defaultWaiting(c *gin.Context) {
	c.Header("Retry-After", "1")
	c.Header("Cache-Control", "no-store")
	c.JSON(http.StatusServiceUnavailable, gin.H{"status": "loading"})
}
