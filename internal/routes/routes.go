package routes

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"tokentrust/internal/handlers"
	"tokentrust/internal/middleware"
)

// Options configures the router.
type Options struct {
	AllowedOrigins []string
	// RateLimiter is applied to every API route when set.
	RateLimiter *middleware.RateLimiter
}

// SetupRouter returns the gin engine with every route configured.
func SetupRouter(h *handlers.Handler, opts Options) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())
	r.Use(cors(opts.AllowedOrigins))

	r.GET("/health", h.Health)

	api := r.Group("")
	if opts.RateLimiter != nil {
		api.Use(opts.RateLimiter.Middleware())
	}
	SetupRecommenderRoutes(api, h)
	SetupTokenRoutes(api, h)
	SetupAirdropRoutes(api, h)
	SetupSystemRoutes(api, h)

	return r
}

func cors(allowedOrigins []string) gin.HandlerFunc {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = true
		}
	}
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if allowed[origin] {
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
		}
		c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, Origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE, PATCH")
		c.Writer.Header().Set("Access-Control-Expose-Headers", "Content-Length, Retry-After")
		c.Writer.Header().Set("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
