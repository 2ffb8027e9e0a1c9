package server

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/fastingvibe/api/internal/auth"
	entitlementdomain "github.com/fastingvibe/api/internal/entitlement/domain"

	"github.com/gin-gonic/gin"
)

const contextClaimsKey = "auth_claims"

// AuthRequired resolves the entitlement owner from the HMAC-signed bearer
// token and stores the claims on the request context.
func (s *Server) AuthRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token, found := strings.CutPrefix(header, "Bearer ")
		if !found || strings.TrimSpace(token) == "" {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		claims, err := s.verifier.Verify(token)
		if err != nil {
			AbortWithError(c, ErrUnauthorized)
			return
		}

		c.Set(contextClaimsKey, claims)
		c.Next()
	}
}

// AdminRequired gates administrative endpoints behind the configured API
// key, compared in constant time.
func (s *Server) AdminRequired() gin.HandlerFunc {
	return func(c *gin.Context) {
		if s.cfg.AdminAPIKey == "" {
			AbortWithError(c, ErrForbidden)
			return
		}
		key := c.GetHeader("X-Admin-Api-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.AdminAPIKey)) != 1 {
			AbortWithError(c, ErrForbidden)
			return
		}
		c.Next()
	}
}

// rateLimited applies the Redis token bucket per owner and route. A nil
// limiter or a limiter error lets the request through; availability of the
// purchase path wins over strict limiting.
func (s *Server) rateLimited(route string) gin.HandlerFunc {
	const (
		ratePerSecond = 0.5
		burst         = 5
	)
	return func(c *gin.Context) {
		if s.limiter == nil {
			c.Next()
			return
		}

		owner := s.ownerFromContext(c)
		key := "ratelimit:" + route + ":" + owner.String()
		result, err := s.limiter.Allow(c.Request.Context(), key, ratePerSecond, burst)
		if err != nil {
			s.log.Warn("rate limiter unavailable")
			c.Next()
			return
		}
		if !result.Allowed {
			if s.metrics != nil {
				s.metrics.RecordRateLimitDenied(c.Request.Context(), route)
			}
			c.Header("Retry-After", result.RetryAfter.Round(time.Second).String())
			c.AbortWithStatusJSON(http.StatusTooManyRequests, errorResponse{Error: errorPayload{
				Type:    "rate_limited",
				Code:    "too_many_requests",
				Message: "too many requests, slow down",
			}})
			return
		}
		c.Next()
	}
}

func (s *Server) ownerFromContext(c *gin.Context) entitlementdomain.OwnerRef {
	value, ok := c.Get(contextClaimsKey)
	if !ok {
		return entitlementdomain.OwnerRef{}
	}
	claims, ok := value.(auth.Claims)
	if !ok {
		return entitlementdomain.OwnerRef{}
	}
	return claims.Owner()
}
