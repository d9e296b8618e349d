package api

import (
	"context"
	"math"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/legalkit/lexor/pkg/auth"
	"github.com/legalkit/lexor/pkg/models"
	"github.com/legalkit/lexor/pkg/ratelimit"
)

// Context keys set by the gate for the handlers behind it.
const (
	ctxCredential = "lexor/credential"
	ctxBypassed   = "lexor/ratelimit-bypassed"
)

// securityHeaders returns middleware that sets standard security response
// headers.
func securityHeaders() gin.HandlerFunc {
	return func(c *gin.Context) {
		h := c.Writer.Header()
		h.Set("X-Frame-Options", "DENY")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("Referrer-Policy", "strict-origin-when-cross-origin")
		h.Set("Permissions-Policy", "camera=(), microphone=(), geolocation=()")
		c.Next()
	}
}

// gate is the credential + quota middleware guarding every /api/v1 route.
// Order per request: verify the presented secret, enforce the minimum role,
// apply the sliding window, then let the handler run. Every gated exchange
// lands in the usage log, refusals included; authentication failures carry
// no credential id and are not logged.
func (s *Server) gate(minRole models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		presented := c.GetHeader(s.cfg.Server.CredentialHeader)
		cred, err := s.deps.Auth.Verify(c.Request.Context(), presented)
		if err != nil {
			s.refuse(c, err)
			return
		}

		if err := auth.RequireRole(cred, minRole); err != nil {
			s.refuse(c, err)
			s.recordUsage(c, cred.ID, start)
			return
		}

		quota := s.deps.Limiter.Check(c.Request.Context(), cred.ID, cred.Tier)
		setRateLimitHeaders(c, quota)
		if !quota.Allowed {
			c.Header("Retry-After", strconv.Itoa(retryAfterSeconds(quota.RetryAfter)))
			c.AbortWithStatusJSON(quotaExceededStatus, ErrorResponse{
				Error:  errQuotaExceeded,
				Detail: "tier quota exhausted for the current window",
			})
			s.recordUsage(c, cred.ID, start)
			return
		}

		c.Set(ctxCredential, cred)
		if quota.Bypassed {
			c.Set(ctxBypassed, true)
		}

		c.Next()
		s.recordUsage(c, cred.ID, start)
	}
}

// setRateLimitHeaders mirrors the window state onto the response. Uncapped
// and bypassed checks carry no meaningful numbers, so no headers apply.
func setRateLimitHeaders(c *gin.Context, r ratelimit.Result) {
	if r.Uncapped || r.Bypassed {
		return
	}
	h := c.Writer.Header()
	h.Set("X-RateLimit-Limit", strconv.Itoa(r.Limit))
	h.Set("X-RateLimit-Remaining", strconv.Itoa(r.Remaining))
	h.Set("X-RateLimit-Reset", strconv.FormatInt(r.Reset.Unix(), 10))
	h.Set("X-RateLimit-Used", strconv.Itoa(r.Used))
}

// retryAfterSeconds rounds up so a client honoring the header never retries
// inside the window.
func retryAfterSeconds(d time.Duration) int {
	secs := int(math.Ceil(d.Seconds()))
	if secs < 1 {
		return 1
	}
	return secs
}

// recordUsage appends the gate audit row fire-and-forget. The row write
// detaches from the request context inside the store.
func (s *Server) recordUsage(c *gin.Context, credentialID string, start time.Time) {
	if s.deps.Usage == nil {
		return
	}
	rec := &models.UsageRecord{
		CredentialID: credentialID,
		Endpoint:     c.FullPath(),
		Method:       c.Request.Method,
		StatusCode:   c.Writer.Status(),
		DurationMS:   time.Since(start).Milliseconds(),
		ClientAddr:   c.ClientIP(),
	}
	go func() {
		if err := s.deps.Usage.Record(context.Background(), rec); err != nil {
			s.logger.Warn("Usage row not recorded",
				"credential_id", credentialID, "error", err)
		}
	}()
}

// credentialFrom returns the verified credential the gate attached, or nil on
// an ungated route.
func credentialFrom(c *gin.Context) *models.Credential {
	if v, ok := c.Get(ctxCredential); ok {
		if cred, ok := v.(*models.Credential); ok {
			return cred
		}
	}
	return nil
}

// rateLimitBypassed reports whether the gate admitted this request on a
// broken counter store.
func rateLimitBypassed(c *gin.Context) bool {
	return c.GetBool(ctxBypassed)
}
