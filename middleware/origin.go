package middleware

import (
	"net/http"
	"strings"
	"time"

	"PPNotify/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Origin rejects websocket upgrades on path whose Origin header is not in
// allowed. An empty allow list accepts every origin. It never calls Next, so
// it can run inside a MiddlewareManager.
func Origin(path string, allowed []string) gin.HandlerFunc {
	set := make(map[string]struct{}, len(allowed))
	for _, o := range allowed {
		set[strings.ToLower(strings.TrimRight(o, "/"))] = struct{}{}
	}
	return func(c *gin.Context) {
		if len(set) == 0 || c.Request.Method != http.MethodGet || c.Request.URL.Path != path {
			return
		}
		origin := strings.ToLower(strings.TrimRight(c.GetHeader("Origin"), "/"))
		if _, ok := set[origin]; origin != "" && !ok {
			c.AbortWithStatus(http.StatusForbidden)
		}
	}
}

// AccessLog writes one debug line per request.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Debug("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("cost", time.Since(start)),
			zap.String("remote", c.ClientIP()))
	}
}
