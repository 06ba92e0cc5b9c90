package middleware

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"
)

type RouteOpt struct {
	LocalOnly bool // only loopback callers may reach the route
}

func GET(r gin.IRoutes, path string, handler gin.HandlerFunc, opt RouteOpt) {
	if opt.LocalOnly {
		r.GET(path, localOnly(), handler)
	} else {
		r.GET(path, handler)
	}
}

func localOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		host, _, err := net.SplitHostPort(c.Request.RemoteAddr)
		if err != nil {
			host = c.Request.RemoteAddr
		}
		ip := net.ParseIP(host)
		if ip == nil || !ip.IsLoopback() {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		c.Next()
	}
}
