// README: Routing gateway: forwards /user, /captain and /ride to their upstream services.
package gateway

import (
	"fmt"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/gin-gonic/gin"

	"ridehail/internal/http/middleware"
	"ridehail/internal/logger"
)

const version = "1.0.0"

// Upstreams maps each path prefix to the base URL of the service that owns it.
type Upstreams struct {
	User    string
	Captain string
	Ride    string
}

// NewRouter returns a gin engine that proxies each prefix unchanged, so the
// upstream sees the same path the client sent.
func NewRouter(up Upstreams, log logger.Logger) (*gin.Engine, error) {
	r := gin.New()
	r.Use(middleware.Recovery(log), middleware.Logging(log))

	routes := []struct {
		prefix string
		target string
	}{
		{"/user", up.User},
		{"/captain", up.Captain},
		{"/ride", up.Ride},
	}
	services := gin.H{}
	for _, rt := range routes {
		proxy, err := newProxy(rt.prefix, rt.target, log)
		if err != nil {
			return nil, err
		}
		h := gin.WrapH(proxy)
		r.Any(rt.prefix+"/*path", h)
		services[rt.prefix[1:]] = rt.prefix
	}

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "message": "Gateway service is running"})
	})
	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message":  "Ride-Sharing API Gateway",
			"version":  version,
			"health":   "/health",
			"services": services,
		})
	})
	return r, nil
}

func newProxy(prefix, target string, log logger.Logger) (*httputil.ReverseProxy, error) {
	u, err := url.Parse(target)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway upstream for %s: invalid url %q", prefix, target)
	}
	proxy := httputil.NewSingleHostReverseProxy(u)
	proxy.ErrorHandler = func(w http.ResponseWriter, req *http.Request, err error) {
		if req.Context().Err() != nil {
			return
		}
		log.Action("proxy").Warn("upstream unavailable", "prefix", prefix, "upstream", u.Host, "error", err.Error())
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte(`{"error":"upstream unavailable"}`))
	}
	return proxy, nil
}
