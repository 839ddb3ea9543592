package middleware

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"callrelay-backend/pkg/logger"
	"callrelay-backend/pkg/response"
)

const healthProbeTimeout = 2 * time.Second

// Recovery turns a handler panic into a 500 response
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Error("Panic recovered",
					zap.Any("panic", err),
					zap.String("path", c.Request.URL.Path),
					zap.String("request_id", c.GetString("request_id")),
					zap.Stack("stack"))

				response.InternalError(c, "Internal server error")
				c.Abort()
			}
		}()
		c.Next()
	}
}

// HealthProbe checks one backing component
type HealthProbe func(ctx context.Context) error

// HealthCheck answers /health before the rest of the chain runs. The relay
// keeps serving when an optional backend is down, so a failing probe
// reports "degraded" with 200 rather than failing the check.
func HealthCheck(serviceName string, probes map[string]HealthProbe) gin.HandlerFunc {
	names := make([]string, 0, len(probes))
	for name := range probes {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(c *gin.Context) {
		if c.Request.URL.Path != "/health" {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), healthProbeTimeout)
		defer cancel()

		status := "healthy"
		components := make(map[string]string, len(names))
		for _, name := range names {
			if err := probes[name](ctx); err != nil {
				status = "degraded"
				components[name] = err.Error()
				continue
			}
			components[name] = "ok"
		}

		c.JSON(http.StatusOK, gin.H{
			"status":     status,
			"service":    serviceName,
			"components": components,
		})
		c.Abort()
	}
}
