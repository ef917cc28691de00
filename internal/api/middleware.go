package api

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/logger"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/metrics"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/model"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/internal/report"
	"github.com/Samreen-Mahagami/Brain-Stroke-Detection-AI/pkg/errors"

	"github.com/gin-gonic/gin"
)

func CORSMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, accept, origin, Cache-Control, X-Requested-With")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "POST, OPTIONS, GET")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// LoggingMiddleware writes one structured line per request.
func LoggingMiddleware() gin.HandlerFunc {
	log := logger.For("http")
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		event := log.Info()
		if status >= http.StatusInternalServerError {
			event = log.Error()
		}
		event.
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", status).
			Dur("latency", time.Since(start)).
			Str("client_ip", c.ClientIP()).
			Msg("Request handled")
	}
}

// RecoveryMiddleware turns a handler panic into a 500 and reports it.
func RecoveryMiddleware() gin.HandlerFunc {
	log := logger.For("http")
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				report.ReportPanic(r)
				log.Error().Str("panic", fmt.Sprint(r)).Str("path", c.Request.URL.Path).Msg("Recovered from panic")
				c.AbortWithStatusJSON(http.StatusInternalServerError, model.ErrorResponse{
					Error: "Internal server error",
					Code:  errors.CodeInternal,
				})
			}
		}()
		c.Next()
	}
}

// MetricsMiddleware tracks the request count and timing per route template.
func MetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.Now()
		c.Next()

		tmpl := c.FullPath()
		if tmpl == "" {
			return
		}
		metrics.HTTPRequests.WithLabelValues(c.Request.Method, tmpl, strconv.Itoa(c.Writer.Status())).Inc()
		metrics.HTTPRequestSeconds.WithLabelValues(c.Request.Method, tmpl).Add(time.Since(t).Seconds())
	}
}

// NewRouter builds the engine with the middleware chain and routes.
func NewRouter(handler *Handler, env string) *gin.Engine {
	if env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(RecoveryMiddleware())
	router.Use(CORSMiddleware())
	router.Use(LoggingMiddleware())
	router.Use(MetricsMiddleware())

	SetupRoutes(router, handler)
	return router
}
