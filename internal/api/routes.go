package api

import (
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func SetupRoutes(router *gin.Engine, handler *Handler) {
	router.GET("/health", handler.HealthCheck)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	v1 := router.Group("/api/v1")
	{
		v1.POST("/studies", handler.SubmitStudy)
		v1.GET("/studies/:study_id", handler.GetStudy)
		v1.POST("/studies/:study_id/fail", handler.FailStudy)

		v1.GET("/submitters/:submitter_id/studies", handler.ListStudies)
	}
}
