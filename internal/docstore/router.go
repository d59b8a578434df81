package docstore

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// SetupRouter 配置文档存储服务的 Gin 引擎。
func SetupRouter(h *Handler) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})

	r.POST("/oauth/token", h.Token)

	api := r.Group("/api/v1")
	api.Use(h.BearerRequired())
	{
		api.GET("/containers", h.ListContainers)
		api.POST("/containers", h.CreateContainer)
		api.GET("/containers/:id/documents", h.ListDocuments)
		api.POST("/containers/:id/documents", h.CreateDocument)
		api.GET("/documents/:id/content", h.ReadContent)
		api.PUT("/documents/:id/content", h.WriteContent)
	}

	return r
}
