package dashboard

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/zulandar/edenbot/internal/creation"
)

func registerRoutes(router *gin.Engine, reg *creation.Registry, platform string) {
	router.GET("/", handleIndex(reg, platform))
	router.GET("/healthz", handleHealth(reg))
	router.GET("/api/creations", handleCreations(reg))
	router.GET("/api/events", handleSSE(reg))
}

func handleIndex(reg *creation.Registry, platform string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.HTML(http.StatusOK, "index.html", gin.H{
			"Platform": platform,
			"Loops":    reg.Snapshot(),
		})
	}
}

func handleHealth(reg *creation.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "loops": reg.Len()})
	}
}

func handleCreations(reg *creation.Registry) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"creations": reg.Snapshot()})
	}
}
