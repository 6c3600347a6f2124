package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/priyxstudio/kiwi/config"
	"github.com/priyxstudio/kiwi/router/middleware"
	"github.com/priyxstudio/kiwi/system"
)

// getHealth is used by load balancers and container health checks.
func getHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "version": system.Version})
}

// getSystemInformation returns information about the host the bot is running on.
func getSystemInformation(c *gin.Context) {
	i, err := system.GetSystemInformation()
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, i)
}

func getSystemUtilization(c *gin.Context) {
	u, err := system.GetSystemUtilization(config.Get().Database.Path)
	if err != nil {
		middleware.CaptureAndAbort(c, err)
		return
	}
	c.JSON(http.StatusOK, u)
}
