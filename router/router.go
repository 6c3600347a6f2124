// Package router serves the admin HTTP API of the bot.
package router

import (
	"emperror.dev/errors"
	"github.com/apex/log"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/priyxstudio/kiwi/bot"
	"github.com/priyxstudio/kiwi/config"
	"github.com/priyxstudio/kiwi/router/middleware"
)

// Configure configures the routing infrastructure for this bot instance.
func Configure(b *bot.Bot, gatherer prometheus.Gatherer) *gin.Engine {
	gin.SetMode("release")

	router := gin.New()
	router.Use(gin.Recovery())
	if err := router.SetTrustedProxies(config.Get().Api.TrustedProxies); err != nil {
		panic(errors.WithStack(err))
	}
	router.Use(middleware.AttachRequestID(), middleware.CaptureErrors(), middleware.AttachBot(b))
	router.Use(gin.LoggerWithFormatter(func(params gin.LogFormatterParams) string {
		log.WithFields(log.Fields{
			"client_ip":  params.ClientIP,
			"status":     params.StatusCode,
			"latency":    params.Latency,
			"request_id": params.Keys["request_id"],
		}).Debugf("%s %s", params.Method, params.Path)

		return ""
	}))

	router.GET("/health", getHealth)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))

	// All the routes beyond this mount will use an authorization middleware
	// and will not be accessible without the correct Authorization header provided.
	protected := router.Group("/api")
	protected.Use(middleware.RequireAuthorization())
	protected.GET("/system", getSystemInformation)
	protected.GET("/system/utilization", getSystemUtilization)
	protected.GET("/modules", getModules)

	guild := protected.Group("/guilds/:guild")
	{
		guild.GET("/modules", getGuildModules)
		guild.POST("/modules/:module/enable", postModuleEnable)
		guild.POST("/modules/:module/disable", postModuleDisable)
		guild.GET("/jobs", getGuildJobs)
		guild.POST("/jobs/:module/:job/run", postJobRun)
	}

	return router
}
