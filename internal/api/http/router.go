package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupSignalingRouter(signaling *SignalingController, allowedOrigins []string) *gin.Engine {
	router := newRouter(allowedOrigins)

	router.GET("/", signaling.Index)
	router.GET("/health", signaling.Health)
	router.GET("/ws", signaling.ServeWS)

	api := router.Group("/api")
	api.GET("/devices", signaling.ListDevices)
	api.GET("/ice-servers", signaling.ICEServers)
	api.GET("/stats", signaling.Stats)

	return router
}

func SetupRegistryRouter(registry *RegistryController, allowedOrigins []string) *gin.Engine {
	router := newRouter(allowedOrigins)

	router.GET("/health", registry.Health)

	api := router.Group("/api")
	api.POST("/register", registry.Register)
	api.POST("/heartbeat/:device_id", registry.Heartbeat)
	api.GET("/stats", registry.Stats)

	devices := api.Group("/devices")
	devices.GET("", registry.ListDevices)
	devices.GET("/laika", registry.ListLaikaDevices)
	devices.GET("/:device_id", registry.GetDevice)
	devices.DELETE("/:device_id", registry.Unregister)

	return router
}

func newRouter(allowedOrigins []string) *gin.Engine {
	router := gin.Default()

	config := cors.DefaultConfig()
	if len(allowedOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowedOrigins
		config.AllowCredentials = true
	}
	config.AllowHeaders = []string{
		"Authorization",
		"Content-Type",
		"Origin",
		"Accept",
	}
	config.AllowMethods = []string{"GET", "POST", "DELETE", "HEAD", "OPTIONS"}
	router.Use(cors.New(config))

	return router
}
