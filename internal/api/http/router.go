package http

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

func SetupRouter(signaling *SignalingController, directory *DirectoryController, allowOrigins []string) *gin.Engine {
	router := gin.Default()
	config := cors.DefaultConfig()
	if len(allowOrigins) == 0 {
		config.AllowAllOrigins = true
	} else {
		config.AllowOrigins = allowOrigins
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
	router.GET("/healthz", func(ctx *gin.Context) {
		ctx.JSON(200, gin.H{"status": "ok"})
	})

	api := router.Group("/api")

	if signaling != nil {
		peers := api.Group("/peers")
		peers.GET("/id", signaling.NewPeerID)
		peers.GET("/ws", signaling.Connect)
	}

	if directory != nil {
		api.GET("/games", directory.Games)

		rooms := api.Group("/rooms")
		rooms.GET("", directory.List)
		rooms.POST("", directory.Publish)
		rooms.GET("/:roomID", directory.GetRoom)
		rooms.DELETE("/:roomID", directory.Withdraw)
		rooms.GET("/code/:code", directory.GetRoomByCode)
		rooms.GET("/code/:code/qr", directory.RoomQR)
	}

	return router
}
