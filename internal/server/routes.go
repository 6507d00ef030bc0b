package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/pitchbox/pitchbox/internal/server/middlewares"
	"github.com/pitchbox/pitchbox/internal/server/v1/upload"
	"github.com/pitchbox/pitchbox/internal/server/v1/video"
	"github.com/pitchbox/pitchbox/internal/version"
)

func SetupRoutes(config *Config, svc *Services) http.Handler {
	r := gin.New()
	r.MaxMultipartMemory = 8 << 20 // 8 MiB

	uploadH := upload.New(svc.Sessions)
	videoH := video.New(config.DataDir)

	r.Use(middlewares.Logger())
	r.Use(gin.Recovery())
	r.Use(middlewares.GZIP())
	r.Use(middlewares.CORS())
	if config.HTTP.CertFile != "" && config.HTTP.KeyFile != "" {
		r.Use(middlewares.HSTS())
	}

	r.GET("/", IndexHandler)
	r.GET("/healthz", HealthHandler)

	v1 := r.Group("/api/v1")
	v1.Use(middlewares.RateLimiter(config.RateLimit))
	{
		// upload sessions
		v1.PUT("/upload", uploadH.Single)
		v1.POST("/upload/init", uploadH.Init)
		v1.GET("/upload/status", uploadH.Status)
		v1.POST("/upload/part", uploadH.Part)
		v1.POST("/upload/complete", uploadH.Complete)

		// video pipeline
		v1.POST("/video/transcode", videoH.Transcode)
		v1.POST("/video/analyze", videoH.Analyze)
	}

	return r
}

func IndexHandler(ctx *gin.Context) {
	ctx.String(http.StatusOK, "pitchbox %s", version.Version)
}

func HealthHandler(ctx *gin.Context) {
	ctx.PureJSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Version,
	})
}
