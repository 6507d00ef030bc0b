package middlewares

import (
	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
)

var (
	excludedPaths = []string{
		"/healthz",
	}
	// Video payloads are already compressed, gzipping them burns CPU for
	// nothing.
	excludedExtensions = []string{
		".mp4", ".webm", ".mov", ".avi", ".mkv",
		".zip", ".tar", ".gz",
	}
)

func GZIP() gin.HandlerFunc {
	return gzip.Gzip(
		gzip.BestSpeed,
		gzip.WithExcludedPaths(excludedPaths),
		gzip.WithExcludedExtensions(excludedExtensions),
	)
}
