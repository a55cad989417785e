package api

import (
	"net/http"
	"strconv"
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailmirror/internal/metrics"
)

// RouterDependencies holds everything the router wires together
type RouterDependencies struct {
	Sync        SyncService
	Views       ViewService
	Accounts    AccountStore
	Tokens      *TokenManager
	Metrics     *metrics.Metrics
	CORSOrigins []string
	Logger      *logrus.Logger
}

// NewRouter creates the gin engine serving the mailbox API
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestLogger(deps.Logger, deps.Metrics))

	corsConfig := gincors.Config{
		AllowOrigins:     deps.CORSOrigins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// credentials cannot be combined with a wildcard origin
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowOrigins = nil
			corsConfig.AllowAllOrigins = true
			corsConfig.AllowCredentials = false
			break
		}
	}
	if len(corsConfig.AllowOrigins) > 0 || corsConfig.AllowAllOrigins {
		router.Use(gincors.New(corsConfig))
	}

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	h := &Handler{
		sync:     deps.Sync,
		views:    deps.Views,
		accounts: deps.Accounts,
		logger:   deps.Logger,
	}

	api := router.Group("/api/email")
	api.Use(RequireAuth(deps.Tokens, deps.Logger))
	{
		api.POST("/sync", h.StartSync)
		api.GET("/sync/status", h.SyncStatus)
		api.POST("/sync/force", RequireAdmin(), h.ForceSync)
		api.GET("/inbox", h.ListInbox)
		api.GET("/sent", h.ListSent)
		api.GET("/messages/:id", h.GetMessage)
	}

	return router
}

// requestLogger logs each request and records it in metrics
func requestLogger(logger *logrus.Logger, m *metrics.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		endpoint := c.FullPath()
		if endpoint == "" {
			endpoint = "unmatched"
		}
		status := c.Writer.Status()
		elapsed := time.Since(start)
		m.RecordHTTPRequest(c.Request.Method, endpoint, strconv.Itoa(status), elapsed)

		logger.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     endpoint,
			"status":   status,
			"duration": elapsed.String(),
			"ip":       c.ClientIP(),
		}).Debug("HTTP request")
	}
}
