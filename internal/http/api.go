package http

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"mediahub/internal/notify"
	"mediahub/internal/service"
)

type Config struct {
	CORSOrigins    string
	MaxUploadBytes int64
	Logger         *logrus.Logger
}

// Handler wires HTTP routes to domain services.
type Handler struct {
	users    service.UserService
	sessions service.SessionManager
	files    service.FileService
	gateway  *notify.Gateway
	cfg      Config
}

func NewHandler(users service.UserService, sessions service.SessionManager, files service.FileService, gateway *notify.Gateway, cfg Config) *Handler {
	if cfg.Logger == nil {
		cfg.Logger = logrus.New()
	}
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 5 << 20
	}
	return &Handler{
		users:    users,
		sessions: sessions,
		files:    files,
		gateway:  gateway,
		cfg:      cfg,
	}
}

func (h *Handler) RegisterRoutes(router *gin.Engine) {
	router.Use(requestLogger(h.cfg.Logger), gin.Recovery(), corsMiddleware(h.cfg.CORSOrigins))

	router.GET("/health", func(ctx *gin.Context) {
		ctx.JSON(http.StatusOK, gin.H{"ok": "ok"})
	})

	users := router.Group("/users")
	{
		users.POST("/register", h.register)
		users.POST("/login", h.login)
		users.POST("/refresh", h.refresh)
		users.GET("/verify-email", h.verifyEmail)
		users.POST("/reset-password/request", h.requestPasswordReset)
		users.POST("/reset-password", h.resetPassword)

		authed := users.Group("", h.requireAuth)
		authed.DELETE("/logout", h.logout)
		authed.GET("/info", h.info)
		authed.PATCH("/update", h.update)
		authed.POST("/verify-email", h.sendVerificationEmail)
	}

	files := router.Group("/files", h.requireAuth)
	{
		files.POST("/upload", h.upload)
		files.GET("", h.listFiles)
		files.POST("/:id/retry", h.retryFile)
		files.POST("/:id/cancel", h.cancelFile)
		files.DELETE("/:id", h.deleteFile)
	}

	if h.gateway != nil {
		router.GET("/notifications/ws", h.notifications)
	}
}

func corsMiddleware(origins string) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, o := range strings.Split(origins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			allowed[o] = struct{}{}
		}
	}
	_, wildcard := allowed["*"]

	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if _, ok := allowed[origin]; ok && origin != "*" {
			// only listed origins may send the refresh cookie
			c.Writer.Header().Set("Access-Control-Allow-Origin", origin)
			c.Writer.Header().Set("Access-Control-Allow-Credentials", "true")
			c.Writer.Header().Add("Vary", "Origin")
		} else if wildcard && origin != "" {
			c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		}
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}

		c.Next()
	}
}

func requestLogger(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := logger.WithFields(logrus.Fields{
			"method":    c.Request.Method,
			"path":      c.Request.URL.Path,
			"status":    c.Writer.Status(),
			"latency":   time.Since(start).String(),
			"client_ip": c.ClientIP(),
		})
		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			entry.Error("request failed")
		case c.Writer.Status() >= http.StatusBadRequest:
			entry.Warn("request rejected")
		default:
			entry.Info("request handled")
		}
	}
}

func (h *Handler) notifications(c *gin.Context) {
	token := c.Query("token")
	if token == "" {
		token = bearerToken(c)
	}
	user, _, err := h.sessions.ResolveAccess(c.Request.Context(), token)
	if err != nil {
		h.writeError(c, err)
		return
	}
	h.gateway.Serve(c.Writer, c.Request, user.ID)
}
