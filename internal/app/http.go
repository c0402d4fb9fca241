package app

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-contrib/gzip"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"taskmanager/api/internal/auth"
	"taskmanager/api/internal/metrics"
)

const (
	sessionCookie = "session"
	ctxSession    = "session"
)

type HTTPConfig struct {
	CORSOrigins    []string
	SecureCookies  bool
	MaxUploadBytes int64
}

type HTTPServer struct {
	service *Service
	cfg     HTTPConfig
	log     *zap.Logger
}

func NewHTTPServer(service *Service, cfg HTTPConfig, logger *zap.Logger) *HTTPServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HTTPServer{service: service, cfg: cfg, log: logger}
}

// Handler builds the gin engine. extra runs after the routes are
// registered so callers can mount endpoints such as /metrics.
func (s *HTTPServer) Handler(extra ...func(*gin.Engine)) http.Handler {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(requestID())
	router.Use(accessLog(s.log))
	router.Use(cors(s.cfg.CORSOrigins))
	router.Use(recordDuration())
	router.Use(gzip.Gzip(gzip.DefaultCompression, gzip.WithExcludedPathsRegexs([]string{
		`^/api/files/[^/]+/download$`,
		`^/api/users/[^/]+/avatar$`,
	})))
	s.routes(router)
	for _, fn := range extra {
		fn(router)
	}
	return router
}

func (s *HTTPServer) routes(router *gin.Engine) {
	api := router.Group("/api")
	api.GET("/health", s.handleHealth)
	api.HEAD("/health", s.handleHealth)
	api.GET("/ready", s.handleReady)
	api.POST("/auth/login", s.handleLogin)

	authed := api.Group("")
	authed.Use(s.authenticate())

	authed.POST("/auth/logout", s.handleLogout)
	authed.GET("/auth/me", s.handleMe)
	authed.PUT("/auth/profile", s.handleProfile)
	authed.POST("/auth/change-password", s.handleChangePassword)
	authed.GET("/auth/roles", s.handleRoles)

	admin := authed.Group("")
	admin.Use(requireRole(RequireAdministrator))
	admin.POST("/auth/register", s.handleRegister)
	admin.GET("/auth/users", s.handleListUsers)
	admin.PUT("/auth/users/:id", s.handleUpdateUser)
	admin.DELETE("/auth/users/:id", s.handleDeleteUser)
	admin.POST("/auth/users/:id/reset-password", s.handleResetPassword)
	admin.GET("/stats", s.handleStats)
	admin.GET("/admin/entities", s.handleAdminEntities)
	admin.GET("/admin/entities/:entity", s.handleAdminQuery)

	authed.GET("/users/online", s.handleOnlineUsers)
	authed.GET("/users/:id/avatar", s.handleAvatar)

	authed.GET("/tasks", s.handleListTasks)
	authed.POST("/tasks", requireRole(RequireManagerOrAdminOrDirector), s.handleCreateTask)
	authed.GET("/tasks/:id", s.handleGetTask)
	authed.PUT("/tasks/:id", s.handleUpdateTask)
	authed.DELETE("/tasks/:id", s.handleDeleteTask)
	authed.POST("/tasks/:id/archive", s.handleArchiveTask)
	authed.GET("/tasks/:id/files", s.handleListFiles)
	authed.POST("/tasks/:id/files", s.handleUploadFile)
	authed.GET("/files/:id/download", s.handleDownloadFile)
	authed.DELETE("/files/:id", s.handleDeleteFile)

	authed.GET("/projects", s.handleListProjects)
	authed.POST("/projects", s.handleCreateProject)
	authed.GET("/projects/:id", s.handleGetProject)
	authed.PUT("/projects/:id", s.handleUpdateProject)
	authed.DELETE("/projects/:id", s.handleDeleteProject)

	authed.GET("/search", s.handleSearch)

	authed.GET("/chats", s.handleListChats)
	authed.POST("/chats", s.handleCreateChat)
	authed.GET("/chats/:id/messages", s.handleListMessages)
	authed.POST("/chats/:id/messages", s.handlePostMessage)
	authed.PUT("/chats/:id/read", s.handleMarkRead)
	authed.PUT("/chats/:id/messages/:messageId/read", s.handleMarkMessageRead)

	router.NoRoute(func(c *gin.Context) {
		writeError(c, http.StatusNotFound, "NOT_FOUND", "Not found", nil)
	})
}

func (s *HTTPServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy", "timestamp": time.Now().UTC().Format(time.RFC3339)})
}

func (s *HTTPServer) handleReady(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := gin.H{"database": gin.H{"status": "ok"}}
	if err := s.service.Ping(ctx); err != nil {
		s.log.Warn("readiness check failed", zap.Error(err))
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = gin.H{"status": "error"}
	}
	c.JSON(statusCode, gin.H{"ok": status == "ready", "status": status, "checks": checks})
}

// authenticate resolves the session cookie or bearer token and rejects the
// request when neither yields a live session.
func (s *HTTPServer) authenticate() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := requestToken(c)
		if token == "" {
			s.fail(c, unauthorized())
			return
		}
		sess, err := s.service.SessionFromToken(c.Request.Context(), token)
		if err != nil {
			s.fail(c, err)
			return
		}
		c.Set(ctxSession, sess)
		c.Set("user_id", sess.UserID)
		c.Next()
	}
}

// requireRole turns a policy check into a route guard.
func requireRole(check func(Session) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := check(sessionFrom(c)); err != nil {
			status, code, message, details := mapError(err)
			writeError(c, status, code, message, details)
			return
		}
		c.Next()
	}
}

func sessionFrom(c *gin.Context) Session {
	if value, ok := c.Get(ctxSession); ok {
		if sess, ok := value.(Session); ok {
			return sess
		}
	}
	return Session{}
}

func requestToken(c *gin.Context) string {
	if token := bearerToken(c.Request); token != "" {
		return token
	}
	if cookie, err := c.Cookie(sessionCookie); err == nil {
		return strings.TrimSpace(cookie)
	}
	return ""
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func (s *HTTPServer) setSessionCookie(c *gin.Context, sess Session) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessionCookie,
		Value:    sess.Token,
		Path:     "/",
		Expires:  sess.ExpiresAt,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *HTTPServer) clearSessionCookie(c *gin.Context) {
	http.SetCookie(c.Writer, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.cfg.SecureCookies,
		SameSite: http.SameSiteLaxMode,
	})
}

func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

func accessLog(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		fields := []zap.Field{
			zap.Int("status", status),
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.String("ip", c.ClientIP()),
			zap.Duration("latency", time.Since(start)),
			zap.String("request_id", c.GetString("request_id")),
		}
		if userID := c.GetString("user_id"); userID != "" {
			fields = append(fields, zap.String("user_id", userID))
		}
		switch {
		case status >= 500:
			logger.Error("request failed", fields...)
		case status >= 400:
			logger.Warn("request rejected", fields...)
		default:
			logger.Info("request", fields...)
		}
	}
}

// cors echoes the Origin header only for allow-listed origins.
func cors(origins []string) gin.HandlerFunc {
	allowed := make(map[string]struct{}, len(origins))
	for _, origin := range origins {
		allowed[strings.TrimRight(origin, "/")] = struct{}{}
	}
	return func(c *gin.Context) {
		origin := c.GetHeader("Origin")
		if _, ok := allowed[origin]; ok && origin != "" {
			header := c.Writer.Header()
			header.Set("Access-Control-Allow-Origin", origin)
			header.Set("Access-Control-Allow-Credentials", "true")
			header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
			header.Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
			header.Add("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func recordDuration() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}
		metrics.RecordHTTPRequestDuration(c.Request.Method, path, strconv.Itoa(c.Writer.Status()), time.Since(start))
	}
}

func writeError(c *gin.Context, status int, code, message string, details any) {
	response := gin.H{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	c.AbortWithStatusJSON(status, response)
}

// fail maps err to a response. Unexpected errors are logged and reported
// without their text.
func (s *HTTPServer) fail(c *gin.Context, err error) {
	status, code, message, details := mapError(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request error",
			zap.String("request_id", c.GetString("request_id")),
			zap.String("path", c.Request.URL.Path),
			zap.Error(err))
	}
	writeError(c, status, code, message, details)
}

func mapError(err error) (status int, code, message string, details any) {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Status, domainErr.Code, domainErr.Message, domainErr.Details
	}
	if errors.Is(err, sql.ErrNoRows) {
		return http.StatusNotFound, "NOT_FOUND", "Not found", nil
	}
	if errors.Is(err, auth.ErrInvalidToken) || errors.Is(err, auth.ErrExpiredToken) {
		return http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil
	}
	var tooLarge *http.MaxBytesError
	if errors.As(err, &tooLarge) {
		return http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "Request body too large", nil
	}
	return http.StatusInternalServerError, "SERVER_ERROR", "Server error", nil
}

// decodeBody binds a JSON body. An empty body leaves target untouched.
func decodeBody(c *gin.Context, target any) bool {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return true
	}
	if err := c.ShouldBindJSON(target); err != nil {
		writeError(c, http.StatusBadRequest, "INVALID_BODY", "invalid JSON body", nil)
		return false
	}
	return true
}

// limitBody caps multipart bodies at the upload limit plus form overhead.
func (s *HTTPServer) limitBody(c *gin.Context) {
	if s.cfg.MaxUploadBytes > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, s.cfg.MaxUploadBytes+1<<20)
	}
}

func queryInt(c *gin.Context, key string) (int, error) {
	raw := strings.TrimSpace(c.Query(key))
	if raw == "" {
		return 0, nil
	}
	value, err := strconv.Atoi(raw)
	if err != nil {
		return 0, validationError("Invalid "+key, key)
	}
	return value, nil
}
