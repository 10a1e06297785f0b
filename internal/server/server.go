// Package server assembles the HTTP surface: shared middleware, the
// super-admin security chain and the administrative endpoints behind it.
package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/clubify/adminguard/internal/audit"
	"github.com/clubify/adminguard/internal/middleware"
	"github.com/clubify/adminguard/internal/session"
)

// Deps carries the assembled pipeline components.
type Deps struct {
	Logger     *zap.Logger
	Sessions   *session.Manager
	Audit      *audit.Logger
	Headers    gin.HandlerFunc
	Whitelist  *middleware.IPWhitelist
	CSRF       *middleware.CSRF
	SuperAdmin *middleware.SuperAdmin
}

// Server wraps the gin engine and its HTTP listener.
type Server struct {
	router *gin.Engine
	deps   Deps
	http   *http.Server
}

// New builds the router. The security headers middleware runs globally; the
// whitelist, CSRF and super-admin chain guards /api/super-admin.
func New(deps Deps) *Server {
	router := gin.New()
	router.Use(ginzap.Ginzap(deps.Logger, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(deps.Logger, true))
	router.Use(otelgin.Middleware("adminguard"))
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-CSRF-Token", "X-Session-ID"},
		ExposeHeaders:    []string{"Content-Length", "Retry-After"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))
	router.Use(deps.Headers)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.POST("/api/csrf-token", deps.CSRF.GenerateToken)

	s := &Server{router: router, deps: deps}
	s.mountSuperAdmin()
	return s
}

func (s *Server) mountSuperAdmin() {
	group := s.router.Group("/api/super-admin")
	group.Use(s.deps.Whitelist.Handler("super_admin"))
	group.Use(s.deps.CSRF.Handler())

	group.GET("/tenants", s.deps.SuperAdmin.Handler("tenant.read"), s.listTenants)
	group.POST("/tenants/switch", s.deps.SuperAdmin.Handler("tenant.switch"), s.switchTenant)
	group.DELETE("/tenants/switch", s.deps.SuperAdmin.Handler("tenant.switch"), s.clearTenant)
	group.GET("/context", s.deps.SuperAdmin.Handler(""), s.currentContext)
	group.POST("/session/extend", s.deps.SuperAdmin.Handler(""), s.extendSession)
}

// listTenants is a representative downstream handler; tenant data itself
// lives in the platform, not in this module.
func (s *Server) listTenants(c *gin.Context) {
	securityContext, _ := c.Get(middleware.CtxSecurityContext)
	c.JSON(200, gin.H{
		"success":          true,
		"tenants":          []gin.H{},
		"security_context": securityContext,
	})
}

func (s *Server) switchTenant(c *gin.Context) {
	var body struct {
		TenantID string `json:"tenant_id" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(400, gin.H{"success": false, "message": "tenant_id is required", "error": "invalid_request"})
		return
	}
	sessionID := middleware.SessionID(c.Request)
	if !s.deps.Sessions.SetCurrentTenant(c.Request.Context(), sessionID, body.TenantID, 0) {
		s.deps.Audit.LogAuthorizationEvent(c.Request.Context(), audit.Entry{
			Event:     "tenant_switch_refused",
			ClientIP:  middleware.ResolveClientIP(c.Request),
			SessionID: sessionID,
			TenantID:  body.TenantID,
		})
		c.JSON(403, gin.H{"success": false, "message": "Tenant switch refused", "error": "tenant_switch_refused"})
		return
	}
	s.deps.Audit.LogDataModification(c.Request.Context(), audit.Entry{
		Event:     "tenant_switched",
		ClientIP:  middleware.ResolveClientIP(c.Request),
		SessionID: sessionID,
		TenantID:  body.TenantID,
	})
	c.JSON(200, gin.H{"success": true, "tenant_id": body.TenantID})
}

func (s *Server) clearTenant(c *gin.Context) {
	sessionID := middleware.SessionID(c.Request)
	s.deps.Sessions.ClearTenantContext(c.Request.Context(), sessionID)
	s.deps.Audit.LogDataModification(c.Request.Context(), audit.Entry{
		Event:     "context_cleared",
		ClientIP:  middleware.ResolveClientIP(c.Request),
		SessionID: sessionID,
	})
	c.JSON(200, gin.H{"success": true})
}

func (s *Server) currentContext(c *gin.Context) {
	sessionID := middleware.SessionID(c.Request)
	c.JSON(200, gin.H{
		"success": true,
		"context": s.deps.Sessions.CurrentContext(c.Request.Context(), sessionID),
	})
}

func (s *Server) extendSession(c *gin.Context) {
	var body struct {
		AdditionalSeconds int `json:"additional_seconds" binding:"required,min=1"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(400, gin.H{"success": false, "message": "additional_seconds is required", "error": "invalid_request"})
		return
	}
	sessionID := middleware.SessionID(c.Request)
	if !s.deps.Sessions.ExtendSession(c.Request.Context(), sessionID, time.Duration(body.AdditionalSeconds)*time.Second) {
		c.JSON(403, gin.H{"success": false, "message": "Session could not be extended", "error": "session_invalid"})
		return
	}
	s.deps.Audit.LogSuperAdminAccess(c.Request.Context(), audit.Entry{
		Event:     "session_extended",
		ClientIP:  middleware.ResolveClientIP(c.Request),
		SessionID: sessionID,
		Metadata:  map[string]interface{}{"additional_seconds": body.AdditionalSeconds},
	})
	c.JSON(200, gin.H{"success": true})
}

// Router exposes the engine for tests.
func (s *Server) Router() *gin.Engine { return s.router }

// Start begins serving on addr and blocks until the listener fails.
func (s *Server) Start(host string, port int, readTimeout, writeTimeout time.Duration) error {
	s.http = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Handler:      s.router,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}
