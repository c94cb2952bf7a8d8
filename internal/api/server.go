// Package api exposes the HTTP surface: the public resolve and webhook
// endpoints plus the credentialed management API.
package api

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"github.com/cardrelay/cardrelay/internal/database"
	"github.com/cardrelay/cardrelay/internal/ingest"
	"github.com/cardrelay/cardrelay/internal/relay"
)

// Server wires the HTTP handlers to their collaborators
type Server struct {
	db        *database.DB
	resolver  *relay.Resolver
	processor *ingest.Processor
}

// New creates an API server
func New(db *database.DB, resolver *relay.Resolver, processor *ingest.Processor) *Server {
	return &Server{
		db:        db,
		resolver:  resolver,
		processor: processor,
	}
}

// Echo builds the configured echo instance with all routes registered
func (s *Server) Echo() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, headerUsername, headerPassword},
	}))

	// Public surface
	e.GET("/api/resolve/:cardKey", s.handleResolve)
	e.POST("/api/webhook/:webhookKey", s.handleWebhook)

	// Credentialed surface
	mgmt := e.Group("/api", s.requireUser)
	mgmt.GET("/messages", s.handleListMessages)
	mgmt.GET("/cardlinks", s.handleListCardLinks)
	mgmt.POST("/cardlinks", s.handleCreateCardLink)
	mgmt.DELETE("/cardlinks/:cardKey", s.handleDeleteCardLink)
	mgmt.PUT("/tags", s.handleUpdateTags)
	mgmt.GET("/endpoints", s.handleListEndpoints)
	mgmt.POST("/endpoints", s.handleCreateEndpoint)
	mgmt.DELETE("/endpoints/:id", s.handleDeleteEndpoint)
	mgmt.GET("/deliveries", s.handleListDeliveries)

	tmpl := e.Group("/api/templates", s.requireUser, s.requireTemplateManager)
	tmpl.GET("", s.handleListTemplates)
	tmpl.POST("", s.handleCreateTemplate)
	tmpl.DELETE("/:id", s.handleDeleteTemplate)
	tmpl.POST("/:id/rules", s.handleCreateRule)
	tmpl.DELETE("/:id/rules/:ruleID", s.handleDeleteRule)

	admin := e.Group("/api/admin", s.requireUser, s.requireAdmin)
	admin.GET("/users", s.handleListUsers)
	admin.POST("/users", s.handleCreateUser)
	admin.PUT("/users/:username/flags", s.handleUpdateUserFlags)
	admin.POST("/users/:username/emails", s.handleBindEmail)
	admin.POST("/users/:username/rotate-key", s.handleRotateWebhookKey)
	admin.DELETE("/users/:username", s.handleDeleteUser)

	return e
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

func fail(c echo.Context, status int, msg string) error {
	return c.JSON(status, errorResponse{Success: false, Error: msg})
}
