package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/halcyonlabs/remindcal/backend/internal/auth"
	"github.com/halcyonlabs/remindcal/backend/internal/events"
	"github.com/halcyonlabs/remindcal/backend/internal/push"
	"github.com/halcyonlabs/remindcal/backend/internal/reminders"
	"github.com/halcyonlabs/remindcal/backend/internal/rules"
	"github.com/halcyonlabs/remindcal/backend/internal/scheduler"
	"github.com/halcyonlabs/remindcal/backend/internal/users"
	"go.uber.org/zap"
)

const userIDContextKey = "remindcal_user_id"

var (
	errMissingSessionManager = errors.New("session manager dependency required")
	errMissingUsersService   = errors.New("users service dependency required")
	errMissingEventsService  = errors.New("events service dependency required")
	errMissingRulesService   = errors.New("rules service dependency required")
	errMissingReminders      = errors.New("reminders service dependency required")
	errMissingSubscriptions  = errors.New("push subscription service dependency required")
	errMissingDispatcher     = errors.New("scheduler service dependency required")
)

// Dependencies wires the request handlers to their collaborating services.
type Dependencies struct {
	Sessions       *auth.SessionManager
	Users          *users.Service
	Events         *events.Service
	Rules          *rules.Service
	Reminders      *reminders.Service
	Subscriptions  *push.Service
	Dispatcher     *scheduler.Service
	VAPIDPublicKey string
	Logger         *zap.Logger
}

// NewHTTPHandler assembles the gin router with all API routes.
func NewHTTPHandler(deps Dependencies) (http.Handler, error) {
	if deps.Sessions == nil {
		return nil, errMissingSessionManager
	}
	if deps.Users == nil {
		return nil, errMissingUsersService
	}
	if deps.Events == nil {
		return nil, errMissingEventsService
	}
	if deps.Rules == nil {
		return nil, errMissingRulesService
	}
	if deps.Reminders == nil {
		return nil, errMissingReminders
	}
	if deps.Subscriptions == nil {
		return nil, errMissingSubscriptions
	}
	if deps.Dispatcher == nil {
		return nil, errMissingDispatcher
	}

	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders:     []string{"Content-Type"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	handler := &httpHandler{
		sessions:       deps.Sessions,
		users:          deps.Users,
		events:         deps.Events,
		rules:          deps.Rules,
		reminders:      deps.Reminders,
		subscriptions:  deps.Subscriptions,
		dispatcher:     deps.Dispatcher,
		vapidPublicKey: deps.VAPIDPublicKey,
		logger:         logger,
	}

	api := router.Group("/api")
	api.POST("/auth/register", handler.handleRegister)
	api.POST("/auth/login", handler.handleLogin)
	api.POST("/auth/logout", handler.handleLogout)

	protected := api.Group("/")
	protected.Use(handler.authorizeRequest)
	protected.GET("/events", handler.handleListCalendar)
	protected.POST("/events", handler.handleCreateEvent)
	protected.PUT("/events/:id", handler.handleUpdateEvent)
	protected.DELETE("/events/:id", handler.handleDeleteEvent)
	protected.POST("/events/bulk-create", handler.handleBulkCreateEvents)
	protected.GET("/reminder-rules", handler.handleListRules)
	protected.POST("/reminder-rules", handler.handleCreateRule)
	protected.PUT("/reminder-rules/:id", handler.handleUpdateRule)
	protected.DELETE("/reminder-rules/:id", handler.handleDeleteRule)
	protected.POST("/push/subscribe", handler.handleSubscribePush)
	protected.DELETE("/push/subscribe", handler.handleUnsubscribePush)
	protected.GET("/push/vapid-public-key", handler.handleVAPIDPublicKey)
	protected.GET("/user/settings", handler.handleGetSettings)
	protected.PUT("/user/settings", handler.handleUpdateSettings)
	protected.POST("/scheduler/run", handler.handleRunScheduler)
	protected.GET("/scheduler/run", handler.handleSchedulerStatus)

	return router, nil
}

type httpHandler struct {
	sessions       *auth.SessionManager
	users          *users.Service
	events         *events.Service
	rules          *rules.Service
	reminders      *reminders.Service
	subscriptions  *push.Service
	dispatcher     *scheduler.Service
	vapidPublicKey string
	logger         *zap.Logger
}

func (h *httpHandler) authorizeRequest(c *gin.Context) {
	claims, err := h.sessions.ValidateRequest(c.Request)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
		return
	}
	c.Set(userIDContextKey, claims.Subject)
	c.Next()
}
