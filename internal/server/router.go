package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/slotter-org/alexus-backend/internal/handlers"
	"github.com/slotter-org/alexus-backend/internal/logger"
	"github.com/slotter-org/alexus-backend/internal/middleware"
)

var defaultAllowOrigins = []string{
	"http://localhost:3000",
}

type RouterConfig struct {
	Log                 *logger.Logger
	AllowOrigins        []string
	ChatHandler         *handlers.ChatHandler
	ConversationHandler *handlers.ConversationHandler
	AdminHandler        *handlers.AdminHandler
	WsHandler           gin.HandlerFunc
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())

	//-----------------------------------------
	// Cors Setup
	//-----------------------------------------
	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = defaultAllowOrigins
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "X-Requested-With", middleware.HeaderUserID, middleware.HeaderRequestID},
		ExposeHeaders:    []string{handlers.HeaderConversationID, handlers.HeaderTurnPersisted, middleware.HeaderRequestID},
		AllowCredentials: true,
	}))
	router.Use(middleware.AttachRequestContext())
	router.Use(middleware.RequestLogger(cfg.Log))

	//-----------------------------------------
	// Health Routes
	//-----------------------------------------
	router.GET("/healthz", cfg.AdminHandler.Healthz)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	//-----------------------------------------
	// API Routes
	//-----------------------------------------
	api := router.Group("/api")
	{
		api.POST("/chat", cfg.ChatHandler.Chat)
		api.GET("/init-db", cfg.AdminHandler.InitDB)
		api.POST("/init-db", cfg.AdminHandler.InitDB)
		api.GET("/ws", cfg.WsHandler)
	}

	conversations := api.Group("/conversations")
	{
		conversations.GET("", cfg.ConversationHandler.ListConversations)
		conversations.POST("", cfg.ConversationHandler.CreateConversation)
		conversations.GET("/:id", cfg.ConversationHandler.GetConversation)
		conversations.PATCH("/:id", cfg.ConversationHandler.RenameConversation)
		conversations.DELETE("/:id", cfg.ConversationHandler.DeleteConversation)
		conversations.GET("/:id/messages", cfg.ConversationHandler.ListMessages)
		conversations.POST("/:id/messages", cfg.ConversationHandler.AppendMessages)
	}

	return router
}
