package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"sprout-budget-go/internal/config"
	"sprout-budget-go/internal/core"
	"sprout-budget-go/internal/identity"
	"sprout-budget-go/internal/middleware"
)

// SetupRoutes configures all application routes with their handlers
// and middleware. Global middleware (logging, recovery, CORS, metrics)
// are expected to already be applied to the router in main.go.
func SetupRoutes(
	router *gin.Engine,
	appConfig *config.Config,
	logger *zap.Logger,
	provider identity.Provider,
	sessions *core.SessionManager,
) {
	authMW := middleware.NewAuthMiddleware(provider, logger)

	roomHandler := NewRoomHandler(sessions, logger)
	budgetHandler := NewBudgetHandler(sessions, roomHandler, logger)

	apiV1 := router.Group("/api/v1", authMW.VerifyToken())
	{
		apiV1.GET("/state", roomHandler.GetState)
		apiV1.POST("/session/close", roomHandler.CloseSession)

		roomsGroup := apiV1.Group("/rooms")
		{
			roomsGroup.POST("", roomHandler.CreateRoom)
			roomsGroup.POST("/join", roomHandler.JoinRoom)
			roomsGroup.POST("/leave", roomHandler.LeaveRoom)
			roomsGroup.POST("/owned/switch", roomHandler.SwitchToOwnedRoom)
			roomsGroup.POST("/personal/switch", roomHandler.SwitchToPersonal)
		}

		budgetGroup := apiV1.Group("/budget")
		{
			budgetGroup.GET("", budgetHandler.GetBudget)
			budgetGroup.POST("/:month/transactions", budgetHandler.AddTransaction)
			budgetGroup.DELETE("/:month/transactions/:kind/:id", budgetHandler.DeleteTransaction)
			budgetGroup.PUT("/:month/goal", budgetHandler.SetFinancialGoal)
		}
	}

	// Public endpoints outside /api/v1.
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "UP", "message": "Sprout budget backend is healthy."})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	logger.Info("API routes configured successfully under /api/v1, /health and /metrics.")
}
