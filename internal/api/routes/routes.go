// server/internal/api/routes/routes.go
package routes

import (
	"slices"
	"time"

	"wecare-supplier-api-server/config"
	"wecare-supplier-api-server/internal/api/handlers"
	"wecare-supplier-api-server/internal/api/middleware"
	"wecare-supplier-api-server/internal/auth"
	"wecare-supplier-api-server/internal/orders"
	"wecare-supplier-api-server/internal/socket"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

// Deps gom các thành phần phụ thuộc mà router cần.
type Deps struct {
	Config    config.Config
	Suppliers handlers.SupplierService
	Issuer    *auth.Issuer
	Registry  *orders.Registry
	Workflow  *orders.Workflow
	Hub       *socket.Hub
	Health    *handlers.HealthHandler
	Log       logrus.FieldLogger
}

// SetupRouter nhận vào các thành phần phụ thuộc và thiết lập các route
func SetupRouter(d Deps) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.RequestLogger(d.Log))
	router.Use(cors.New(corsConfig(d.Config.Server)))

	// Khởi tạo các handlers
	authHandler := &handlers.AuthHandler{Suppliers: d.Suppliers, Issuer: d.Issuer, Log: d.Log}
	profileHandler := &handlers.ProfileHandler{Suppliers: d.Suppliers, Log: d.Log}
	orderHandler := &handlers.OrderHandler{Registry: d.Registry, Workflow: d.Workflow, Notifier: d.Hub, Log: d.Log}
	webSocketHandler := &handlers.WebSocketHandler{Hub: d.Hub, Issuer: d.Issuer, Log: d.Log}
	healthHandler := d.Health
	if healthHandler == nil {
		healthHandler = &handlers.HealthHandler{}
	}

	router.GET("/healthz", healthHandler.Healthz)

	apiV1 := router.Group("/api/v1")
	{
		// === CÁC ROUTE KHÔNG YÊU CẦU XÁC THỰC ===
		apiV1.GET("/ws", webSocketHandler.ServeWs)
		apiV1.POST("/auth/login", authHandler.Login)

		// === CÁC ROUTE YÊU CẦU XÁC THỰC (PROTECTED) ===
		protected := apiV1.Group("/")
		protected.Use(middleware.Authenticate(d.Issuer))
		{
			protected.GET("/profile", profileHandler.GetProfile)
			protected.PUT("/profile/password", profileHandler.ChangePassword)

			protected.GET("/dashboard", orderHandler.GetDashboard)

			ordersGroup := protected.Group("/orders")
			{
				ordersGroup.GET("", orderHandler.ListOrders)
				ordersGroup.GET("/history", orderHandler.GetHistory)
				ordersGroup.GET("/groups", orderHandler.GetGroups)
				ordersGroup.POST("/reload", orderHandler.ReloadOrders)
				ordersGroup.GET("/:id", orderHandler.GetOrder)
				ordersGroup.PUT("/:id/buffer", orderHandler.UpdateBuffer)
				ordersGroup.DELETE("/:id/buffer", orderHandler.DiscardBuffer)
				ordersGroup.POST("/:id/confirm", orderHandler.ConfirmOrder)
				ordersGroup.POST("/:id/reject", orderHandler.RejectOrder)
			}

			groups := protected.Group("/groups")
			{
				groups.POST("/confirm", orderHandler.ConfirmGroup)
				groups.POST("/reject", orderHandler.RejectGroup)
			}
		}
	}

	return router
}

func corsConfig(cfg config.ServerConfig) cors.Config {
	c := cors.DefaultConfig()
	if len(cfg.AllowedOrigins) == 0 || slices.Contains(cfg.AllowedOrigins, "*") {
		c.AllowAllOrigins = true
	} else {
		c.AllowOrigins = cfg.AllowedOrigins
	}
	c.AllowHeaders = append(c.AllowHeaders, "Authorization", middleware.HeaderRequestID)
	c.ExposeHeaders = []string{middleware.HeaderRequestID}
	c.MaxAge = 12 * time.Hour
	return c
}
