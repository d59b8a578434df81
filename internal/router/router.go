package router

import (
	"net/http"
	"strings"

	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"
	"github.com/goaly/internal/handler"
)

// SessionName 是登录会话的 cookie 名称
const SessionName = "goaly_session"

// SetupRouter 配置 Gin 引擎和路由
func SetupRouter(api *handler.API, sessionSecret string) *gin.Engine {
	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	// 配置会话中间件
	secret := strings.TrimSpace(sessionSecret)
	if secret == "" {
		secret = "goaly-dev-secret"
	}
	store := cookie.NewStore([]byte(secret))
	store.Options(sessions.Options{Path: "/", HttpOnly: true, SameSite: http.SameSiteLaxMode, MaxAge: 7 * 24 * 3600})
	r.Use(sessions.Sessions(SessionName, store))
	r.Use(api.LocaleMiddleware())

	r.GET("/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"message": "pong",
		})
	})

	r.POST("/api/login", api.Login)
	r.POST("/api/logout", api.Logout)

	// 需要认证的接口
	auth := r.Group("/api")
	auth.Use(handler.AuthRequired())
	{
		auth.GET("/me", api.CurrentUser)

		auth.GET("/goals", api.ListGoals)
		auth.POST("/goals", api.CreateGoal)
		auth.POST("/goals/activate", api.ActivateGoals)
		auth.GET("/goals/:id", api.GetGoal)
		auth.PUT("/goals/:id", api.UpdateGoal)
		auth.DELETE("/goals/:id", api.DeleteGoal)
		auth.PUT("/goals/:id/status", api.SetGoalStatus)
		auth.POST("/goals/:id/pause", api.PauseGoal)
		auth.POST("/goals/:id/unpause", api.UnpauseGoal)
		auth.POST("/goals/:id/review", api.RecordReview)

		auth.POST("/goals/:id/steps", api.AddStep)
		auth.POST("/goals/:id/steps/:stepId/toggle", api.ToggleStep)
		auth.DELETE("/goals/:id/steps/:stepId", api.RemoveStep)
		auth.POST("/goals/:id/resources", api.AddResource)
		auth.DELETE("/goals/:id/resources/:resourceId", api.RemoveResource)

		auth.GET("/reviews/due", api.DueReviews)

		auth.GET("/settings", api.GetSettings)
		auth.PUT("/settings", api.UpdateSettings)

		auth.GET("/export", api.Export)
		auth.POST("/import", api.Import)
		auth.GET("/migration", api.PendingMigration)
		auth.POST("/migration", api.CompleteMigration)
		auth.DELETE("/migration", api.CancelMigration)

		auth.POST("/sync", api.Sync)
		auth.GET("/sync/status", api.SyncStatus)
		auth.POST("/sync/login", api.RemoteLogin)
		auth.POST("/sync/logout", api.RemoteLogout)
	}

	return r
}
