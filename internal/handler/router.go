package handler

import (
	"github.com/gin-gonic/gin"
)

// SetupRouter 配置路由
func SetupRouter(h *Handler) *gin.Engine {
	// 设置 gin 为发布模式（减少日志输出）
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// 注册中间件
	r.Use(RecoveryMiddleware())
	r.Use(LoggerMiddleware())
	r.Use(CORSMiddleware())

	// API 路由组
	api := r.Group("/api/v1")
	{
		// 积分相关
		point := api.Group("/point")
		{
			point.POST("/accumulate", h.Accumulate)
			point.POST("/dispatch", h.Dispatch)
			point.GET("/record", h.GetPointRecord)
		}

		// 链上调用相关
		invoke := api.Group("/invoke")
		{
			invoke.GET("/detail", h.GetInvoke)
		}

		// 链状态相关
		chainGroup := api.Group("/chain")
		{
			chainGroup.GET("/height", h.GetChainHeight)
		}

		// 水龙头相关
		faucet := api.Group("/faucet")
		{
			faucet.POST("/claim", h.FaucetClaim)
			faucet.GET("/status", h.FaucetStatus)
		}
	}

	// 健康检查
	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok"})
	})

	return r
}
