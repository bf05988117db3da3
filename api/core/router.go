package core

import (
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/common"
	handlerImages "github.com/LunarVowCrimsonLove/MoeVault-sub001/api/handler/images"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/middleware"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/config"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/auth"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/metrics"
	"github.com/gin-gonic/gin"
	swaggerFiles "github.com/swaggo/files"
	ginSwagger "github.com/swaggo/gin-swagger"
)

// uploadWaitTimeout 上传排队等待处理槽位的上限
const uploadWaitTimeout = 30 * time.Second

// RouterDependencies 路由注册依赖
type RouterDependencies struct {
	Images           *handlerImages.Handler
	JWT              *auth.JWTService
	Health           *HealthHandler
	APIRateLimiter   *middleware.IPRateLimiter
	ImageRateLimiter *middleware.IPRateLimiter
	UploadLimiter    *middleware.ConcurrencyLimiter
	EnableSwagger    bool
}

// RegisterRoutes 注册所有路由
func RegisterRoutes(router *gin.Engine, deps *RouterDependencies) {
	registerBasicRoutes(router, deps)
	registerPublicRoutes(router, deps)
	registerAPIRoutes(router, deps)
}

// registerBasicRoutes 注册基础路由
func registerBasicRoutes(router *gin.Engine, deps *RouterDependencies) {
	router.GET("/health", deps.Health.Handle)

	router.GET("/version", func(context *gin.Context) {
		common.RespondSuccess(context, gin.H{
			"name":    config.AppName,
			"version": config.Version,
			"commit":  config.CommitHash,
		})
	})

	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	if deps.EnableSwagger {
		router.GET("/swagger/*any", ginSwagger.WrapHandler(swaggerFiles.Handler))
	}
}

// registerPublicRoutes 取图路由，匿名可访问，携带令牌时可读取自己的私有图片
func registerPublicRoutes(router *gin.Engine, deps *RouterDependencies) {
	h := deps.Images
	public := []gin.HandlerFunc{deps.ImageRateLimiter.Middleware(), middleware.OptionalJWTAuth(deps.JWT)}

	router.GET("/:hash", append(public, h.ServeByHash)...)                  // GET /{hash}
	router.GET("/view/:token", append(public, h.ServeByToken)...)           // GET /view/{token}
	router.GET("/s/:code", append(public, h.ServeByShareCode)...)           // GET /s/{code}
	router.GET("/images/:id", append(public, h.ServeByID)...)               // GET /images/{id}
	router.GET("/uploads/*path", append(public, h.ServeByPath)...)          // GET /uploads/{path}
	router.GET("/images/:id/info", append(public, noStore, h.ImageInfo)...) // GET /images/{id}/info
}

// registerAPIRoutes 需要登录的管理接口
func registerAPIRoutes(router *gin.Engine, deps *RouterDependencies) {
	h := deps.Images

	api := router.Group("")
	api.Use(deps.APIRateLimiter.Middleware())
	api.Use(noStore)
	api.Use(middleware.JWTAuth(deps.JWT))
	{
		api.POST("/upload", deps.UploadLimiter.MiddlewareWithBlock(uploadWaitTimeout), h.UploadImage) // POST /upload

		api.GET("/images", h.ListImages)               // GET /images
		api.DELETE("/images", h.DeleteImages)          // DELETE /images
		api.PATCH("/images/:id", h.UpdateImage)        // PATCH /images/{id}
		api.DELETE("/images/:id", h.DeleteSingleImage) // DELETE /images/{id}
		api.POST("/images/:id/share", h.ShareImage)    // POST /images/{id}/share
		api.GET("/storage/usage", h.StorageUsage)      // GET /storage/usage
		api.POST("/storage/test", h.TestStrategy)      // POST /storage/test
	}
}

// noStore 接口响应禁止缓存
func noStore(context *gin.Context) {
	context.Header("Cache-Control", "no-store")
	context.Next()
}
