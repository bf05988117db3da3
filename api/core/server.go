package core

import (
	"net/http"
	"time"

	handlerImages "github.com/LunarVowCrimsonLove/MoeVault-sub001/api/handler/images"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/middleware"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/config"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/app"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
)

// maxConcurrentUploads 同时处理的上传数，上传会把整个文件读入内存
const maxConcurrentUploads = 16

// 启动gin
func setupRouter(cfg *config.Config, container *app.Container) (*gin.Engine, func()) {
	if !config.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()

	// 仅在开发版本时启用 gin 日志
	if config.IsDevelopment() {
		router.Use(gin.Logger())
	}
	router.Use(gin.Recovery())

	origins := cfg.CorsOrigins()
	corsConfig := cors.Config{
		AllowMethods:  []string{"GET", "POST", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:  []string{"Origin", "Content-Length", "Content-Type", "Authorization", "If-None-Match"},
		ExposeHeaders: []string{"ETag", "Content-Length"},
		MaxAge:        12 * time.Hour,
	}
	if len(origins) == 1 && origins[0] == "*" {
		corsConfig.AllowAllOrigins = true
	} else {
		corsConfig.AllowOrigins = origins
		corsConfig.AllowCredentials = true
	}
	router.Use(cors.New(corsConfig))

	_ = router.SetTrustedProxies(nil)

	// 限制上传文件大小
	maxUploadBytes := int64(cfg.UploadMaxSizeMB) << 20
	router.MaxMultipartMemory = maxUploadBytes

	router.Use(middleware.Metrics())

	apiRateLimiter := middleware.NewIPRateLimiter(cfg.RateLimitApiRPS, cfg.RateLimitApiBurst, cfg.RateLimitExpireTime)
	imageRateLimiter := middleware.NewIPRateLimiter(cfg.RateLimitImageRPS, cfg.RateLimitImageBurst, cfg.RateLimitExpireTime)
	cleanup := func() {
		apiRateLimiter.StopCleanup()
		imageRateLimiter.StopCleanup()
	}

	RegisterRoutes(router, &RouterDependencies{
		Images: handlerImages.NewHandler(
			container.Upload,
			container.Delete,
			container.Resolver,
			container.Manage,
			maxUploadBytes,
		),
		JWT:              container.JWT,
		Health:           NewHealthHandler(container.GetDatabaseFactory().GetProvider(), container.GetCacheProvider(), container.Router),
		APIRateLimiter:   apiRateLimiter,
		ImageRateLimiter: imageRateLimiter,
		UploadLimiter:    middleware.NewConcurrencyLimiter(maxConcurrentUploads),
		EnableSwagger:    !config.IsProduction(),
	})

	return router, cleanup
}

// StartServer 创建 http.Server
func StartServer(cfg *config.Config, container *app.Container) (*http.Server, func()) {
	router, clean := setupRouter(cfg, container)

	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.ServerReadTimeout,
		WriteTimeout: cfg.ServerWriteTimeout,
		IdleTimeout:  cfg.ServerIdleTimeout,
	}

	return srv, clean
}
