package core

import (
	"context"
	"net/http"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cache"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/config"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/storage"
	"github.com/gin-gonic/gin"
)

const healthCheckTimeout = 3 * time.Second

var startTime = time.Now()

// HealthHandler 健康检查：数据库、缓存与系统默认存储
type HealthHandler struct {
	db     database.Provider
	cache  cache.Provider
	router *storage.Router
}

// NewHealthHandler 创建健康检查处理器
func NewHealthHandler(db database.Provider, cacheProvider cache.Provider, router *storage.Router) *HealthHandler {
	return &HealthHandler{db: db, cache: cacheProvider, router: router}
}

// Handle GET /health
func (h *HealthHandler) Handle(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	checks := gin.H{
		"database": checkDatabaseHealth(h.db),
		"cache":    checkCacheHealth(ctx, h.cache),
		"storage":  checkStorageHealth(ctx, h.router),
	}

	status := "ok"
	httpStatus := http.StatusOK
	for _, result := range checks {
		if result != "ok" {
			status = "degraded"
			httpStatus = http.StatusServiceUnavailable
			break
		}
	}

	c.JSON(httpStatus, gin.H{
		"status":  status,
		"uptime":  time.Since(startTime).Round(time.Second).String(),
		"version": config.Version,
		"checks":  checks,
	})
}

func checkDatabaseHealth(provider database.Provider) string {
	if provider == nil {
		return "not initialized"
	}

	db := provider.DB()
	if db == nil {
		return "not initialized"
	}
	sqlDB, err := db.DB()
	if err != nil {
		return "error: " + err.Error()
	}
	if err := sqlDB.Ping(); err != nil {
		return "unavailable: " + err.Error()
	}
	return "ok"
}

// checkCacheHealth 用一个不存在的键探测，未命中即视为可用
func checkCacheHealth(ctx context.Context, provider cache.Provider) string {
	if provider == nil {
		return "not initialized"
	}
	if _, err := provider.Exists(ctx, "health:probe"); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}

// checkStorageHealth 检查匿名上传会落到的默认存储
func checkStorageHealth(ctx context.Context, router *storage.Router) string {
	if router == nil {
		return "not initialized"
	}

	binding, err := router.Resolve(ctx, 0, nil)
	if err != nil {
		return "error: " + err.Error()
	}
	if err := binding.Provider.Health(ctx); err != nil {
		return "error: " + err.Error()
	}
	return "ok"
}
