package cache

import (
	"fmt"
	"log"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cache/memory"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cache/redis"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/config"
)

// NewProvider 根据配置创建缓存提供者
// redis 不可用时退回内存缓存，元数据缓存只是加速层
func NewProvider(cfg *config.Config) (Provider, error) {
	switch cfg.CacheType {
	case "redis":
		provider, err := redis.NewRedisFromConfig(&redis.Config{
			Address:  cfg.CacheRedisAddr,
			Password: cfg.CacheRedisPassword,
			DB:       cfg.CacheRedisDB,
			PoolSize: 10,
		})
		if err == nil {
			log.Printf("[Cache] Using redis cache at %s", cfg.CacheRedisAddr)
			return provider, nil
		}
		log.Printf("[Cache] WARN: redis unavailable, falling back to memory cache: %v", err)
		return newMemoryProvider()
	case "memory", "":
		return newMemoryProvider()
	default:
		return nil, fmt.Errorf("unsupported cache type: %s", cfg.CacheType)
	}
}

func newMemoryProvider() (Provider, error) {
	provider, err := memory.NewMemory(memory.Config{
		NumCounters: 1000000,
		MaxCost:     64 << 20,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create memory cache: %w", err)
	}
	log.Println("[Cache] Using memory cache")
	return provider, nil
}
