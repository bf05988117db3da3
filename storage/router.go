package storage

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/strategies"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

const defaultRouterCacheSize = 64

// ConfigSealer 策略配置加解密
type ConfigSealer interface {
	SealJSON(data map[string]any) (string, error)
	OpenJSON(sealed string) (map[string]any, error)
}

// Binding 路由结果，不含任何凭据
type Binding struct {
	StrategyID uint
	Type       string
	Name       string
	Provider   Provider
}

type cachedProvider struct {
	provider  Provider
	updatedAt time.Time
}

// Router 根据用户与策略选择存储后端
// 凭据只在缓存未命中时从策略仓库读取并解密
type Router struct {
	strategies *strategies.Repository
	sealer     ConfigSealer
	factory    *Factory

	cache *lru.Cache[uint, cachedProvider]
	group singleflight.Group
}

// NewRouter 创建存储路由
func NewRouter(repo *strategies.Repository, sealer ConfigSealer, factory *Factory, cacheSize int) (*Router, error) {
	if cacheSize <= 0 {
		cacheSize = defaultRouterCacheSize
	}
	cache, err := lru.New[uint, cachedProvider](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create provider cache: %w", err)
	}
	return &Router{
		strategies: repo,
		sealer:     sealer,
		factory:    factory,
		cache:      cache,
	}, nil
}

// Resolve 选择上传使用的存储
// strategyID 非空时必须存在、启用且对该用户可见；为空时依次尝试用户默认策略与系统本地策略
func (r *Router) Resolve(ctx context.Context, userID uint, strategyID *uint) (*Binding, error) {
	repo := r.strategies.WithContext(ctx)

	if strategyID != nil && *strategyID != 0 {
		strategy, err := repo.GetByID(*strategyID)
		if err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return nil, errs.New(errs.KindStrategyNotFound, "storage strategy not found")
			}
			return nil, errs.Wrap(errs.KindInternal, "failed to load storage strategy", err)
		}
		if !strategy.IsActive {
			return nil, errs.New(errs.KindStrategyNotFound, "storage strategy not found")
		}
		if !strategy.IsShared {
			bound, err := repo.IsBound(userID, strategy.ID)
			if err != nil {
				return nil, errs.Wrap(errs.KindInternal, "failed to check strategy binding", err)
			}
			if !bound {
				return nil, errs.New(errs.KindStrategyNotFound, "storage strategy not found")
			}
		}
		return r.bind(strategy)
	}

	strategy, err := repo.GetUserDefault(userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to load default strategy", err)
	}
	if strategy == nil {
		strategy, err = repo.GetSystemDefaultLocal()
		if err != nil {
			return nil, errs.Wrap(errs.KindInternal, "failed to load system strategy", err)
		}
	}
	if strategy == nil {
		return nil, errs.New(errs.KindNoStorageAvailable, "no storage available")
	}
	return r.bind(strategy)
}

// ForStrategy 为已有记录实例化其所属策略的存储，停用的策略仍可读取与删除
func (r *Router) ForStrategy(ctx context.Context, strategyID uint) (*Binding, error) {
	strategy, err := r.strategies.WithContext(ctx).GetByID(strategyID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errs.New(errs.KindStrategyNotFound, "storage strategy not found")
		}
		return nil, errs.Wrap(errs.KindInternal, "failed to load storage strategy", err)
	}
	return r.bind(strategy)
}

// DisplayType 返回用户默认策略的类型，仅用于展示，不实例化存储
func (r *Router) DisplayType(ctx context.Context, userID uint) string {
	strategy, err := r.strategies.WithContext(ctx).GetUserDefault(userID)
	if err != nil || strategy == nil {
		return string(models.StorageTypeLocal)
	}
	return string(strategy.Type)
}

// Invalidate 丢弃策略对应的缓存实例
func (r *Router) Invalidate(strategyID uint) {
	r.cache.Remove(strategyID)
}

func (r *Router) bind(strategy *models.StorageStrategy) (*Binding, error) {
	provider, err := r.provider(strategy)
	if err != nil {
		return nil, err
	}
	return &Binding{
		StrategyID: strategy.ID,
		Type:       string(strategy.Type),
		Name:       strategy.Name,
		Provider:   provider,
	}, nil
}

func (r *Router) provider(strategy *models.StorageStrategy) (Provider, error) {
	if entry, ok := r.cache.Get(strategy.ID); ok && entry.updatedAt.Equal(strategy.UpdatedAt) {
		return entry.provider, nil
	}

	key := fmt.Sprintf("%d:%d", strategy.ID, strategy.UpdatedAt.UnixNano())
	v, err, _ := r.group.Do(key, func() (interface{}, error) {
		if entry, ok := r.cache.Get(strategy.ID); ok && entry.updatedAt.Equal(strategy.UpdatedAt) {
			return entry.provider, nil
		}

		settings, err := r.sealer.OpenJSON(strategy.ConfigJSON)
		if err != nil {
			return nil, errs.Wrap(errs.KindNoStorageAvailable, "storage credentials unavailable", err)
		}

		provider, err := r.factory.Build(string(strategy.Type), settings, BuildOptions{
			OnTokenRefresh: r.tokenPersister(strategy.ID, settings),
		})
		if err != nil {
			return nil, errs.Wrap(errs.KindNoStorageAvailable, "storage backend unavailable", err)
		}

		wrapped := Instrument(provider)
		r.cache.Add(strategy.ID, cachedProvider{provider: wrapped, updatedAt: strategy.UpdatedAt})
		return wrapped, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(Provider), nil
}

// tokenPersister 将刷新后的令牌重新加密写回策略
func (r *Router) tokenPersister(strategyID uint, settings map[string]any) TokenRefreshFunc {
	var mu sync.Mutex
	current := make(map[string]any, len(settings))
	for k, v := range settings {
		current[k] = v
	}

	return func(refreshToken string) error {
		mu.Lock()
		defer mu.Unlock()

		current["refresh_token"] = refreshToken
		sealed, err := r.sealer.SealJSON(current)
		if err != nil {
			return err
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.strategies.WithContext(ctx).UpdateConfig(strategyID, sealed); err != nil {
			return fmt.Errorf("failed to persist refreshed token for strategy %d: %w", strategyID, err)
		}
		log.Printf("[Storage] Persisted refreshed token for strategy %d", strategyID)
		return nil
	}
}
