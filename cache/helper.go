package cache

import (
	"context"
	"math/rand"
	"strings"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
)

// DefaultImageCacheExpiration 图片元数据缓存过期时间
const DefaultImageCacheExpiration = 10 * time.Minute

// addJitter 添加随机抖动（+0~10%），防止缓存雪崩
func addJitter(duration time.Duration) time.Duration {
	if duration <= 0 {
		return duration
	}
	if n := int64(duration) / 10; n > 0 {
		return duration + time.Duration(rand.Int63n(n))
	}
	return duration
}

// Helper 图片元数据缓存辅助
// 记录按 image:id:<id> 缓存；image:hash:<hash> 只保存该哈希下 id 最小的记录，
// 由哈希查询路径写入，失效时两个键一并删除
type Helper struct {
	provider Provider
	ttl      time.Duration
}

// NewHelper 创建缓存辅助工具，provider 为 nil 时所有读取均未命中
func NewHelper(provider Provider, ttl time.Duration) *Helper {
	if ttl <= 0 {
		ttl = DefaultImageCacheExpiration
	}
	return &Helper{provider: provider, ttl: ttl}
}

// CacheImage 按 ID 缓存图片元数据
// 同一哈希可能对应多条记录，这里不写哈希键
func (h *Helper) CacheImage(ctx context.Context, image *models.Image) error {
	if h.provider == nil || image == nil {
		return nil
	}
	return h.provider.Set(ctx, ImageByID.BuildID(image.ID), image, addJitter(h.ttl))
}

// CacheImageByHash 缓存哈希查询的结果，image 必须是仓库按 id 升序取到的第一条
func (h *Helper) CacheImageByHash(ctx context.Context, image *models.Image) error {
	if h.provider == nil || image == nil || image.AddressHash == "" {
		return nil
	}
	return h.provider.Set(ctx, ImageByHash.Build(strings.ToLower(image.AddressHash)), image, addJitter(h.ttl))
}

// GetImageByID 读取按 ID 缓存的元数据
func (h *Helper) GetImageByID(ctx context.Context, id uint, image *models.Image) error {
	if h.provider == nil {
		return ErrCacheMiss
	}
	return h.provider.Get(ctx, ImageByID.BuildID(id), image)
}

// GetImageByHash 读取按地址哈希缓存的元数据
func (h *Helper) GetImageByHash(ctx context.Context, hash string, image *models.Image) error {
	if h.provider == nil {
		return ErrCacheMiss
	}
	return h.provider.Get(ctx, ImageByHash.Build(strings.ToLower(hash)), image)
}

// DeleteImage 使图片的两个缓存键失效
func (h *Helper) DeleteImage(ctx context.Context, image *models.Image) error {
	if h.provider == nil || image == nil {
		return nil
	}
	err := h.provider.Delete(ctx, ImageByID.BuildID(image.ID))
	if image.AddressHash != "" {
		if hashErr := h.provider.Delete(ctx, ImageByHash.Build(strings.ToLower(image.AddressHash))); hashErr != nil && err == nil {
			err = hashErr
		}
	}
	return err
}
