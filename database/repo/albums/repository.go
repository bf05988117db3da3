package albums

import (
	"context"
	"fmt"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"gorm.io/gorm"
)

// Repository 相册仓库 - 相册归属校验与计数维护
type Repository struct {
	db database.Provider
}

// NewRepository 创建新的相册仓库
func NewRepository(db database.Provider) *Repository {
	return &Repository{db: db}
}

// CreateAlbum 创建相册
func (r *Repository) CreateAlbum(album *models.Album) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(album).Error; err != nil {
			return fmt.Errorf("failed to create album: %w", err)
		}
		return nil
	})
}

// GetAlbumByIDAndUser 获取属于用户的相册
func (r *Repository) GetAlbumByIDAndUser(albumID, userID uint) (*models.Album, error) {
	var album models.Album
	if err := r.db.DB().First(&album, "id = ? AND user_id = ?", albumID, userID).Error; err != nil {
		return nil, err
	}
	return &album, nil
}

// IsOwnedBy 检查相册是否属于用户
func (r *Repository) IsOwnedBy(albumID, userID uint) (bool, error) {
	var count int64
	err := r.db.DB().Model(&models.Album{}).Where("id = ? AND user_id = ?", albumID, userID).Count(&count).Error
	return count > 0, err
}

// IncrementImageCount 调整相册图片计数，不会低于 0
func (r *Repository) IncrementImageCount(albumID uint, delta int64) error {
	result := r.db.DB().Model(&models.Album{}).Where("id = ?", albumID).
		UpdateColumn("image_count", gorm.Expr("CASE WHEN image_count + ? < 0 THEN 0 ELSE image_count + ? END", delta, delta))
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// WithContext 返回带上下文的仓库
func (r *Repository) WithContext(ctx context.Context) *Repository {
	return &Repository{db: &contextProvider{Provider: r.db, ctx: ctx}}
}

// contextProvider 包装 Provider 添加上下文
type contextProvider struct {
	database.Provider
	ctx context.Context
}

func (c *contextProvider) DB() *gorm.DB {
	return c.Provider.WithContext(c.ctx)
}

func (c *contextProvider) Transaction(fn database.TxFunc) error {
	return c.Provider.TransactionWithContext(c.ctx, fn)
}
