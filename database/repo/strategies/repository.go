package strategies

import (
	"context"
	"errors"
	"fmt"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"gorm.io/gorm"
)

// Repository 存储策略仓库
// ConfigJSON 以密文形式读写，解密只在 storage.Router 内进行
type Repository struct {
	db database.Provider
}

// NewRepository 创建新的存储策略仓库
func NewRepository(db database.Provider) *Repository {
	return &Repository{db: db}
}

// Create 创建存储策略
func (r *Repository) Create(strategy *models.StorageStrategy) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(strategy).Error; err != nil {
			return fmt.Errorf("failed to create storage strategy: %w", err)
		}
		return nil
	})
}

// GetByID 通过ID获取策略
func (r *Repository) GetByID(id uint) (*models.StorageStrategy, error) {
	var strategy models.StorageStrategy
	if err := r.db.DB().First(&strategy, id).Error; err != nil {
		return nil, err
	}
	return &strategy, nil
}

// List 列出全部策略
func (r *Repository) List() ([]*models.StorageStrategy, error) {
	var list []*models.StorageStrategy
	err := r.db.DB().Order("id asc").Find(&list).Error
	return list, err
}

// IsBound 检查用户是否绑定了策略
func (r *Repository) IsBound(userID, strategyID uint) (bool, error) {
	var count int64
	err := r.db.DB().Model(&models.UserStrategy{}).
		Where("user_id = ? AND strategy_id = ?", userID, strategyID).
		Count(&count).Error
	return count > 0, err
}

// GetUserDefault 获取用户默认且处于启用状态的策略，没有时返回 nil, nil
func (r *Repository) GetUserDefault(userID uint) (*models.StorageStrategy, error) {
	var strategy models.StorageStrategy
	err := r.db.DB().
		Joins("JOIN user_strategies ON user_strategies.strategy_id = storage_strategies.id").
		Where("user_strategies.user_id = ? AND user_strategies.is_default = ? AND storage_strategies.is_active = ?", userID, true, true).
		Order("storage_strategies.id asc").
		First(&strategy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &strategy, nil
}

// GetSystemDefaultLocal 获取系统级本地存储策略：共享、启用、本地类型、ID 最小
func (r *Repository) GetSystemDefaultLocal() (*models.StorageStrategy, error) {
	var strategy models.StorageStrategy
	err := r.db.DB().
		Where("is_shared = ? AND is_active = ? AND type = ?", true, true, models.StorageTypeLocal).
		Order("id asc").
		First(&strategy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &strategy, nil
}

// UpdateConfig 更新策略密文配置
// 不更新 updated_at，令牌轮换不应使已缓存的存储实例失效
func (r *Repository) UpdateConfig(id uint, sealedConfig string) error {
	result := r.db.DB().Model(&models.StorageStrategy{}).Where("id = ?", id).UpdateColumn("config_json", sealedConfig)
	if result.Error != nil {
		return result.Error
	}
	if result.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// SetActive 启用或停用策略
func (r *Repository) SetActive(id uint, active bool) error {
	return r.db.DB().Model(&models.StorageStrategy{}).Where("id = ?", id).Update("is_active", active).Error
}

// Bind 绑定用户与策略，isDefault 为 true 时清除该用户其他默认标记
func (r *Repository) Bind(userID, strategyID uint, isDefault bool) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if isDefault {
			if err := tx.Model(&models.UserStrategy{}).
				Where("user_id = ?", userID).
				Update("is_default", false).Error; err != nil {
				return err
			}
		}

		var binding models.UserStrategy
		err := tx.Where("user_id = ? AND strategy_id = ?", userID, strategyID).First(&binding).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
			return tx.Create(&models.UserStrategy{UserID: userID, StrategyID: strategyID, IsDefault: isDefault}).Error
		case err != nil:
			return err
		default:
			return tx.Model(&binding).Update("is_default", isDefault).Error
		}
	})
}

// HasSealedConfigs 是否存在非空的策略配置，用于主密钥丢失检测
func (r *Repository) HasSealedConfigs() (bool, error) {
	var count int64
	err := r.db.DB().Model(&models.StorageStrategy{}).Where("config_json LIKE ?", "__ENC:%").Count(&count).Error
	return count > 0, err
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
