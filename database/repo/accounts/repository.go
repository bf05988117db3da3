package accounts

import (
	"context"
	"errors"
	"fmt"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"gorm.io/gorm"
)

// Repository 账户仓库 - 封装用户容量与计数的数据库操作
type Repository struct {
	db database.Provider
}

// NewRepository 创建新的账户仓库
func NewRepository(db database.Provider) *Repository {
	return &Repository{db: db}
}

// GetUserByID 通过ID获取用户，不存在时返回 nil, nil
func (r *Repository) GetUserByID(id uint) (*models.User, error) {
	var user models.User

	err := r.db.DB().Where("id = ?", id).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}

	return &user, nil
}

// CreateUser 创建用户
func (r *Repository) CreateUser(user *models.User) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(user).Error; err != nil {
			return fmt.Errorf("failed to create user: %w", err)
		}
		return nil
	})
}

// EnsureUser 用户不存在时按外部认证给出的 ID 建立本地记录
func (r *Repository) EnsureUser(id uint, username string) (*models.User, error) {
	user, err := r.GetUserByID(id)
	if err != nil || user != nil {
		return user, err
	}
	if username == "" {
		username = fmt.Sprintf("user-%d", id)
	}
	user = &models.User{ID: id, Username: username, Role: "user"}
	if err := r.CreateUser(user); err != nil {
		return nil, err
	}
	return user, nil
}

// UpdateCapacity 设置用户容量（字节），0 表示使用默认值
func (r *Repository) UpdateCapacity(id uint, capacity int64) error {
	return r.db.DB().Model(&models.User{}).Where("id = ?", id).Update("capacity", capacity).Error
}

// IncrementImageCount 调整用户图片计数，不会低于 0
func (r *Repository) IncrementImageCount(id uint, delta int64) error {
	result := r.db.DB().Model(&models.User{}).Where("id = ?", id).
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
