package images

import (
	"context"
	"fmt"
	"strings"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"gorm.io/gorm"
)

// Repository 图片仓库 - 封装所有图片相关的数据库操作
type Repository struct {
	db database.Provider
}

// NewRepository 创建新的图片仓库
func NewRepository(db database.Provider) *Repository {
	return &Repository{db: db}
}

// StrategyUsage 单个存储策略下的用量
type StrategyUsage struct {
	StrategyID uint  `json:"strategy_id"`
	Bytes      int64 `json:"bytes"`
	Count      int64 `json:"count"`
}

// SaveImage 保存图片
func (r *Repository) SaveImage(image *models.Image) error {
	return r.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(image).Error; err != nil {
			return fmt.Errorf("failed to create image in transaction: %w", err)
		}
		return nil
	})
}

// GetImageByID 通过ID获取图片
func (r *Repository) GetImageByID(id uint) (*models.Image, error) {
	var image models.Image
	if err := r.db.DB().First(&image, id).Error; err != nil {
		return nil, err
	}
	return &image, nil
}

// GetImageByAddressHash 完整地址哈希精确匹配
func (r *Repository) GetImageByAddressHash(hash string) (*models.Image, error) {
	var image models.Image
	err := r.db.DB().Where("address_hash = ?", strings.ToLower(hash)).Order("id asc").First(&image).Error
	if err != nil {
		return nil, err
	}
	return &image, nil
}

// GetImageByHashPrefix 地址哈希前缀匹配，多条命中时取 id 最小的一条
func (r *Repository) GetImageByHashPrefix(prefix string) (*models.Image, error) {
	var image models.Image
	err := r.db.DB().Where("address_hash LIKE ?", strings.ToLower(prefix)+"%").Order("id asc").First(&image).Error
	if err != nil {
		return nil, err
	}
	return &image, nil
}

// GetImageByPath 按存储路径查找，不同后端路径相同时取 id 最小的一条
func (r *Repository) GetImageByPath(path string) (*models.Image, error) {
	var image models.Image
	if err := r.db.DB().Where("path = ?", path).Order("id asc").First(&image).Error; err != nil {
		return nil, err
	}
	return &image, nil
}

// FindDuplicateByMD5 查找用户已上传的相同内容
func (r *Repository) FindDuplicateByMD5(userID uint, md5 string) (*models.Image, error) {
	var image models.Image
	err := r.db.DB().Where("user_id = ? AND md5 = ?", userID, strings.ToLower(md5)).Order("id asc").First(&image).Error
	if err != nil {
		return nil, err
	}
	return &image, nil
}

// SumSizeByUser 统计用户已用字节数
func (r *Repository) SumSizeByUser(userID uint) (int64, error) {
	var total int64
	err := r.db.DB().Model(&models.Image{}).
		Where("user_id = ?", userID).
		Select("COALESCE(SUM(size), 0)").
		Scan(&total).Error
	return total, err
}

// CountImagesByUser 统计用户图片数量
func (r *Repository) CountImagesByUser(userID uint) (int64, error) {
	var count int64
	err := r.db.DB().Model(&models.Image{}).Where("user_id = ?", userID).Count(&count).Error
	return count, err
}

// UsageByStrategy 按存储策略汇总用户用量
func (r *Repository) UsageByStrategy(userID uint) ([]StrategyUsage, error) {
	var usage []StrategyUsage
	err := r.db.DB().Model(&models.Image{}).
		Select("strategy_id, COALESCE(SUM(size), 0) AS bytes, COUNT(*) AS count").
		Where("user_id = ?", userID).
		Group("strategy_id").
		Order("strategy_id asc").
		Scan(&usage).Error
	return usage, err
}

// ListImagesByUser 获取用户图片列表
func (r *Repository) ListImagesByUser(userID uint, albumID *uint, page, pageSize int) ([]*models.Image, int64, error) {
	var images []*models.Image
	var total int64

	db := r.db.DB().Model(&models.Image{}).Where("user_id = ?", userID)
	if albumID != nil {
		db = db.Where("album_id = ?", *albumID)
	}

	if err := db.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := db.Order("created_at desc, id desc").Offset(offset).Limit(pageSize).Find(&images).Error
	return images, total, err
}

// GetImagesByIDsAndUser 获取属于用户的指定图片
func (r *Repository) GetImagesByIDsAndUser(ids []uint, userID uint) ([]*models.Image, error) {
	var images []*models.Image
	if len(ids) == 0 {
		return images, nil
	}
	err := r.db.DB().Where("id IN ? AND user_id = ?", ids, userID).Order("id asc").Find(&images).Error
	return images, err
}

// DeleteImagesByIDsAndUser 在事务中批量删除用户图片记录
func (r *Repository) DeleteImagesByIDsAndUser(ids []uint, userID uint) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	var affected int64
	err := r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Where("id IN ? AND user_id = ?", ids, userID).Delete(&models.Image{})
		if result.Error != nil {
			return fmt.Errorf("failed to batch delete images in transaction: %w", result.Error)
		}
		affected = result.RowsAffected
		return nil
	})
	if err != nil {
		return 0, err
	}
	return affected, nil
}

// UpdateImageByIDAndUser 更新用户图片的指定字段并返回最新记录
func (r *Repository) UpdateImageByIDAndUser(id, userID uint, updates map[string]interface{}) (*models.Image, error) {
	var image models.Image
	err := r.db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Image{}).Where("id = ? AND user_id = ?", id, userID).Updates(updates)
		if result.Error != nil {
			return fmt.Errorf("failed to update image in transaction: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		return tx.First(&image, id).Error
	})
	if err != nil {
		return nil, err
	}
	return &image, nil
}

// ReferencedNames 返回策略下被记录引用的路径与文件名
// 对账时用于判断后端对象是否仍有记录指向
func (r *Repository) ReferencedNames(strategyID uint, candidates []string) (map[string]struct{}, error) {
	refs := make(map[string]struct{})
	if len(candidates) == 0 {
		return refs, nil
	}

	var rows []struct {
		Path     string
		Filename string
	}
	err := r.db.DB().Model(&models.Image{}).
		Select("path, filename").
		Where("strategy_id = ? AND (path IN ? OR filename IN ?)", strategyID, candidates, baseNames(candidates)).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	for _, row := range rows {
		refs[row.Path] = struct{}{}
		refs[row.Filename] = struct{}{}
	}
	return refs, nil
}

// AddressHashesByStrategy 返回策略下全部地址哈希，用于识别按哈希命名的对象
func (r *Repository) AddressHashesByStrategy(strategyID uint) (map[string]struct{}, error) {
	var hashes []string
	err := r.db.DB().Model(&models.Image{}).Where("strategy_id = ?", strategyID).Pluck("address_hash", &hashes).Error
	if err != nil {
		return nil, err
	}
	set := make(map[string]struct{}, len(hashes))
	for _, h := range hashes {
		set[h] = struct{}{}
	}
	return set, nil
}

func baseNames(paths []string) []string {
	names := make([]string, 0, len(paths))
	for _, p := range paths {
		if i := strings.LastIndex(p, "/"); i >= 0 {
			names = append(names, p[i+1:])
		} else {
			names = append(names, p)
		}
	}
	return names
}

// WithContext 返回带上下文的仓库
func (r *Repository) WithContext(ctx context.Context) *Repository {
	return &Repository{db: &contextProvider{Provider: r.db, ctx: ctx}}
}

// DB 返回底层 *gorm.DB 实例
func (r *Repository) DB() *gorm.DB {
	return r.db.DB()
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
