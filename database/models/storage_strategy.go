package models

import "time"

// StorageType 存储后端类型
type StorageType string

const (
	StorageTypeLocal    StorageType = "local"
	StorageTypeOneDrive StorageType = "onedrive"
	StorageTypeAliyun   StorageType = "aliyun"
	StorageTypeTencent  StorageType = "tencent"
	StorageTypeGitHub   StorageType = "github"
	StorageTypeS3       StorageType = "s3"
	StorageTypeWebDAV   StorageType = "webdav"
)

// StorageStrategy 存储策略，由外部管理工具维护，上传链路只读
type StorageStrategy struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Name string      `gorm:"size:100;not null" json:"name"`
	Type StorageType `gorm:"size:32;not null;index" json:"type"`

	// ConfigJSON 加密后的连接参数，永不序列化到响应
	ConfigJSON string `gorm:"type:text;not null" json:"-"`

	IsActive bool `gorm:"not null" json:"is_active"`
	// IsShared 共享/系统策略，所有用户可用
	IsShared bool `gorm:"not null" json:"is_shared"`

	Description string `gorm:"size:255" json:"description"`
}

// TableName 指定表名
func (StorageStrategy) TableName() string {
	return "storage_strategies"
}

// UserStrategy 用户与存储策略的绑定
type UserStrategy struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CreatedAt  time.Time `json:"created_at"`
	UserID     uint      `gorm:"not null;uniqueIndex:idx_user_strategy,priority:1" json:"user_id"`
	StrategyID uint      `gorm:"not null;uniqueIndex:idx_user_strategy,priority:2" json:"strategy_id"`
	IsDefault  bool      `gorm:"not null;default:false" json:"is_default"`

	Strategy StorageStrategy `gorm:"foreignKey:StrategyID" json:"-"`
}

// TableName 指定表名
func (UserStrategy) TableName() string {
	return "user_strategies"
}
