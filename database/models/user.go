package models

import (
	"time"
)

// User 用户的存储相关属性，身份认证由外部系统负责
type User struct {
	ID        uint      `gorm:"primaryKey;autoIncrement" json:"id"`
	Username  string    `gorm:"size:64;unique;not null" json:"username"`
	Role      string    `gorm:"size:16;not null;default:user" json:"role"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Capacity 存储容量（字节），0 表示使用系统默认值
	Capacity int64 `gorm:"not null;default:0" json:"capacity"`

	// ImageCount 计数缓存，权威数量以 COUNT(*) 为准
	ImageCount int64 `gorm:"not null;default:0" json:"image_count"`
}
