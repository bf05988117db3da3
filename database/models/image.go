package models

import (
	"path"
	"strings"
	"time"
)

// Image 图片记录
// Path 写入后对该存储后端不可变，迁移后端需要新建记录
type Image struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	UserID  uint  `gorm:"not null;index:idx_images_user_strategy,priority:1" json:"user_id"`
	AlbumID *uint `gorm:"index" json:"album_id,omitempty"`

	// StrategyID 写入该记录的存储策略
	StrategyID uint `gorm:"not null;index:idx_images_user_strategy,priority:2" json:"strategy_id"`

	ContentKey   string `gorm:"size:255;not null;index" json:"content_key"`
	Path         string `gorm:"size:1024;not null" json:"path"`
	Filename     string `gorm:"size:255;not null" json:"filename"`
	OriginalName string `gorm:"size:255;not null" json:"original_name"`

	Size      int64  `gorm:"not null" json:"size"`
	MimeType  string `gorm:"size:100;not null" json:"mime_type"`
	Extension string `gorm:"size:16;not null" json:"extension"`
	Width     int    `gorm:"not null;default:0" json:"width"`
	Height    int    `gorm:"not null;default:0" json:"height"`

	MD5         string `gorm:"size:32;not null;index" json:"md5"`
	AddressHash string `gorm:"size:64;not null;index" json:"hash"`

	IsPublic bool   `gorm:"not null" json:"is_public"`
	UploadIP string `gorm:"size:64" json:"-"`
}

// ContentKeyFromFilename 由最终存储文件名派生内容键（不保证唯一）
func ContentKeyFromFilename(filename string) string {
	base := path.Base(filename)
	return strings.TrimSuffix(base, path.Ext(base))
}

// OwnedBy 判断记录是否属于指定用户
func (i *Image) OwnedBy(userID uint) bool {
	return userID != 0 && i.UserID == userID
}
