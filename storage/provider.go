package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"path"
	"strings"
	"time"
)

// ErrNotFound 对象不存在，各后端需将自身的 404 形态映射为此错误
var ErrNotFound = errors.New("storage: object not found")

// PutResult 写入结果
// URL 为空表示该后端没有可直接访问的公开地址
type PutResult struct {
	Path string
	URL  string
}

// Object 读取到的对象，调用方负责关闭 Reader
type Object struct {
	Reader      io.ReadCloser
	Size        int64
	ContentType string
}

// Provider 存储提供者接口 - 依赖倒置的核心抽象
// 定义了存储层的基本操作，所有存储实现必须遵循此接口
type Provider interface {
	// Put 写入对象，path 为逻辑路径
	Put(ctx context.Context, path string, data []byte, contentType string) (*PutResult, error)

	// Get 读取对象，不存在时返回 ErrNotFound
	Get(ctx context.Context, path string) (*Object, error)

	// Delete 删除对象，对象不存在视为成功
	Delete(ctx context.Context, path string) error

	// Exists 检查对象是否存在
	Exists(ctx context.Context, path string) (bool, error)

	// Health 检查存储健康状态
	Health(ctx context.Context) error

	// Type 返回存储类型标识
	Type() string
}

// WalkFunc 遍历回调
type WalkFunc func(path string, modTime time.Time) error

// Lister 可枚举对象的后端，用于孤儿对象对账
type Lister interface {
	Walk(ctx context.Context, fn WalkFunc) error
	// Location 物理位置标识，以 "/" 结尾，如 file:///srv/img/ 或 s3://host/bucket/prefix/
	Location() string
}

// LocationsOverlap 两个位置相同或一个嵌套在另一个之下
func LocationsOverlap(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.HasPrefix(a, b) || strings.HasPrefix(b, a)
}

// joinKey 拼接对象键前缀
func joinKey(prefix, p string) string {
	p = strings.TrimLeft(p, "/")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return p
	}
	return prefix + "/" + p
}

// publicURL 拼接自定义域名与对象键
func publicURL(base, key string) string {
	if base == "" {
		return ""
	}
	if !strings.Contains(base, "://") {
		base = "https://" + base
	}
	return strings.TrimRight(base, "/") + "/" + path.Clean("/"+key)[1:]
}

// bytesObject 包装 []byte 为 Object
func bytesObject(data []byte, contentType string) *Object {
	return &Object{
		Reader:      io.NopCloser(bytes.NewReader(data)),
		Size:        int64(len(data)),
		ContentType: contentType,
	}
}
