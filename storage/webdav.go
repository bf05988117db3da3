package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"
	"time"

	"github.com/studio-b12/gowebdav"
)

// WebDAVConfig WebDAV 配置结构
type WebDAVConfig struct {
	URL       string        `mapstructure:"url"`
	Username  string        `mapstructure:"username"`
	Password  string        `mapstructure:"password"`
	RootPath  string        `mapstructure:"root"`
	PublicURL string        `mapstructure:"public_url"`
	Timeout   time.Duration `mapstructure:"timeout"`
}

// WebDAVStorage WebDAV 存储实现
type WebDAVStorage struct {
	client    *gowebdav.Client
	rootPath  string
	publicURL string
}

// NewWebDAVStorage 创建 WebDAV 存储提供者
func NewWebDAVStorage(cfg WebDAVConfig) (*WebDAVStorage, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("webdav URL is required")
	}

	rootPath := cfg.RootPath
	if rootPath != "" {
		rootPath = strings.Trim(rootPath, "/")
		if rootPath != "" {
			rootPath = "/" + rootPath
		}
	}

	// 创建 WebDAV 客户端
	client := gowebdav.NewClient(cfg.URL, cfg.Username, cfg.Password)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	client.SetTimeout(timeout)

	// 验证连接
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := testWebDAVConnection(ctx, client, rootPath); err != nil {
		return nil, fmt.Errorf("webdav connection test failed: %w", err)
	}

	return &WebDAVStorage{
		client:    client,
		rootPath:  rootPath,
		publicURL: cfg.PublicURL,
	}, nil
}

// testWebDAVConnection 测试 WebDAV 连接
func testWebDAVConnection(ctx context.Context, client *gowebdav.Client, rootPath string) error {
	done := make(chan error, 1)
	go func() {
		// 尝试读取根目录验证连接
		_, err := client.ReadDir(rootPath)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// fullPath 生成完整的 WebDAV 路径
func (s *WebDAVStorage) fullPath(storagePath string) string {
	storagePath = strings.TrimLeft(storagePath, "/")
	if s.rootPath != "" {
		return s.rootPath + "/" + storagePath
	}
	return "/" + storagePath
}

// ensureParentDir 递归创建父目录
func (s *WebDAVStorage) ensureParentDir(ctx context.Context, fullPath string) error {
	// 获取父目录路径
	parentDir := path.Dir(fullPath)

	// 根目录无需创建
	if parentDir == "/" || parentDir == "." {
		return nil
	}

	// 逐级分解路径
	parts := strings.Split(strings.Trim(parentDir, "/"), "/")
	currentPath := ""

	for _, part := range parts {
		if part == "" {
			continue
		}

		if currentPath == "" {
			currentPath = "/" + part
		} else {
			currentPath = currentPath + "/" + part
		}

		// 检查目录是否存在，不存在则创建
		done := make(chan error, 1)
		go func(p string) {
			done <- s.client.Mkdir(p, os.FileMode(0755))
		}(currentPath)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case err := <-done:
			if err != nil {
				if !isCollectionExistsError(err) {
					return fmt.Errorf("failed to create directory %s: %w", currentPath, err)
				}
			}
		}
	}

	return nil
}

// isCollectionExistsError 判断是否为目录已存在的错误
func isCollectionExistsError(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	// 常见 WebDAV 服务器的 "目录已存在" 错误信息
	containsAny := []string{
		"already exists",
		"conflict",
		"Conflict",
		"409",
		"Method Not Allowed",
		"405",
	}
	for _, s := range containsAny {
		if strings.Contains(errStr, s) {
			return true
		}
	}
	return false
}

// Put 保存文件到 WebDAV
func (s *WebDAVStorage) Put(ctx context.Context, storagePath string, data []byte, contentType string) (*PutResult, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullPath := s.fullPath(storagePath)

	// 递归创建父目录
	if err := s.ensureParentDir(ctx, fullPath); err != nil {
		return nil, fmt.Errorf("failed to ensure parent directory for %s: %w", storagePath, err)
	}

	// 执行写入
	done := make(chan error, 1)
	go func() {
		done <- s.client.Write(fullPath, data, 0644)
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case err := <-done:
		if err != nil {
			return nil, fmt.Errorf("failed to write file %s: %w", storagePath, err)
		}
		return &PutResult{Path: storagePath, URL: publicURL(s.publicURL, strings.TrimLeft(fullPath, "/"))}, nil
	}
}

// Get 从 WebDAV 获取文件
func (s *WebDAVStorage) Get(ctx context.Context, storagePath string) (*Object, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	fullPath := s.fullPath(storagePath)

	type result struct {
		data []byte
		err  error
	}

	done := make(chan result, 1)
	go func() {
		data, err := s.client.Read(fullPath)
		done <- result{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-done:
		if res.err != nil {
			if gowebdav.IsErrNotFound(res.err) {
				return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
			}
			return nil, fmt.Errorf("failed to read file %s: %w", storagePath, res.err)
		}
		return &Object{Reader: io.NopCloser(bytes.NewReader(res.data)), Size: int64(len(res.data))}, nil
	}
}

// Delete 从 WebDAV 删除文件，文件不存在视为成功
func (s *WebDAVStorage) Delete(ctx context.Context, storagePath string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	fullPath := s.fullPath(storagePath)

	done := make(chan error, 1)
	go func() {
		done <- s.client.Remove(fullPath)
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		if err != nil && !gowebdav.IsErrNotFound(err) {
			return fmt.Errorf("failed to delete file %s: %w", storagePath, err)
		}
		return nil
	}
}

// Exists 检查文件是否存在
func (s *WebDAVStorage) Exists(ctx context.Context, storagePath string) (bool, error) {
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	default:
	}

	fullPath := s.fullPath(storagePath)

	type result struct {
		exists bool
		err    error
	}

	done := make(chan result, 1)
	go func() {
		_, err := s.client.Stat(fullPath)
		if err == nil {
			done <- result{exists: true}
			return
		}
		if gowebdav.IsErrNotFound(err) {
			done <- result{exists: false}
			return
		}
		done <- result{exists: false, err: err}
	}()

	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case res := <-done:
		return res.exists, res.err
	}
}

// Health 检查存储健康状态
func (s *WebDAVStorage) Health(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	done := make(chan error, 1)
	go func() {
		_, err := s.client.ReadDir(s.rootPath)
		done <- err
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		return err
	}
}

// Type 返回存储类型
func (s *WebDAVStorage) Type() string {
	return "webdav"
}
