package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/aliyun/aliyun-oss-go-sdk/oss"
)

// AliyunConfig 阿里云 OSS 配置
type AliyunConfig struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
	Bucket          string `mapstructure:"bucket"`
	PathPrefix      string `mapstructure:"path_prefix"`
	CustomDomain    string `mapstructure:"custom_domain"`
}

// AliyunStorage 阿里云 OSS 存储
type AliyunStorage struct {
	bucket       *oss.Bucket
	pathPrefix   string
	customDomain string
	bucketName   string
	endpoint     string
}

// NewAliyunStorage 创建阿里云 OSS 存储
func NewAliyunStorage(cfg AliyunConfig) (*AliyunStorage, error) {
	if cfg.Bucket == "" {
		return nil, fmt.Errorf("aliyun oss bucket is required")
	}
	if cfg.AccessKeyID == "" || cfg.AccessKeySecret == "" {
		return nil, fmt.Errorf("aliyun oss access key is required")
	}
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("aliyun oss endpoint is required")
	}

	client, err := oss.New(cfg.Endpoint, cfg.AccessKeyID, cfg.AccessKeySecret)
	if err != nil {
		return nil, fmt.Errorf("failed to create aliyun oss client: %w", err)
	}

	bucket, err := client.Bucket(cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("failed to get aliyun oss bucket: %w", err)
	}

	return &AliyunStorage{
		bucket:       bucket,
		pathPrefix:   cfg.PathPrefix,
		customDomain: cfg.CustomDomain,
		bucketName:   cfg.Bucket,
		endpoint:     cfg.Endpoint,
	}, nil
}

// Put 上传对象
func (s *AliyunStorage) Put(ctx context.Context, storagePath string, data []byte, contentType string) (*PutResult, error) {
	key := joinKey(s.pathPrefix, storagePath)

	opts := []oss.Option{oss.WithContext(ctx)}
	if contentType != "" {
		opts = append(opts, oss.ContentType(contentType))
	}

	if err := s.bucket.PutObject(key, bytes.NewReader(data), opts...); err != nil {
		return nil, fmt.Errorf("failed to upload object '%s' to aliyun oss: %w", key, err)
	}

	return &PutResult{Path: storagePath, URL: s.objectURL(key)}, nil
}

// Get 获取对象
func (s *AliyunStorage) Get(ctx context.Context, storagePath string) (*Object, error) {
	key := joinKey(s.pathPrefix, storagePath)

	body, err := s.bucket.GetObject(key, oss.WithContext(ctx))
	if err != nil {
		if isOSSNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object '%s' from aliyun oss: %w", key, err)
	}

	return &Object{Reader: body, Size: -1}, nil
}

// Delete 删除对象，OSS 对不存在的键返回 204
func (s *AliyunStorage) Delete(ctx context.Context, storagePath string) error {
	key := joinKey(s.pathPrefix, storagePath)

	if err := s.bucket.DeleteObject(key, oss.WithContext(ctx)); err != nil && !isOSSNotFound(err) {
		return fmt.Errorf("failed to delete object '%s' from aliyun oss: %w", key, err)
	}
	return nil
}

// Exists 检查对象是否存在
func (s *AliyunStorage) Exists(ctx context.Context, storagePath string) (bool, error) {
	exists, err := s.bucket.IsObjectExist(joinKey(s.pathPrefix, storagePath), oss.WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("failed to check aliyun oss object: %w", err)
	}
	return exists, nil
}

// Health 检查存储桶可访问
func (s *AliyunStorage) Health(ctx context.Context) error {
	_, err := s.bucket.ListObjects(oss.MaxKeys(1), oss.WithContext(ctx))
	return err
}

// Type 返回存储类型
func (s *AliyunStorage) Type() string {
	return "aliyun"
}

// objectURL 自定义域名优先，否则使用 bucket.endpoint 虚拟主机地址
func (s *AliyunStorage) objectURL(key string) string {
	if s.customDomain != "" {
		return publicURL(s.customDomain, key)
	}
	host := strings.TrimPrefix(strings.TrimPrefix(s.endpoint, "https://"), "http://")
	return publicURL(s.bucketName+"."+host, key)
}

func isOSSNotFound(err error) bool {
	var svcErr oss.ServiceError
	if errors.As(err, &svcErr) {
		return svcErr.StatusCode == http.StatusNotFound
	}
	var svcErrPtr *oss.ServiceError
	if errors.As(err, &svcErrPtr) {
		return svcErrPtr.StatusCode == http.StatusNotFound
	}
	return false
}
