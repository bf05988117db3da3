package storage

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/tencentyun/cos-go-sdk-v5"
)

// TencentConfig 腾讯云 COS 配置
type TencentConfig struct {
	Bucket       string `mapstructure:"bucket"`
	Region       string `mapstructure:"region"`
	SecretID     string `mapstructure:"secret_id"`
	SecretKey    string `mapstructure:"secret_key"`
	PathPrefix   string `mapstructure:"path_prefix"`
	CustomDomain string `mapstructure:"custom_domain"`
	// BucketURL 显式指定存储桶地址，为空时由 bucket + region 推导
	BucketURL string `mapstructure:"bucket_url"`
}

// TencentStorage 腾讯云 COS 存储
type TencentStorage struct {
	client       *cos.Client
	bucketURL    *url.URL
	pathPrefix   string
	customDomain string
}

// NewTencentStorage 创建腾讯云 COS 存储
func NewTencentStorage(cfg TencentConfig) (*TencentStorage, error) {
	if cfg.SecretID == "" || cfg.SecretKey == "" {
		return nil, fmt.Errorf("tencent cos secret is required")
	}

	var (
		u   *url.URL
		err error
	)
	if cfg.BucketURL != "" {
		u, err = url.Parse(cfg.BucketURL)
	} else {
		if cfg.Bucket == "" || cfg.Region == "" {
			return nil, fmt.Errorf("tencent cos bucket and region are required")
		}
		u, err = cos.NewBucketURL(cfg.Bucket, cfg.Region, true)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse tencent cos bucket url: %w", err)
	}

	client := cos.NewClient(&cos.BaseURL{BucketURL: u}, &http.Client{
		Timeout: 100 * time.Second,
		Transport: &cos.AuthorizationTransport{
			SecretID:  cfg.SecretID,
			SecretKey: cfg.SecretKey,
		},
	})

	return &TencentStorage{
		client:       client,
		bucketURL:    u,
		pathPrefix:   cfg.PathPrefix,
		customDomain: cfg.CustomDomain,
	}, nil
}

// Put 上传对象
func (s *TencentStorage) Put(ctx context.Context, storagePath string, data []byte, contentType string) (*PutResult, error) {
	key := joinKey(s.pathPrefix, storagePath)

	opt := &cos.ObjectPutOptions{
		ObjectPutHeaderOptions: &cos.ObjectPutHeaderOptions{
			ContentType:   contentType,
			ContentLength: int64(len(data)),
		},
	}
	if _, err := s.client.Object.Put(ctx, key, bytes.NewReader(data), opt); err != nil {
		return nil, fmt.Errorf("failed to upload object '%s' to tencent cos: %w", key, err)
	}

	return &PutResult{Path: storagePath, URL: s.objectURL(key)}, nil
}

// Get 获取对象
func (s *TencentStorage) Get(ctx context.Context, storagePath string) (*Object, error) {
	key := joinKey(s.pathPrefix, storagePath)

	resp, err := s.client.Object.Get(ctx, key, nil)
	if err != nil {
		if cos.IsNotFoundError(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to get object '%s' from tencent cos: %w", key, err)
	}

	return &Object{
		Reader:      resp.Body,
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// Delete 删除对象
func (s *TencentStorage) Delete(ctx context.Context, storagePath string) error {
	key := joinKey(s.pathPrefix, storagePath)

	if _, err := s.client.Object.Delete(ctx, key); err != nil && !cos.IsNotFoundError(err) {
		return fmt.Errorf("failed to delete object '%s' from tencent cos: %w", key, err)
	}
	return nil
}

// Exists 检查对象是否存在
func (s *TencentStorage) Exists(ctx context.Context, storagePath string) (bool, error) {
	ok, err := s.client.Object.IsExist(ctx, joinKey(s.pathPrefix, storagePath))
	if err != nil {
		return false, fmt.Errorf("failed to check tencent cos object: %w", err)
	}
	return ok, nil
}

// Health 检查存储桶可访问
func (s *TencentStorage) Health(ctx context.Context) error {
	_, err := s.client.Bucket.Head(ctx)
	return err
}

// Type 返回存储类型
func (s *TencentStorage) Type() string {
	return "tencent"
}

func (s *TencentStorage) objectURL(key string) string {
	if s.customDomain != "" {
		return publicURL(s.customDomain, key)
	}
	return publicURL(s.bucketURL.Scheme+"://"+s.bucketURL.Host, key)
}
