package storage

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"fmt"
	"log"
	"net"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// S3Config S3 兼容对象存储配置
type S3Config struct {
	Endpoint        string `mapstructure:"endpoint"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	SecretAccessKey string `mapstructure:"secret_access_key"`
	Bucket          string `mapstructure:"bucket"`
	Region          string `mapstructure:"region"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	PathPrefix      string `mapstructure:"path_prefix"`
	PublicURL       string `mapstructure:"public_url"`
	// SkipBucketCheck 为 true 时不在创建时探测/创建存储桶
	SkipBucketCheck bool `mapstructure:"skip_bucket_check"`
}

// S3Storage 基于 minio-go 的 S3 兼容存储
type S3Storage struct {
	client     *minio.Client
	bucketName string
	pathPrefix string
	publicURL  string
}

// mustGetSystemCertPool 获取系统证书池
func mustGetSystemCertPool() *x509.CertPool {
	pool, err := x509.SystemCertPool()
	if err != nil {
		log.Printf("[Storage] Failed to load system cert pool: %v", err)
		return x509.NewCertPool()
	}
	return pool
}

// NewS3Storage 创建 S3 兼容存储
func NewS3Storage(cfg S3Config) (*S3Storage, error) {
	if cfg.Endpoint == "" || cfg.Bucket == "" {
		return nil, fmt.Errorf("s3 endpoint and bucket are required")
	}

	endpoint := cfg.Endpoint
	if strings.HasPrefix(endpoint, "https://") {
		endpoint = strings.TrimPrefix(endpoint, "https://")
		cfg.UseSSL = true
	} else {
		endpoint = strings.TrimPrefix(endpoint, "http://")
	}

	transport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:          256,
		MaxIdleConnsPerHost:   16,
		IdleConnTimeout:       time.Minute,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 10 * time.Second,
		DisableCompression:    true,
	}

	// SSL
	if cfg.UseSSL {
		transport.TLSClientConfig = &tls.Config{
			MinVersion: tls.VersionTLS12,
		}
		if f := os.Getenv("SSL_CERT_FILE"); f != "" {
			rootCAs := mustGetSystemCertPool()
			data, err := os.ReadFile(f)
			if err == nil {
				rootCAs.AppendCertsFromPEM(data)
			}
			transport.TLSClientConfig.RootCAs = rootCAs
		}
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:     credentials.NewStaticV4(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		Secure:    cfg.UseSSL,
		Region:    cfg.Region,
		Transport: transport,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize s3 client: %w", err)
	}

	if !cfg.SkipBucketCheck {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		exists, err := client.BucketExists(ctx, cfg.Bucket)
		if err != nil {
			return nil, fmt.Errorf("failed to check if bucket '%s' exists: %w", cfg.Bucket, err)
		}
		if !exists {
			if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
				return nil, fmt.Errorf("failed to create bucket '%s': %w", cfg.Bucket, err)
			}
			log.Printf("[Storage] Successfully created bucket: %s", cfg.Bucket)
		}
	}

	return &S3Storage{
		client:     client,
		bucketName: cfg.Bucket,
		pathPrefix: cfg.PathPrefix,
		publicURL:  cfg.PublicURL,
	}, nil
}

// Put 上传对象
func (s *S3Storage) Put(ctx context.Context, storagePath string, data []byte, contentType string) (*PutResult, error) {
	key := joinKey(s.pathPrefix, storagePath)
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	_, err := s.client.PutObject(ctx, s.bucketName, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: contentType,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload object '%s' to s3: %w", key, err)
	}

	return &PutResult{Path: storagePath, URL: publicURL(s.publicURL, key)}, nil
}

// Get 获取对象
func (s *S3Storage) Get(ctx context.Context, storagePath string) (*Object, error) {
	key := joinKey(s.pathPrefix, storagePath)

	// GetObject 是惰性的，先 Stat 以得到 404
	info, err := s.client.StatObject(ctx, s.bucketName, key, minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat object '%s': %w", key, err)
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to get object stream from s3 for '%s': %w", key, err)
	}

	return &Object{Reader: obj, Size: info.Size, ContentType: info.ContentType}, nil
}

// Delete 删除对象，S3 对不存在的键同样返回成功
func (s *S3Storage) Delete(ctx context.Context, storagePath string) error {
	key := joinKey(s.pathPrefix, storagePath)

	err := s.client.RemoveObject(ctx, s.bucketName, key, minio.RemoveObjectOptions{})
	if err != nil && !isMinioNotFound(err) {
		return fmt.Errorf("failed to delete object '%s' from s3: %w", key, err)
	}
	return nil
}

// Exists 检查对象是否存在
func (s *S3Storage) Exists(ctx context.Context, storagePath string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucketName, joinKey(s.pathPrefix, storagePath), minio.StatObjectOptions{})
	if err != nil {
		if isMinioNotFound(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Health 检查存储桶可访问
func (s *S3Storage) Health(ctx context.Context) error {
	ok, err := s.client.BucketExists(ctx, s.bucketName)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("bucket '%s' does not exist", s.bucketName)
	}
	return nil
}

// Type 返回存储类型
func (s *S3Storage) Type() string {
	return "s3"
}

// Location 端点、桶与前缀
func (s *S3Storage) Location() string {
	loc := "s3://" + strings.ToLower(s.client.EndpointURL().Host) + "/" + s.bucketName + "/"
	if prefix := strings.Trim(s.pathPrefix, "/"); prefix != "" {
		loc += prefix + "/"
	}
	return loc
}

// Walk 遍历前缀下的全部对象
func (s *S3Storage) Walk(ctx context.Context, fn WalkFunc) error {
	prefix := strings.Trim(s.pathPrefix, "/")
	if prefix != "" {
		prefix += "/"
	}

	// 提前返回时结束列举协程
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return obj.Err
		}
		if strings.HasSuffix(obj.Key, "/") {
			continue
		}
		if err := fn(strings.TrimPrefix(obj.Key, prefix), obj.LastModified); err != nil {
			return err
		}
	}
	return nil
}

func isMinioNotFound(err error) bool {
	resp := minio.ToErrorResponse(err)
	return resp.Code == "NoSuchKey" || resp.StatusCode == http.StatusNotFound
}
