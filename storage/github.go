package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"

	"github.com/google/go-github/v68/github"
)

// 同名文件最多尝试的后缀数
const githubMaxRenameAttempts = 10

// GitHubConfig GitHub 仓库存储配置
type GitHubConfig struct {
	Token        string `mapstructure:"token"`
	Owner        string `mapstructure:"owner"`
	Repo         string `mapstructure:"repo"`
	Branch       string `mapstructure:"branch"`
	PathPrefix   string `mapstructure:"path_prefix"`
	CustomDomain string `mapstructure:"custom_domain"`
	// APIBase 覆盖 API 地址（GitHub Enterprise 或测试）
	APIBase string `mapstructure:"api_base"`
}

// GitHubStorage 将图片作为文件提交到 GitHub 仓库
type GitHubStorage struct {
	client       *github.Client
	owner        string
	repo         string
	branch       string
	pathPrefix   string
	customDomain string
}

// NewGitHubStorage 创建 GitHub 存储
func NewGitHubStorage(cfg GitHubConfig) (*GitHubStorage, error) {
	if cfg.Token == "" || cfg.Owner == "" || cfg.Repo == "" {
		return nil, errors.New("github token, owner and repo are required")
	}

	client := github.NewClient(nil).WithAuthToken(cfg.Token)
	if cfg.APIBase != "" {
		base, err := url.Parse(strings.TrimRight(cfg.APIBase, "/") + "/")
		if err != nil {
			return nil, fmt.Errorf("invalid github api_base: %w", err)
		}
		client.BaseURL = base
	}

	branch := cfg.Branch
	if branch == "" {
		branch = "main"
	}
	prefix := cfg.PathPrefix
	if prefix == "" {
		prefix = "uploads"
	}

	return &GitHubStorage{
		client:       client,
		owner:        cfg.Owner,
		repo:         cfg.Repo,
		branch:       branch,
		pathPrefix:   prefix,
		customDomain: cfg.CustomDomain,
	}, nil
}

// Put 提交文件；目标已存在时在扩展名前追加 _1、_2 …
// 返回的 Path 为最终写入的逻辑路径
func (s *GitHubStorage) Put(ctx context.Context, storagePath string, data []byte, contentType string) (*PutResult, error) {
	finalPath, err := s.freePath(ctx, storagePath)
	if err != nil {
		return nil, err
	}

	key := joinKey(s.pathPrefix, finalPath)
	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr("upload " + path.Base(finalPath)),
		Content: data,
		Branch:  github.Ptr(s.branch),
	}
	if _, _, err := s.client.Repositories.CreateFile(ctx, s.owner, s.repo, key, opts); err != nil {
		return nil, fmt.Errorf("failed to commit '%s' to github: %w", key, err)
	}

	return &PutResult{Path: finalPath, URL: s.objectURL(key)}, nil
}

func (s *GitHubStorage) freePath(ctx context.Context, storagePath string) (string, error) {
	ext := path.Ext(storagePath)
	stem := strings.TrimSuffix(storagePath, ext)

	candidate := storagePath
	for i := 0; i <= githubMaxRenameAttempts; i++ {
		if i > 0 {
			candidate = fmt.Sprintf("%s_%d%s", stem, i, ext)
		}
		_, err := s.stat(ctx, joinKey(s.pathPrefix, candidate))
		if errors.Is(err, ErrNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
	}
	return "", fmt.Errorf("github path '%s' still taken after %d attempts", storagePath, githubMaxRenameAttempts)
}

// stat 返回文件元数据，不存在时返回 ErrNotFound
func (s *GitHubStorage) stat(ctx context.Context, key string) (*github.RepositoryContent, error) {
	file, _, _, err := s.client.Repositories.GetContents(ctx, s.owner, s.repo, key, &github.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		if isGitHubNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat github file '%s': %w", key, err)
	}
	if file == nil {
		// 路径是目录
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return file, nil
}

// Get 读取文件内容，超过内联大小的文件走原始下载
func (s *GitHubStorage) Get(ctx context.Context, storagePath string) (*Object, error) {
	key := joinKey(s.pathPrefix, storagePath)

	file, err := s.stat(ctx, key)
	if err != nil {
		return nil, err
	}

	content, err := file.GetContent()
	if err == nil && content != "" {
		return bytesObject([]byte(content), ""), nil
	}

	rc, _, err := s.client.Repositories.DownloadContents(ctx, s.owner, s.repo, key, &github.RepositoryContentGetOptions{Ref: s.branch})
	if err != nil {
		if isGitHubNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to download github file '%s': %w", key, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, fmt.Errorf("failed to read github file '%s': %w", key, err)
	}
	return &Object{Reader: io.NopCloser(bytes.NewReader(data)), Size: int64(len(data))}, nil
}

// Delete 先解析 SHA 再删除，文件不存在视为成功
func (s *GitHubStorage) Delete(ctx context.Context, storagePath string) error {
	key := joinKey(s.pathPrefix, storagePath)

	file, err := s.stat(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	opts := &github.RepositoryContentFileOptions{
		Message: github.Ptr("delete " + path.Base(storagePath)),
		SHA:     file.SHA,
		Branch:  github.Ptr(s.branch),
	}
	if _, _, err := s.client.Repositories.DeleteFile(ctx, s.owner, s.repo, key, opts); err != nil && !isGitHubNotFound(err) {
		return fmt.Errorf("failed to delete github file '%s': %w", key, err)
	}
	return nil
}

// Exists 检查文件是否存在
func (s *GitHubStorage) Exists(ctx context.Context, storagePath string) (bool, error) {
	_, err := s.stat(ctx, joinKey(s.pathPrefix, storagePath))
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// Health 检查仓库可访问
func (s *GitHubStorage) Health(ctx context.Context) error {
	_, _, err := s.client.Repositories.Get(ctx, s.owner, s.repo)
	return err
}

// Type 返回存储类型
func (s *GitHubStorage) Type() string {
	return "github"
}

func (s *GitHubStorage) objectURL(key string) string {
	if s.customDomain != "" {
		return publicURL(s.customDomain, key)
	}
	return fmt.Sprintf("https://raw.githubusercontent.com/%s/%s/%s/%s", s.owner, s.repo, s.branch, key)
}

func isGitHubNotFound(err error) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == http.StatusNotFound
	}
	return false
}
