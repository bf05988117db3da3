package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/microsoft"
	"golang.org/x/time/rate"
)

const (
	// 超过此大小使用上传会话
	oneDriveSimpleUploadLimit = 4 * 1024 * 1024
	// 分片必须为 320 KiB 的整数倍
	oneDriveChunkSize = 10 * 320 * 1024

	oneDriveGlobalGraph = "https://graph.microsoft.com/v1.0"
	oneDriveChinaGraph  = "https://microsoftgraph.chinacloudapi.cn/v1.0"
)

var oneDriveChinaEndpoint = oauth2.Endpoint{
	AuthURL:  "https://login.chinacloudapi.cn/common/oauth2/v2.0/authorize",
	TokenURL: "https://login.chinacloudapi.cn/common/oauth2/v2.0/token",
}

// OneDriveConfig OneDrive 配置
type OneDriveConfig struct {
	ClientID     string `mapstructure:"client_id"`
	ClientSecret string `mapstructure:"client_secret"`
	Tenant       string `mapstructure:"tenant"`
	RefreshToken string `mapstructure:"refresh_token"`
	// Region: global | china
	Region  string `mapstructure:"region"`
	DriveID string `mapstructure:"drive_id"`
	Folder  string `mapstructure:"folder"`

	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	BurstSize         int     `mapstructure:"burst_size"`

	// APIBase / TokenURL 覆盖默认端点
	APIBase  string `mapstructure:"api_base"`
	TokenURL string `mapstructure:"token_url"`
}

// TokenRefreshFunc 刷新令牌变化时回调，由调用方负责加密持久化
type TokenRefreshFunc func(refreshToken string) error

// OneDriveStorage 基于 Microsoft Graph 的 OneDrive 存储
type OneDriveStorage struct {
	client     *http.Client
	uploadHTTP *http.Client
	driveBase  string
	folder     string
}

// graphErrorResponse Graph API 错误体
type graphErrorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

type graphUploadSession struct {
	UploadURL string `json:"uploadUrl"`
}

// rateLimitedTransport 每个请求前等待限速器许可
type rateLimitedTransport struct {
	base    http.RoundTripper
	limiter *rate.Limiter
}

func (t *rateLimitedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.limiter.Wait(req.Context()); err != nil {
		return nil, err
	}
	return t.base.RoundTrip(req)
}

// refreshingTokenSource 刷新令牌发生变化时通知持久化
type refreshingTokenSource struct {
	base      oauth2.TokenSource
	onRefresh TokenRefreshFunc

	mu   sync.Mutex
	last string
}

func (s *refreshingTokenSource) Token() (*oauth2.Token, error) {
	tok, err := s.base.Token()
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	changed := tok.RefreshToken != "" && tok.RefreshToken != s.last
	if changed {
		s.last = tok.RefreshToken
	}
	s.mu.Unlock()

	if changed && s.onRefresh != nil {
		if err := s.onRefresh(tok.RefreshToken); err != nil {
			log.Printf("[OneDrive] WARN: failed to persist refreshed token: %v", err)
		}
	}
	return tok, nil
}

// NewOneDriveStorage 创建 OneDrive 存储
func NewOneDriveStorage(cfg OneDriveConfig, onRefresh TokenRefreshFunc) (*OneDriveStorage, error) {
	if cfg.ClientID == "" || cfg.RefreshToken == "" {
		return nil, errors.New("onedrive client_id and refresh_token are required")
	}

	tenant := cfg.Tenant
	if tenant == "" {
		tenant = "common"
	}

	endpoint := microsoft.AzureADEndpoint(tenant)
	apiBase := oneDriveGlobalGraph
	if strings.EqualFold(cfg.Region, "china") {
		endpoint = oneDriveChinaEndpoint
		apiBase = oneDriveChinaGraph
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}
	if cfg.APIBase != "" {
		apiBase = strings.TrimRight(cfg.APIBase, "/")
	}

	var transport http.RoundTripper = http.DefaultTransport
	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}
	burst := cfg.BurstSize
	if burst <= 0 {
		burst = 1
	}
	transport = &rateLimitedTransport{base: transport, limiter: rate.NewLimiter(rate.Limit(rps), burst)}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint:     endpoint,
		Scopes:       []string{"Files.ReadWrite.All", "offline_access"},
	}

	// 令牌请求同样走限速 transport
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, &http.Client{Transport: transport, Timeout: 30 * time.Second})
	ts := &refreshingTokenSource{
		base:      conf.TokenSource(tokenCtx, &oauth2.Token{RefreshToken: cfg.RefreshToken}),
		onRefresh: onRefresh,
		last:      cfg.RefreshToken,
	}

	driveBase := apiBase + "/me/drive"
	if cfg.DriveID != "" {
		driveBase = apiBase + "/drives/" + url.PathEscape(cfg.DriveID)
	}

	folder := cfg.Folder
	if folder == "" {
		folder = "/Images"
	}

	return &OneDriveStorage{
		client: &http.Client{
			Transport: &oauth2.Transport{Source: oauth2.ReuseTokenSource(nil, ts), Base: transport},
			Timeout:   5 * time.Minute,
		},
		uploadHTTP: &http.Client{Transport: transport, Timeout: 5 * time.Minute},
		driveBase:  driveBase,
		folder:     strings.Trim(folder, "/"),
	}, nil
}

// itemURL 逻辑路径转换为 Graph 的 root:/path 形式
func (s *OneDriveStorage) itemURL(storagePath string) string {
	full := joinKey(s.folder, storagePath)
	segments := strings.Split(full, "/")
	for i, seg := range segments {
		segments[i] = url.PathEscape(seg)
	}
	return s.driveBase + "/root:/" + strings.Join(segments, "/")
}

// Put 小文件直接上传，大文件走上传会话
func (s *OneDriveStorage) Put(ctx context.Context, storagePath string, data []byte, contentType string) (*PutResult, error) {
	if len(data) <= oneDriveSimpleUploadLimit {
		if err := s.simpleUpload(ctx, storagePath, data, contentType); err != nil {
			return nil, err
		}
	} else {
		if err := s.sessionUpload(ctx, storagePath, data); err != nil {
			return nil, err
		}
	}
	return &PutResult{Path: storagePath}, nil
}

func (s *OneDriveStorage) simpleUpload(ctx context.Context, storagePath string, data []byte, contentType string) error {
	uploadURL := s.itemURL(storagePath) + ":/content?@microsoft.graph.conflictBehavior=replace"
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, uploadURL, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to create onedrive upload request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("onedrive upload failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return graphError("upload", resp)
	}
	return nil
}

func (s *OneDriveStorage) sessionUpload(ctx context.Context, storagePath string, data []byte) error {
	payload, _ := json.Marshal(map[string]interface{}{
		"item": map[string]string{"@microsoft.graph.conflictBehavior": "replace"},
	})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.itemURL(storagePath)+":/createUploadSession", bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create onedrive session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("onedrive create upload session failed: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return graphError("create upload session", resp)
	}
	var session graphUploadSession
	err = json.NewDecoder(resp.Body).Decode(&session)
	resp.Body.Close()
	if err != nil {
		return fmt.Errorf("failed to decode onedrive upload session: %w", err)
	}

	total := len(data)
	for start := 0; start < total; start += oneDriveChunkSize {
		end := start + oneDriveChunkSize
		if end > total {
			end = total
		}

		// 上传地址已预签名，不携带 Authorization
		chunkReq, err := http.NewRequestWithContext(ctx, http.MethodPut, session.UploadURL, bytes.NewReader(data[start:end]))
		if err != nil {
			return fmt.Errorf("failed to create onedrive chunk request: %w", err)
		}
		chunkReq.ContentLength = int64(end - start)
		chunkReq.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end-1, total))

		chunkResp, err := s.uploadHTTP.Do(chunkReq)
		if err != nil {
			return fmt.Errorf("onedrive chunk upload failed: %w", err)
		}
		if chunkResp.StatusCode < 200 || chunkResp.StatusCode >= 300 {
			err := graphError("chunk upload", chunkResp)
			chunkResp.Body.Close()
			return err
		}
		_, _ = io.Copy(io.Discard, chunkResp.Body)
		chunkResp.Body.Close()
	}
	return nil
}

// Get 下载文件内容
func (s *OneDriveStorage) Get(ctx context.Context, storagePath string) (*Object, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.itemURL(storagePath)+":/content", nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create onedrive download request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("onedrive download failed: %w", err)
	}
	if resp.StatusCode == http.StatusNotFound {
		resp.Body.Close()
		return nil, fmt.Errorf("%w: %s", ErrNotFound, storagePath)
	}
	if resp.StatusCode != http.StatusOK {
		defer resp.Body.Close()
		return nil, graphError("download", resp)
	}

	return &Object{
		Reader:      resp.Body,
		Size:        resp.ContentLength,
		ContentType: resp.Header.Get("Content-Type"),
	}, nil
}

// Delete 删除文件，204 与 404 均视为成功
func (s *OneDriveStorage) Delete(ctx context.Context, storagePath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, s.itemURL(storagePath), nil)
	if err != nil {
		return fmt.Errorf("failed to create onedrive delete request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("onedrive delete failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusOK {
		return nil
	}
	return graphError("delete", resp)
}

// Exists 检查文件是否存在
func (s *OneDriveStorage) Exists(ctx context.Context, storagePath string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.itemURL(storagePath), nil)
	if err != nil {
		return false, err
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("onedrive stat failed: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, graphError("stat", resp)
	}
}

// Health 检查 Drive 可访问
func (s *OneDriveStorage) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.driveBase, nil)
	if err != nil {
		return err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return graphError("health", resp)
	}
	return nil
}

// Type 返回存储类型
func (s *OneDriveStorage) Type() string {
	return "onedrive"
}

func graphError(op string, resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64*1024))
	var errResp graphErrorResponse
	_ = json.Unmarshal(body, &errResp)
	if errResp.Error.Message != "" {
		return fmt.Errorf("onedrive %s failed, status %d: %s", op, resp.StatusCode, errResp.Error.Message)
	}
	return fmt.Errorf("onedrive %s failed, status %d", op, resp.StatusCode)
}
