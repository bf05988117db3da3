package image

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path"
	"strings"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cache"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/accounts"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/albums"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/images"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	imageproc "github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/image"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/metrics"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/worker"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/storage"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/format"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/generator"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/hash"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/validator"
	"gorm.io/gorm"
)

// cleanupTimeout 孤儿对象清理使用的独立超时
const cleanupTimeout = 30 * time.Second

// UploadRequest 上传请求
type UploadRequest struct {
	UserID     uint
	Filename   string
	MimeType   string
	Data       []byte
	AlbumID    *uint
	IsPrivate  bool
	Compress   bool
	Quality    int
	StrategyID *uint
	ClientIP   string
}

// UploadResult 上传结果
type UploadResult struct {
	Image    *models.Image
	URL      string
	Links    utils.LinkFormats
	Warnings []string
}

// UploadConfig 上传参数
type UploadConfig struct {
	DefaultCapacity int64
	DefaultQuality  int
	MaxWidth        int
	MaxHeight       int
}

// UploadService 图片上传服务
type UploadService struct {
	images    *images.Repository
	accounts  *accounts.Repository
	albums    *albums.Repository
	router    *storage.Router
	processor imageproc.Processor
	paths     *generator.PathGenerator
	links     *LinkBuilder
	cache     *cache.Helper
	pool      *worker.Pool
	cfg       UploadConfig

	locks *keyedMutex
	now   func() time.Time
}

// NewUploadService 创建上传服务
func NewUploadService(
	imagesRepo *images.Repository,
	accountsRepo *accounts.Repository,
	albumsRepo *albums.Repository,
	router *storage.Router,
	processor imageproc.Processor,
	links *LinkBuilder,
	cacheHelper *cache.Helper,
	pool *worker.Pool,
	cfg UploadConfig,
) *UploadService {
	return &UploadService{
		images:    imagesRepo,
		accounts:  accountsRepo,
		albums:    albumsRepo,
		router:    router,
		processor: processor,
		paths:     generator.NewPathGenerator(),
		links:     links,
		cache:     cacheHelper,
		pool:      pool,
		cfg:       cfg,
		locks:     newKeyedMutex(),
		now:       time.Now,
	}
}

// Upload 上传单张图片
// 先写存储再写记录；配额检查到记录写入之间按用户串行
func (s *UploadService) Upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	result, err := s.upload(ctx, req)
	metrics.Uploads.WithLabelValues(outcomeLabel(err)).Inc()
	return result, err
}

func (s *UploadService) upload(ctx context.Context, req UploadRequest) (*UploadResult, error) {
	if err := s.validate(ctx, req); err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(req.UserID)
	defer unlock()

	user, err := s.accounts.WithContext(ctx).EnsureUser(req.UserID, "")
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to load account", err)
	}
	capacity := user.Capacity
	if capacity <= 0 {
		capacity = s.cfg.DefaultCapacity
	}

	used, err := s.images.WithContext(ctx).SumSizeByUser(req.UserID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to compute storage usage", err)
	}
	if err := checkQuota(used, int64(len(req.Data)), capacity); err != nil {
		return nil, err
	}

	var warnings []string
	data := req.Data
	contentType := utils.NormalizeMIME(req.MimeType)
	transformed := imageproc.TransformResult{Format: imageproc.FormatFromMIME(contentType)}

	if req.Compress {
		transformed = s.processor.Transform(data, contentType, imageproc.Options{
			MaxWidth:  s.cfg.MaxWidth,
			MaxHeight: s.cfg.MaxHeight,
			Quality:   validator.ClampQuality(req.Quality, s.cfg.DefaultQuality),
		})
		if transformed.Warning != nil {
			log.Printf("[Upload] WARN: transform skipped for %s: %v", utils.SanitizeLogMessage(req.Filename), transformed.Warning)
			warnings = append(warnings, "image kept unprocessed: "+transformed.Warning.Error())
		}
		if transformed.Applied {
			data = transformed.Data
			contentType = "image/" + transformed.Format
			// 处理后可能变大
			if err := checkQuota(used, int64(len(data)), capacity); err != nil {
				return nil, err
			}
		}
	}

	width, height := transformed.Width, transformed.Height
	if width == 0 || height == 0 {
		if w, h, _, err := imageproc.Probe(data); err == nil {
			width, height = w, h
		}
	}

	digest := hash.Sum(data)
	// 每条记录持有独立的字节，重复内容只提示不复用
	if dup, err := s.images.WithContext(ctx).FindDuplicateByMD5(req.UserID, digest.MD5); err == nil {
		warnings = append(warnings, fmt.Sprintf("duplicate of image #%d", dup.ID))
	} else if !errors.Is(err, gorm.ErrRecordNotFound) {
		log.Printf("[Upload] WARN: duplicate lookup for user %d failed: %v", req.UserID, err)
	}

	binding, err := s.router.Resolve(ctx, req.UserID, req.StrategyID)
	if err != nil {
		return nil, err
	}

	ext := generator.ExtensionFor(transformed.Format, contentType, req.Filename)
	ids := s.paths.GenerateOriginalIdentifiers(digest.SHA3, ext, s.now())

	put, err := binding.Provider.Put(ctx, ids.StoragePath, data, contentType)
	if err != nil {
		log.Printf("[Upload] ERROR: put to %s strategy %d failed: %v", binding.Type, binding.StrategyID, err)
		return nil, errs.Wrap(errs.KindStorageWriteFailed, "failed to write image to storage", err)
	}

	// 后端可能改写路径（如 GitHub 重名）
	storedPath := put.Path
	if storedPath == "" {
		storedPath = ids.StoragePath
	}
	filename := path.Base(storedPath)

	if err := ctx.Err(); err != nil {
		s.discardBlob(binding, storedPath, "request cancelled")
		return nil, errs.Wrap(errs.KindInternal, "upload cancelled", err)
	}

	record := &models.Image{
		UserID:       req.UserID,
		AlbumID:      req.AlbumID,
		StrategyID:   binding.StrategyID,
		ContentKey:   models.ContentKeyFromFilename(filename),
		Path:         storedPath,
		Filename:     filename,
		OriginalName: originalName(req.Filename, filename),
		Size:         int64(len(data)),
		MimeType:     contentType,
		Extension:    strings.TrimPrefix(ext, "."),
		Width:        width,
		Height:       height,
		MD5:          digest.MD5,
		AddressHash:  digest.SHA3,
		IsPublic:     !req.IsPrivate,
		UploadIP:     req.ClientIP,
	}

	if err := s.images.WithContext(ctx).SaveImage(record); err != nil {
		s.discardBlob(binding, storedPath, "record insert failed")
		return nil, errs.Wrap(errs.KindInternal, "failed to save image metadata", err)
	}

	warnings = append(warnings, s.bumpCounters(ctx, record)...)
	s.warmCache(record)
	metrics.UploadBytes.Add(float64(record.Size))

	url := put.URL
	if url == "" {
		url = s.links.SecureURL(record)
	}

	log.Printf("[Upload] user %d stored %s (%s) on %s strategy %d",
		req.UserID, storedPath, format.HumanReadableSize(record.Size), binding.Type, binding.StrategyID)

	return &UploadResult{
		Image:    record,
		URL:      url,
		Links:    utils.BuildLinkFormats(url, record.OriginalName),
		Warnings: warnings,
	}, nil
}

func (s *UploadService) validate(ctx context.Context, req UploadRequest) error {
	if req.UserID == 0 {
		return errs.Unauthenticated("authentication required")
	}
	if len(req.Data) == 0 {
		return errs.InvalidInput("file is empty")
	}
	if !validator.IsImageMIME(req.MimeType) {
		return errs.InvalidInput("only image files are accepted")
	}
	if req.AlbumID != nil {
		owned, err := s.albums.WithContext(ctx).IsOwnedBy(*req.AlbumID, req.UserID)
		if err != nil {
			return errs.Wrap(errs.KindInternal, "failed to check album", err)
		}
		if !owned {
			return errs.InvalidInput("album not found")
		}
	}
	return nil
}

func checkQuota(used, incoming, capacity int64) error {
	if used+incoming > capacity {
		return errs.New(errs.KindQuotaExceeded, fmt.Sprintf("storage quota exceeded: %s used of %s",
			format.HumanReadableSize(used), format.HumanReadableSize(capacity)))
	}
	return nil
}

// bumpCounters 计数缓存尽力更新，失败只记录警告
func (s *UploadService) bumpCounters(ctx context.Context, record *models.Image) []string {
	var warnings []string
	if err := s.accounts.WithContext(ctx).IncrementImageCount(record.UserID, 1); err != nil {
		log.Printf("[Upload] WARN: user %d image counter not updated: %v", record.UserID, err)
		warnings = append(warnings, "user image counter not updated")
	}
	if record.AlbumID != nil {
		if err := s.albums.WithContext(ctx).IncrementImageCount(*record.AlbumID, 1); err != nil {
			log.Printf("[Upload] WARN: album %d image counter not updated: %v", *record.AlbumID, err)
			warnings = append(warnings, "album image counter not updated")
		}
	}
	return warnings
}

// discardBlob 在独立上下文中删除已写入但没有记录的对象
func (s *UploadService) discardBlob(binding *storage.Binding, storedPath, reason string) {
	cleanup := func(ctx context.Context) {
		if err := binding.Provider.Delete(ctx, storedPath); err != nil {
			log.Printf("[Upload] ERROR: orphan %s on strategy %d not removed (%s): %v", storedPath, binding.StrategyID, reason, err)
			return
		}
		log.Printf("[Upload] removed orphan %s on strategy %d (%s)", storedPath, binding.StrategyID, reason)
	}

	if s.pool != nil && s.pool.SubmitDetached(cleanupTimeout, cleanup) {
		return
	}
	utils.SafeGo(func() {
		ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
		defer cancel()
		cleanup(ctx)
	})
}

func (s *UploadService) warmCache(record *models.Image) {
	if s.cache == nil {
		return
	}
	snapshot := *record
	warm := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.cache.CacheImage(ctx, &snapshot); err != nil {
			utils.LogIfDevf("[Upload] cache warm for image %d failed: %v", snapshot.ID, err)
		}
	}
	if s.pool == nil || !s.pool.Submit(warm) {
		warm()
	}
}

func originalName(name, fallback string) string {
	name = strings.TrimSpace(path.Base(strings.ReplaceAll(name, "\\", "/")))
	if name == "" || name == "." || name == "/" {
		return fallback
	}
	if len(name) > 255 {
		name = name[:255]
	}
	return name
}

func outcomeLabel(err error) string {
	if err == nil {
		return "ok"
	}
	switch errs.KindOf(err) {
	case errs.KindQuotaExceeded:
		return "quota"
	case errs.KindStorageWriteFailed:
		return "storage_error"
	case errs.KindInvalidInput, errs.KindStrategyNotFound:
		return "invalid"
	default:
		return "error"
	}
}
