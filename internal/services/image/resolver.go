package image

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"path"
	"strconv"
	"strings"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cache"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/images"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/metrics"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/storage"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/hash"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/pool"
	"golang.org/x/sync/singleflight"
	"gorm.io/gorm"
)

// DefaultContentType 记录缺少 MIME 时使用
const DefaultContentType = "application/octet-stream"

// maxStoredPathLength 与 images.path 列宽一致
const maxStoredPathLength = 1024

// fallbackExtensions 按哈希命名回退时依次尝试的扩展名
var fallbackExtensions = []string{"jpg", "jpeg", "png", "gif", "webp"}

// Requester 由外部认证给出的请求者身份
type Requester struct {
	UserID        uint
	Authenticated bool
}

// Resolved 通过可见性检查的记录
type Resolved struct {
	Image        *models.Image
	ETag         string
	LastModified time.Time
}

// Payload 读取到的字节
type Payload struct {
	Data        []byte
	ContentType string
	SourcePath  string
	// Fallback 命中的回退步骤，1 为记录中的路径
	Fallback int
}

// Resolver 检索解析器：查记录、查可见性、找字节
type Resolver struct {
	images *images.Repository
	router *storage.Router
	cache  *cache.Helper
	links  *LinkBuilder
	group  singleflight.Group
}

// NewResolver 创建检索解析器
func NewResolver(imagesRepo *images.Repository, router *storage.Router, cacheHelper *cache.Helper, links *LinkBuilder) *Resolver {
	return &Resolver{
		images: imagesRepo,
		router: router,
		cache:  cacheHelper,
		links:  links,
	}
}

// ByID 按主键检索
func (r *Resolver) ByID(ctx context.Context, id uint, req Requester) (*Resolved, error) {
	img, err := r.loadByID(ctx, id)
	if err != nil {
		return nil, err
	}
	return r.authorize(img, req, idETag(img))
}

// ByHash 按地址哈希检索，64 位精确匹配，32 位前缀匹配
func (r *Resolver) ByHash(ctx context.Context, lookup string, req Requester) (*Resolved, error) {
	if !hash.ValidLookupHash(lookup) {
		return nil, errs.InvalidInput("invalid hash format")
	}
	img, err := r.loadByHash(ctx, strings.ToLower(lookup))
	if err != nil {
		return nil, err
	}
	return r.authorize(img, req, hashETag(img))
}

// ByToken 按加密 token 检索，解码失败与记录不存在不做区分
func (r *Resolver) ByToken(ctx context.Context, token string, req Requester) (*Resolved, error) {
	id, ok := r.links.DecodeToken(token)
	if !ok {
		return nil, errs.New(errs.KindInvalidOrExpiredLink, "invalid or expired link")
	}
	img, err := r.loadByID(ctx, id)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil, errs.New(errs.KindInvalidOrExpiredLink, "invalid or expired link")
		}
		return nil, err
	}
	return r.authorize(img, req, idETag(img))
}

// ByShareCode 按短码检索，短码中的所有者必须与记录一致
func (r *Resolver) ByShareCode(ctx context.Context, code string, req Requester) (*Resolved, error) {
	invalid := errs.New(errs.KindInvalidOrExpiredLink, "invalid or expired link")

	id, ownerID, ok := r.links.DecodeShareCode(code)
	if !ok {
		return nil, invalid
	}
	img, err := r.loadByID(ctx, id)
	if err != nil {
		if errs.Is(err, errs.KindNotFound) {
			return nil, invalid
		}
		return nil, err
	}
	if img.UserID != ownerID {
		return nil, invalid
	}
	return r.authorize(img, req, idETag(img))
}

// ByPath 按存储相对路径检索，路径需为规范形式
func (r *Resolver) ByPath(ctx context.Context, rawPath string, req Requester) (*Resolved, error) {
	p := strings.TrimPrefix(rawPath, "/")
	if p == "" || len(p) > maxStoredPathLength || strings.Contains(p, "\\") ||
		path.Clean(p) != p || p == ".." || strings.HasPrefix(p, "../") {
		return nil, errs.InvalidInput("invalid image path")
	}

	v, err, _ := r.group.Do("path:"+p, func() (interface{}, error) {
		return r.images.WithContext(ctx).GetImageByPath(p)
	})
	if err != nil {
		return nil, translateLookupErr(err)
	}
	img := *v.(*models.Image)
	return r.authorize(&img, req, idETag(&img))
}

// Open 依次尝试：记录路径、根目录下的文件名、以地址哈希命名的常见扩展名
func (r *Resolver) Open(ctx context.Context, resolved *Resolved) (*Payload, error) {
	img := resolved.Image

	binding, err := r.router.ForStrategy(ctx, img.StrategyID)
	if err != nil {
		if errs.Is(err, errs.KindStrategyNotFound) {
			log.Printf("[Retrieval] ERROR: image %d references missing strategy %d", img.ID, img.StrategyID)
			return nil, errs.Wrap(errs.KindFileMissingOnDisk, "image file is missing", err)
		}
		return nil, err
	}

	for _, c := range fallbackCandidates(img) {
		obj, err := binding.Provider.Get(ctx, c.path)
		if err != nil {
			if utils.IsContextCanceled(err) || ctx.Err() != nil {
				return nil, errs.Wrap(errs.KindInternal, "retrieval cancelled", err)
			}
			if !errors.Is(err, storage.ErrNotFound) {
				log.Printf("[Retrieval] WARN: image %d step %d read %s failed: %v", img.ID, c.step, c.path, err)
			}
			continue
		}

		data, err := readObject(obj)
		if err != nil {
			log.Printf("[Retrieval] WARN: image %d step %d read %s failed: %v", img.ID, c.step, c.path, err)
			continue
		}

		metrics.RetrievalFallback.WithLabelValues(strconv.Itoa(c.step)).Inc()
		if c.step > 1 {
			log.Printf("[Retrieval] WARN: image %d served from fallback step %d (%s)", img.ID, c.step, c.path)
		}

		contentType := img.MimeType
		if contentType == "" {
			contentType = utils.ContentTypeForPath(c.path)
		}
		if contentType == "" {
			contentType = DefaultContentType
		}
		return &Payload{
			Data:        data,
			ContentType: contentType,
			SourcePath:  c.path,
			Fallback:    c.step,
		}, nil
	}

	metrics.RetrievalFallback.WithLabelValues("miss").Inc()
	log.Printf("[Retrieval] ERROR: bytes for image %d missing on %s strategy %d (path %s)",
		img.ID, binding.Type, img.StrategyID, utils.SanitizeLogMessage(img.Path))
	return nil, errs.New(errs.KindFileMissingOnDisk, "image file is missing")
}

// Invalidate 使记录的元数据缓存失效
func (r *Resolver) Invalidate(ctx context.Context, img *models.Image) {
	if r.cache == nil || img == nil {
		return
	}
	if err := r.cache.DeleteImage(ctx, img); err != nil {
		log.Printf("[Retrieval] WARN: cache for image %d not invalidated: %v", img.ID, err)
	}
}

func (r *Resolver) authorize(img *models.Image, req Requester, etag string) (*Resolved, error) {
	if !CanView(img, req) {
		return nil, errs.AccessDenied("this image is private")
	}
	return &Resolved{
		Image:        img,
		ETag:         etag,
		LastModified: img.UpdatedAt.UTC().Truncate(time.Second),
	}, nil
}

// CanView 公开记录所有人可读，私有记录只有所有者可读
func CanView(img *models.Image, req Requester) bool {
	if img.IsPublic {
		return true
	}
	return req.Authenticated && img.OwnedBy(req.UserID)
}

func (r *Resolver) loadByID(ctx context.Context, id uint) (*models.Image, error) {
	if id == 0 {
		return nil, errs.NotFound("image not found")
	}
	if r.cache != nil {
		var cached models.Image
		if err := r.cache.GetImageByID(ctx, id, &cached); err == nil && cached.ID == id {
			return &cached, nil
		}
	}

	v, err, _ := r.group.Do("id:"+strconv.FormatUint(uint64(id), 10), func() (interface{}, error) {
		img, err := r.images.WithContext(ctx).GetImageByID(id)
		if err != nil {
			return nil, err
		}
		r.store(ctx, img)
		return img, nil
	})
	if err != nil {
		return nil, translateLookupErr(err)
	}
	img := *v.(*models.Image)
	return &img, nil
}

func (r *Resolver) loadByHash(ctx context.Context, lookup string) (*models.Image, error) {
	exact := len(lookup) == hash.AddressHashLength
	if exact && r.cache != nil {
		var cached models.Image
		if err := r.cache.GetImageByHash(ctx, lookup, &cached); err == nil && cached.ID != 0 {
			return &cached, nil
		}
	}

	v, err, _ := r.group.Do("hash:"+lookup, func() (interface{}, error) {
		repo := r.images.WithContext(ctx)
		var (
			img *models.Image
			err error
		)
		if exact {
			img, err = repo.GetImageByAddressHash(lookup)
		} else {
			img, err = repo.GetImageByHashPrefix(lookup)
		}
		if err != nil {
			return nil, err
		}
		// 前缀结果同样是该完整哈希下 id 最小的记录，只缓存到完整哈希键
		r.store(ctx, img)
		if r.cache != nil {
			if err := r.cache.CacheImageByHash(ctx, img); err != nil {
				utils.LogIfDevf("[Retrieval] cache store for hash of image %d failed: %v", img.ID, err)
			}
		}
		return img, nil
	})
	if err != nil {
		return nil, translateLookupErr(err)
	}
	img := *v.(*models.Image)
	return &img, nil
}

func (r *Resolver) store(ctx context.Context, img *models.Image) {
	if r.cache == nil {
		return
	}
	if err := r.cache.CacheImage(ctx, img); err != nil {
		utils.LogIfDevf("[Retrieval] cache store for image %d failed: %v", img.ID, err)
	}
}

func translateLookupErr(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return errs.NotFound("image not found")
	}
	return errs.Wrap(errs.KindInternal, "failed to load image", err)
}

type candidate struct {
	step int
	path string
}

func fallbackCandidates(img *models.Image) []candidate {
	seen := make(map[string]struct{})
	var out []candidate
	add := func(step int, p string) {
		if p == "" {
			return
		}
		if _, ok := seen[p]; ok {
			return
		}
		seen[p] = struct{}{}
		out = append(out, candidate{step: step, path: p})
	}

	add(1, img.Path)
	add(2, img.Filename)
	if img.AddressHash != "" {
		for _, ext := range fallbackExtensions {
			add(3, img.AddressHash+"."+ext)
		}
	}
	return out
}

func readObject(obj *storage.Object) ([]byte, error) {
	defer obj.Reader.Close()

	var buf bytes.Buffer
	if obj.Size > 0 {
		buf.Grow(int(obj.Size))
	}
	chunk := pool.SharedBufferPool.Get().(*[]byte)
	defer pool.SharedBufferPool.Put(chunk)

	if _, err := io.CopyBuffer(&buf, obj.Reader, *chunk); err != nil {
		return nil, fmt.Errorf("read object: %w", err)
	}
	return buf.Bytes(), nil
}
