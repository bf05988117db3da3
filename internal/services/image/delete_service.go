package image

import (
	"context"
	"log"
	"sync"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cache"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/accounts"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/albums"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/images"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/storage"
	"golang.org/x/sync/errgroup"
)

const defaultDeleteConcurrency = 8

// DeleteFailure 单个对象删除失败，不影响记录删除
type DeleteFailure struct {
	ImageID uint   `json:"image_id"`
	Path    string `json:"path"`
	Err     error  `json:"-"`
	Message string `json:"message"`
}

// DeleteResult 删除结果
type DeleteResult struct {
	Deleted  int64           `json:"deleted"`
	Failures []DeleteFailure `json:"failures,omitempty"`
}

// DeleteService 图片删除服务
type DeleteService struct {
	images      *images.Repository
	accounts    *accounts.Repository
	albums      *albums.Repository
	router      *storage.Router
	cache       *cache.Helper
	concurrency int
}

// NewDeleteService 创建删除服务
func NewDeleteService(
	imagesRepo *images.Repository,
	accountsRepo *accounts.Repository,
	albumsRepo *albums.Repository,
	router *storage.Router,
	cacheHelper *cache.Helper,
	concurrency int,
) *DeleteService {
	if concurrency <= 0 {
		concurrency = defaultDeleteConcurrency
	}
	return &DeleteService{
		images:      imagesRepo,
		accounts:    accountsRepo,
		albums:      albumsRepo,
		router:      router,
		cache:       cacheHelper,
		concurrency: concurrency,
	}
}

// DeleteOne 删除单张图片
func (s *DeleteService) DeleteOne(ctx context.Context, id, userID uint) (*DeleteResult, error) {
	return s.DeleteBatch(ctx, []uint{id}, userID)
}

// DeleteBatch 批量删除用户自己的图片
// 先并发删除后端对象，再在一个事务中删除记录；后端失败只记录不阻断
func (s *DeleteService) DeleteBatch(ctx context.Context, ids []uint, userID uint) (*DeleteResult, error) {
	ids = uniqueIDs(ids)
	if len(ids) == 0 {
		return nil, errs.InvalidInput("no image ids given")
	}

	repo := s.images.WithContext(ctx)
	owned, err := repo.GetImagesByIDsAndUser(ids, userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to load images", err)
	}
	if len(owned) == 0 {
		return nil, errs.NotFound("image not found")
	}

	failures := s.deleteBlobs(ctx, owned)

	ownedIDs := make([]uint, 0, len(owned))
	for _, img := range owned {
		ownedIDs = append(ownedIDs, img.ID)
	}
	deleted, err := repo.DeleteImagesByIDsAndUser(ownedIDs, userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to delete image records", err)
	}

	s.afterDelete(ctx, owned, userID, deleted)

	return &DeleteResult{Deleted: deleted, Failures: failures}, nil
}

// deleteBlobs 有界并发删除后端对象
func (s *DeleteService) deleteBlobs(ctx context.Context, owned []*models.Image) []DeleteFailure {
	var (
		mu       sync.Mutex
		failures []DeleteFailure
	)
	record := func(img *models.Image, err error) {
		log.Printf("[Delete] WARN: blob for image %d (%s) not removed: %v", img.ID, img.Path, err)
		mu.Lock()
		failures = append(failures, DeleteFailure{
			ImageID: img.ID,
			Path:    img.Path,
			Err:     err,
			Message: errs.KindStorageDeleteFailed.String(),
		})
		mu.Unlock()
	}

	// 解析策略在数据库上串行进行，之后的后端调用才并发
	bindings := make(map[uint]*storage.Binding)
	bindErrs := make(map[uint]error)
	for _, img := range owned {
		if _, seen := bindings[img.StrategyID]; seen {
			continue
		}
		if _, seen := bindErrs[img.StrategyID]; seen {
			continue
		}
		b, err := s.router.ForStrategy(ctx, img.StrategyID)
		if err != nil {
			bindErrs[img.StrategyID] = err
			continue
		}
		bindings[img.StrategyID] = b
	}

	var g errgroup.Group
	g.SetLimit(s.concurrency)
	for _, img := range owned {
		img := img
		if err, ok := bindErrs[img.StrategyID]; ok {
			record(img, err)
			continue
		}
		binding := bindings[img.StrategyID]
		g.Go(func() error {
			if err := binding.Provider.Delete(ctx, img.Path); err != nil {
				record(img, err)
			}
			return nil
		})
	}
	_ = g.Wait()

	return failures
}

// afterDelete 计数与缓存的收尾，全部尽力而为
func (s *DeleteService) afterDelete(ctx context.Context, owned []*models.Image, userID uint, deleted int64) {
	if deleted > 0 {
		if err := s.accounts.WithContext(ctx).IncrementImageCount(userID, -deleted); err != nil {
			log.Printf("[Delete] WARN: user %d image counter not updated: %v", userID, err)
		}
	}

	perAlbum := make(map[uint]int64)
	for _, img := range owned {
		if img.AlbumID != nil {
			perAlbum[*img.AlbumID]++
		}
	}
	for albumID, n := range perAlbum {
		if err := s.albums.WithContext(ctx).IncrementImageCount(albumID, -n); err != nil {
			log.Printf("[Delete] WARN: album %d image counter not updated: %v", albumID, err)
		}
	}

	if s.cache == nil {
		return
	}
	for _, img := range owned {
		if err := s.cache.DeleteImage(ctx, img); err != nil {
			log.Printf("[Delete] WARN: cache for image %d not invalidated: %v", img.ID, err)
		}
	}
}

func uniqueIDs(ids []uint) []uint {
	seen := make(map[uint]struct{}, len(ids))
	out := make([]uint, 0, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
