package image

import (
	"context"
	"log"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/accounts"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/albums"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/images"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/strategies"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/storage"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/format"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/validator"
	"gorm.io/gorm"
)

// PATCH 支持的操作
const (
	ActionToggleVisibility = "toggle_visibility"
	ActionMoveToAlbum      = "move_to_album"
)

// UpdateRequest 更新请求，AlbumID 为 nil 表示移出相册
type UpdateRequest struct {
	Action  string
	AlbumID *uint
}

// ImageView 记录与链接
type ImageView struct {
	*models.Image
	URL         string            `json:"url"`
	Links       utils.LinkFormats `json:"links"`
	StorageType string            `json:"storage_type"`
}

// ListResult 分页结果
type ListResult struct {
	Items    []*ImageView `json:"items"`
	Total    int64        `json:"total"`
	Page     int          `json:"page"`
	PageSize int          `json:"page_size"`
}

// StrategyUsageView 单个策略下的用量
type StrategyUsageView struct {
	StrategyID uint   `json:"strategy_id"`
	Name       string `json:"name"`
	Type       string `json:"type"`
	Bytes      int64  `json:"bytes"`
	Count      int64  `json:"count"`
}

// UsageReport 用户用量
type UsageReport struct {
	Capacity      int64               `json:"capacity"`
	Used          int64               `json:"used"`
	Count         int64               `json:"count"`
	UsedHuman     string              `json:"used_human"`
	CapacityHuman string              `json:"capacity_human"`
	Strategies    []StrategyUsageView `json:"strategies"`
}

// ManageService 记录的查询与元数据修改
type ManageService struct {
	images          *images.Repository
	albums          *albums.Repository
	accounts        *accounts.Repository
	strategies      *strategies.Repository
	router          *storage.Router
	resolver        *Resolver
	links           *LinkBuilder
	defaultCapacity int64
	now             func() time.Time
}

// NewManageService 创建管理服务
func NewManageService(
	imagesRepo *images.Repository,
	albumsRepo *albums.Repository,
	accountsRepo *accounts.Repository,
	strategiesRepo *strategies.Repository,
	router *storage.Router,
	resolver *Resolver,
	links *LinkBuilder,
	defaultCapacity int64,
) *ManageService {
	return &ManageService{
		images:          imagesRepo,
		albums:          albumsRepo,
		accounts:        accountsRepo,
		strategies:      strategiesRepo,
		router:          router,
		resolver:        resolver,
		links:           links,
		defaultCapacity: defaultCapacity,
		now:             time.Now,
	}
}

// Update 切换可见性或移动相册
func (s *ManageService) Update(ctx context.Context, id, userID uint, req UpdateRequest) (*models.Image, error) {
	current, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}

	updates := make(map[string]interface{})
	switch req.Action {
	case ActionToggleVisibility:
		updates["is_public"] = !current.IsPublic
	case ActionMoveToAlbum:
		if req.AlbumID != nil {
			owned, err := s.albums.WithContext(ctx).IsOwnedBy(*req.AlbumID, userID)
			if err != nil {
				return nil, errs.Wrap(errs.KindInternal, "failed to check album", err)
			}
			if !owned {
				return nil, errs.InvalidInput("album not found")
			}
			updates["album_id"] = *req.AlbumID
		} else {
			updates["album_id"] = gorm.Expr("NULL")
		}
	default:
		return nil, errs.InvalidInput("unsupported action")
	}

	updated, err := s.images.WithContext(ctx).UpdateImageByIDAndUser(id, userID, updates)
	if err != nil {
		return nil, translateLookupErr(err)
	}

	if req.Action == ActionMoveToAlbum {
		s.moveAlbumCounters(ctx, current.AlbumID, updated.AlbumID)
	}
	s.resolver.Invalidate(ctx, current)

	return updated, nil
}

// Info 记录详情，遵循与读取字节相同的可见性规则
func (s *ManageService) Info(ctx context.Context, id uint, req Requester) (*ImageView, error) {
	resolved, err := s.resolver.ByID(ctx, id, req)
	if err != nil {
		return nil, err
	}
	return s.view(resolved.Image, s.typeOf(ctx, resolved.Image.StrategyID)), nil
}

// List 当前用户的图片列表
func (s *ManageService) List(ctx context.Context, userID uint, albumID *uint, page, pageSize int) (*ListResult, error) {
	page, pageSize = validator.ClampPage(page, pageSize)

	list, total, err := s.images.WithContext(ctx).ListImagesByUser(userID, albumID, page, pageSize)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to list images", err)
	}

	types := s.strategyTypes(ctx)
	fallback := s.router.DisplayType(ctx, userID)

	items := make([]*ImageView, 0, len(list))
	for _, img := range list {
		t, ok := types[img.StrategyID]
		if !ok {
			t = fallback
		}
		items = append(items, s.view(img, t))
	}

	return &ListResult{Items: items, Total: total, Page: page, PageSize: pageSize}, nil
}

// Share 生成分享链接，仅所有者可用
func (s *ManageService) Share(ctx context.Context, id, userID uint) (*ShareLinks, error) {
	img, err := s.owned(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	links := s.links.Share(img, s.now())
	return &links, nil
}

// Usage 按策略汇总用量
func (s *ManageService) Usage(ctx context.Context, userID uint) (*UsageReport, error) {
	user, err := s.accounts.WithContext(ctx).GetUserByID(userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to load account", err)
	}
	capacity := s.defaultCapacity
	if user != nil && user.Capacity > 0 {
		capacity = user.Capacity
	}

	usage, err := s.images.WithContext(ctx).UsageByStrategy(userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to compute usage", err)
	}

	names := make(map[uint]*models.StorageStrategy)
	if list, err := s.strategies.WithContext(ctx).List(); err == nil {
		for _, st := range list {
			names[st.ID] = st
		}
	}

	report := &UsageReport{Capacity: capacity, Strategies: make([]StrategyUsageView, 0, len(usage))}
	for _, u := range usage {
		v := StrategyUsageView{StrategyID: u.StrategyID, Bytes: u.Bytes, Count: u.Count}
		if st, ok := names[u.StrategyID]; ok {
			v.Name, v.Type = st.Name, string(st.Type)
		}
		report.Used += u.Bytes
		report.Count += u.Count
		report.Strategies = append(report.Strategies, v)
	}
	report.UsedHuman = format.HumanReadableSize(report.Used)
	report.CapacityHuman = format.HumanReadableSize(report.Capacity)
	return report, nil
}

func (s *ManageService) owned(ctx context.Context, id, userID uint) (*models.Image, error) {
	list, err := s.images.WithContext(ctx).GetImagesByIDsAndUser([]uint{id}, userID)
	if err != nil {
		return nil, errs.Wrap(errs.KindInternal, "failed to load image", err)
	}
	if len(list) == 0 {
		return nil, errs.NotFound("image not found")
	}
	return list[0], nil
}

func (s *ManageService) view(img *models.Image, storageType string) *ImageView {
	url := s.links.SecureURL(img)
	return &ImageView{
		Image:       img,
		URL:         url,
		Links:       utils.BuildLinkFormats(url, img.OriginalName),
		StorageType: storageType,
	}
}

func (s *ManageService) typeOf(ctx context.Context, strategyID uint) string {
	st, err := s.strategies.WithContext(ctx).GetByID(strategyID)
	if err != nil {
		return string(models.StorageTypeLocal)
	}
	return string(st.Type)
}

func (s *ManageService) strategyTypes(ctx context.Context) map[uint]string {
	types := make(map[uint]string)
	list, err := s.strategies.WithContext(ctx).List()
	if err != nil {
		log.Printf("[Images] WARN: failed to load strategies for listing: %v", err)
		return types
	}
	for _, st := range list {
		types[st.ID] = string(st.Type)
	}
	return types
}

func (s *ManageService) moveAlbumCounters(ctx context.Context, from, to *uint) {
	if from != nil && to != nil && *from == *to {
		return
	}
	repo := s.albums.WithContext(ctx)
	if from != nil {
		if err := repo.IncrementImageCount(*from, -1); err != nil {
			log.Printf("[Images] WARN: album %d image counter not updated: %v", *from, err)
		}
	}
	if to != nil {
		if err := repo.IncrementImageCount(*to, 1); err != nil {
			log.Printf("[Images] WARN: album %d image counter not updated: %v", *to, err)
		}
	}
}
