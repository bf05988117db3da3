package app

import (
	"fmt"
	"log"
	"os"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cache"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/config"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/accounts"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/albums"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/images"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/strategies"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/auth"
	imageproc "github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/image"
	cryptoservice "github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/services/crypto"
	imagesvc "github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/services/image"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/worker"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/storage"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/crypto"
)

const (
	routerCacheSize = 64
	workerQueueSize = 1000
)

// Container 依赖注入容器 - 管理所有服务的生命周期
type Container struct {
	config          *config.Config
	databaseFactory *database.Factory
	cacheProvider   cache.Provider

	ImagesRepo     *images.Repository
	AccountsRepo   *accounts.Repository
	AlbumsRepo     *albums.Repository
	StrategiesRepo *strategies.Repository

	Sealer         *cryptoservice.Service
	StorageFactory *storage.Factory
	Router         *storage.Router
	Links          *imagesvc.LinkBuilder
	Pool           *worker.Pool
	JWT            *auth.JWTService

	Upload     *imagesvc.UploadService
	Delete     *imagesvc.DeleteService
	Resolver   *imagesvc.Resolver
	Manage     *imagesvc.ManageService
	Reconciler *imagesvc.Reconciler
}

// NewContainer 创建新的依赖注入容器
func NewContainer(cfg *config.Config) *Container {
	return &Container{
		config: cfg,
	}
}

// Init 完整初始化：数据库、迁移、主密钥与全部服务，serve 使用
func (c *Container) Init() error {
	if err := c.InitDatabase(); err != nil {
		return err
	}
	log.Printf("[Container] Migrating database, type: %s", c.databaseFactory.GetProvider().Name())
	if err := c.Migrate(); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	if c.Sealer == nil {
		if err := c.InitCrypto(); err != nil {
			return fmt.Errorf("failed to initialize master key: %w", err)
		}
	}
	if err := c.InitServices(); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}
	return nil
}

// InitDatabase 连接数据库并创建仓库
func (c *Container) InitDatabase() error {
	utils.LogIfDev("Initializing DI container...")

	factory, err := database.NewFactory(c.config)
	if err != nil {
		return fmt.Errorf("failed to initialize database factory: %w", err)
	}
	c.databaseFactory = factory

	db := factory.GetProvider()
	c.ImagesRepo = images.NewRepository(db)
	c.AccountsRepo = accounts.NewRepository(db)
	c.AlbumsRepo = albums.NewRepository(db)
	c.StrategiesRepo = strategies.NewRepository(db)
	utils.LogIfDev("Repositories initialized")
	return nil
}

// InitCrypto 加载主密钥，已有加密配置时缺少密钥直接失败
func (c *Container) InitCrypto() error {
	if c.StrategiesRepo == nil {
		return fmt.Errorf("database not initialized")
	}
	sealer := cryptoservice.NewService(c.config.DataDir)
	if err := sealer.Initialize(c.StrategiesRepo.HasSealedConfigs); err != nil {
		return err
	}
	c.Sealer = sealer
	return nil
}

// InitStorage 创建存储工厂与路由，对账命令只需要这一层
func (c *Container) InitStorage() error {
	if c.Router != nil {
		return nil
	}
	if c.Sealer == nil {
		return fmt.Errorf("master key not initialized")
	}
	c.StorageFactory = storage.NewFactory()
	router, err := storage.NewRouter(c.StrategiesRepo, c.Sealer, c.StorageFactory, routerCacheSize)
	if err != nil {
		return err
	}
	c.Router = router
	if c.Reconciler == nil {
		c.Reconciler = imagesvc.NewReconciler(c.StrategiesRepo, c.ImagesRepo, c.Router, c.config.ReconcileGracePeriod)
	}
	return nil
}

// InitServices 创建缓存、存储路由与业务服务
func (c *Container) InitServices() error {
	cfg := c.config

	provider, err := cache.NewProvider(cfg)
	if err != nil {
		return fmt.Errorf("failed to initialize cache: %w", err)
	}
	c.cacheProvider = provider
	cacheHelper := cache.NewHelper(provider, cfg.CacheMetadataTTL)

	if err := c.InitStorage(); err != nil {
		return err
	}

	codec, err := crypto.NewLinkCodec(cfg.LinkSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize link codec: %w", err)
	}
	share, err := crypto.NewShareCode(cfg.LinkSecret)
	if err != nil {
		return fmt.Errorf("failed to initialize share codes: %w", err)
	}
	c.Links = imagesvc.NewLinkBuilder(cfg.BaseURL(), codec, share)

	if c.JWT, err = auth.NewJWTService(cfg.JWTSecret, cfg.JWTExpiresIn); err != nil {
		return fmt.Errorf("failed to initialize JWT: %w", err)
	}

	worker.InitGlobalPool(cfg.WorkerCount, workerQueueSize)
	c.Pool = worker.GetGlobalPool()

	processor := imageproc.NewProcessor(cfg.ImageProcessor)
	log.Printf("[Container] Image processor: %s", processor.Name())

	c.Resolver = imagesvc.NewResolver(c.ImagesRepo, c.Router, cacheHelper, c.Links)
	c.Upload = imagesvc.NewUploadService(c.ImagesRepo, c.AccountsRepo, c.AlbumsRepo, c.Router,
		processor, c.Links, cacheHelper, c.Pool, imagesvc.UploadConfig{
			DefaultCapacity: cfg.DefaultCapacityBytes(),
			DefaultQuality:  cfg.UploadDefaultQuality,
			MaxWidth:        cfg.UploadMaxWidth,
			MaxHeight:       cfg.UploadMaxHeight,
		})
	c.Delete = imagesvc.NewDeleteService(c.ImagesRepo, c.AccountsRepo, c.AlbumsRepo, c.Router,
		cacheHelper, cfg.DeleteConcurrency)
	c.Manage = imagesvc.NewManageService(c.ImagesRepo, c.AlbumsRepo, c.AccountsRepo, c.StrategiesRepo,
		c.Router, c.Resolver, c.Links, cfg.DefaultCapacityBytes())

	utils.LogIfDev("DI container initialized successfully")
	return nil
}

// Migrate 迁移表结构并确保系统本地策略存在，需要时加载主密钥
func (c *Container) Migrate() error {
	if err := c.databaseFactory.AutoMigrate(); err != nil {
		return err
	}
	return c.ensureSystemStrategy()
}

func (c *Container) ensureSystemStrategy() error {
	existing, err := c.StrategiesRepo.GetSystemDefaultLocal()
	if err != nil {
		return fmt.Errorf("failed to look up system strategy: %w", err)
	}
	if existing != nil {
		return nil
	}
	if c.Sealer == nil {
		if err := c.InitCrypto(); err != nil {
			return err
		}
	}

	root := c.config.UploadRoot
	if err := os.MkdirAll(root, 0o755); err != nil {
		return fmt.Errorf("failed to create upload root: %w", err)
	}
	sealed, err := c.Sealer.SealJSON(map[string]any{"root": root})
	if err != nil {
		return err
	}
	strategy := &models.StorageStrategy{
		Name:        "system",
		Type:        models.StorageTypeLocal,
		ConfigJSON:  sealed,
		IsActive:    true,
		IsShared:    true,
		Description: "built-in local storage",
	}
	if err := c.StrategiesRepo.Create(strategy); err != nil {
		return fmt.Errorf("failed to create system strategy: %w", err)
	}
	log.Printf("[Container] Created system local strategy #%d at %s", strategy.ID, root)
	return nil
}

// GetDatabaseFactory 获取数据库工厂
func (c *Container) GetDatabaseFactory() *database.Factory {
	return c.databaseFactory
}

// GetCacheProvider 获取缓存提供者
func (c *Container) GetCacheProvider() cache.Provider {
	return c.cacheProvider
}

// GetConfig 获取配置
func (c *Container) GetConfig() *config.Config {
	return c.config
}

// Close 关闭所有资源
func (c *Container) Close() error {
	var errs []error

	if c.Reconciler != nil {
		c.Reconciler.Stop()
	}

	if c.Pool != nil {
		done := make(chan struct{})
		go func() {
			worker.StopGlobalPool()
			close(done)
		}()
		select {
		case <-done:
		case <-time.After(10 * time.Second):
			log.Println("[Container] WARN: worker pool did not drain in time")
		}
	}

	if c.cacheProvider != nil {
		if err := c.cacheProvider.Close(); err != nil {
			errs = append(errs, fmt.Errorf("cache close: %w", err))
		}
	}

	if c.databaseFactory != nil {
		if err := c.databaseFactory.Close(); err != nil {
			errs = append(errs, fmt.Errorf("database close: %w", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("errors during close: %v", errs)
	}
	return nil
}
