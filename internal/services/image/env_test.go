package image

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cache"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cache/memory"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/dbtest"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/accounts"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/albums"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/images"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/repo/strategies"
	imageproc "github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/image"
	cryptoservice "github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/services/crypto"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/worker"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/storage"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/crypto"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-link-secret"

// fakeProvider 本地存储外加可注入的故障
type fakeProvider struct {
	*storage.LocalStorage
	putErr    error
	deleteErr error
	afterPut  func()
	deletes   atomic.Int32
}

func (p *fakeProvider) Put(ctx context.Context, path string, data []byte, contentType string) (*storage.PutResult, error) {
	if p.putErr != nil {
		return nil, p.putErr
	}
	res, err := p.LocalStorage.Put(ctx, path, data, contentType)
	if err == nil && p.afterPut != nil {
		p.afterPut()
	}
	return res, err
}

func (p *fakeProvider) Delete(ctx context.Context, path string) error {
	p.deletes.Add(1)
	if p.deleteErr != nil {
		return p.deleteErr
	}
	return p.LocalStorage.Delete(ctx, path)
}

func (p *fakeProvider) Type() string { return "fake" }

type testEnv struct {
	t          *testing.T
	db         *dbtest.Provider
	images     *images.Repository
	accounts   *accounts.Repository
	albums     *albums.Repository
	strategies *strategies.Repository
	sealer     *cryptoservice.Service
	factory    *storage.Factory
	router     *storage.Router
	links      *LinkBuilder
	cache      *cache.Helper
	pool       *worker.Pool

	upload   *UploadService
	delete   *DeleteService
	resolver *Resolver
	manage   *ManageService

	// 系统默认本地策略
	local     *models.StorageStrategy
	localRoot string

	fakesMu sync.Mutex
	fakes   map[string]*fakeProvider
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db := dbtest.New(t)
	sealer, err := cryptoservice.NewServiceWithKey(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	env := &testEnv{
		t:          t,
		db:         db,
		images:     images.NewRepository(db),
		accounts:   accounts.NewRepository(db),
		albums:     albums.NewRepository(db),
		strategies: strategies.NewRepository(db),
		sealer:     sealer,
		factory:    storage.NewFactory(),
		fakes:      make(map[string]*fakeProvider),
	}

	env.factory.Register("fake", func(settings map[string]any, _ storage.BuildOptions) (storage.Provider, error) {
		root, _ := settings["root"].(string)
		env.fakesMu.Lock()
		defer env.fakesMu.Unlock()
		if p, ok := env.fakes[root]; ok {
			return p, nil
		}
		return nil, errors.New("unknown fake root")
	})

	env.router, err = storage.NewRouter(env.strategies, sealer, env.factory, 8)
	require.NoError(t, err)

	codec, err := crypto.NewLinkCodec(testSecret)
	require.NoError(t, err)
	share, err := crypto.NewShareCode(testSecret)
	require.NoError(t, err)
	env.links = NewLinkBuilder("http://img.test", codec, share)

	mem, err := memory.NewMemory(memory.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	env.cache = cache.NewHelper(mem, time.Minute)

	env.pool = worker.NewPool(2, 100)
	t.Cleanup(env.pool.Stop)

	env.upload = NewUploadService(env.images, env.accounts, env.albums, env.router,
		imageproc.NewProcessor("imaging"), env.links, env.cache, env.pool,
		UploadConfig{DefaultCapacity: 1 << 20, DefaultQuality: 85})
	env.delete = NewDeleteService(env.images, env.accounts, env.albums, env.router, env.cache, 4)
	env.resolver = NewResolver(env.images, env.router, env.cache, env.links)
	env.manage = NewManageService(env.images, env.albums, env.accounts, env.strategies,
		env.router, env.resolver, env.links, 1<<20)

	env.localRoot = t.TempDir()
	env.local = env.addStrategy(models.StorageTypeLocal, "system", env.localRoot, true)
	return env
}

// addStrategy 创建共享或私有策略
func (e *testEnv) addStrategy(kind models.StorageType, name, root string, shared bool) *models.StorageStrategy {
	e.t.Helper()
	sealed, err := e.sealer.SealJSON(map[string]any{"root": root})
	require.NoError(e.t, err)
	st := &models.StorageStrategy{Name: name, Type: kind, ConfigJSON: sealed, IsActive: true, IsShared: shared}
	require.NoError(e.t, e.strategies.Create(st))
	return st
}

// addFake 创建一个绑定给用户并设为默认的故障注入策略
func (e *testEnv) addFake(userID uint) (*models.StorageStrategy, *fakeProvider) {
	e.t.Helper()
	root := e.t.TempDir()
	local, err := storage.NewLocalStorage(root)
	require.NoError(e.t, err)

	fake := &fakeProvider{LocalStorage: local}
	e.fakesMu.Lock()
	e.fakes[root] = fake
	e.fakesMu.Unlock()

	st := e.addStrategy("fake", "fake", root, false)
	require.NoError(e.t, e.strategies.Bind(userID, st.ID, true))
	return st, fake
}

func (e *testEnv) setCapacity(userID uint, capacity int64) {
	e.t.Helper()
	_, err := e.accounts.EnsureUser(userID, "")
	require.NoError(e.t, err)
	require.NoError(e.t, e.accounts.UpdateCapacity(userID, capacity))
}

func (e *testEnv) uploadBytes(userID uint, data []byte, mime string, private bool) *UploadResult {
	e.t.Helper()
	res, err := e.upload.Upload(context.Background(), UploadRequest{
		UserID:    userID,
		Filename:  "pic.png",
		MimeType:  mime,
		Data:      data,
		IsPrivate: private,
	})
	require.NoError(e.t, err)
	e.drain()
	return res
}

// drain 等待后台的缓存预热完成，避免与后续的失效交错
func (e *testEnv) drain() {
	e.t.Helper()
	require.Eventually(e.t, func() bool {
		s := e.pool.GetStats()
		return s.Executed == s.Submitted
	}, 2*time.Second, 5*time.Millisecond)
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x * 7), G: uint8(y * 3), B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func owner(id uint) Requester {
	return Requester{UserID: id, Authenticated: true}
}

var anonymous = Requester{}
