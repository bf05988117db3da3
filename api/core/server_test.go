package core

import (
	"bytes"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"
	"time"

	handlerImages "github.com/LunarVowCrimsonLove/MoeVault-sub001/api/handler/images"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/api/middleware"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cache"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/cache/memory"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/dbtest"
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
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/crypto"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testServer struct {
	t      *testing.T
	router *gin.Engine
	jwt    *auth.JWTService
	pool   *worker.Pool
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := dbtest.New(t)
	imagesRepo := images.NewRepository(db)
	accountsRepo := accounts.NewRepository(db)
	albumsRepo := albums.NewRepository(db)
	strategiesRepo := strategies.NewRepository(db)

	sealer, err := cryptoservice.NewServiceWithKey(bytes.Repeat([]byte{3}, 32))
	require.NoError(t, err)
	sealed, err := sealer.SealJSON(map[string]any{"root": t.TempDir()})
	require.NoError(t, err)
	require.NoError(t, strategiesRepo.Create(&models.StorageStrategy{
		Name: "system", Type: models.StorageTypeLocal, ConfigJSON: sealed, IsActive: true, IsShared: true,
	}))

	router, err := storage.NewRouter(strategiesRepo, sealer, storage.NewFactory(), 8)
	require.NoError(t, err)

	codec, err := crypto.NewLinkCodec("server-test-secret")
	require.NoError(t, err)
	share, err := crypto.NewShareCode("server-test-secret")
	require.NoError(t, err)
	links := imagesvc.NewLinkBuilder("http://img.test", codec, share)

	mem, err := memory.NewMemory(memory.Config{})
	require.NoError(t, err)
	t.Cleanup(func() { _ = mem.Close() })
	helper := cache.NewHelper(mem, time.Minute)

	pool := worker.NewPool(2, 100)
	t.Cleanup(pool.Stop)

	resolver := imagesvc.NewResolver(imagesRepo, router, helper, links)
	upload := imagesvc.NewUploadService(imagesRepo, accountsRepo, albumsRepo, router,
		imageproc.NewProcessor("imaging"), links, helper, pool, imagesvc.UploadConfig{DefaultCapacity: 1 << 20})
	deleter := imagesvc.NewDeleteService(imagesRepo, accountsRepo, albumsRepo, router, helper, 2)
	manage := imagesvc.NewManageService(imagesRepo, albumsRepo, accountsRepo, strategiesRepo,
		router, resolver, links, 1<<20)

	jwtService, err := auth.NewJWTService(strings.Repeat("s", 32), time.Hour)
	require.NoError(t, err)

	apiLimiter := middleware.NewIPRateLimiter(0, 0, time.Minute)
	imageLimiter := middleware.NewIPRateLimiter(0, 0, time.Minute)
	t.Cleanup(apiLimiter.StopCleanup)
	t.Cleanup(imageLimiter.StopCleanup)

	engine := gin.New()
	RegisterRoutes(engine, &RouterDependencies{
		Images:           handlerImages.NewHandler(upload, deleter, resolver, manage, 1<<20),
		JWT:              jwtService,
		Health:           NewHealthHandler(db, mem, router),
		APIRateLimiter:   apiLimiter,
		ImageRateLimiter: imageLimiter,
		UploadLimiter:    middleware.NewConcurrencyLimiter(4),
	})

	return &testServer{t: t, router: engine, jwt: jwtService, pool: pool}
}

func (s *testServer) token(userID uint) string {
	s.t.Helper()
	token, _, err := s.jwt.GenerateAccessToken(userID, "", "")
	require.NoError(s.t, err)
	return "Bearer " + token
}

func (s *testServer) do(method, path, authHeader string, body []byte, contentType string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	if authHeader != "" {
		req.Header.Set("Authorization", authHeader)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

// upload 以 multipart 上传，返回响应中的 data
func (s *testServer) upload(userID uint, data []byte, fields map[string]string) map[string]any {
	s.t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", `form-data; name="file"; filename="cat.png"`)
	h.Set("Content-Type", "image/png")
	part, err := mw.CreatePart(h)
	require.NoError(s.t, err)
	_, err = part.Write(data)
	require.NoError(s.t, err)
	for k, v := range fields {
		require.NoError(s.t, mw.WriteField(k, v))
	}
	require.NoError(s.t, mw.Close())

	w := s.do(http.MethodPost, "/upload", s.token(userID), body.Bytes(), mw.FormDataContentType())
	require.Equal(s.t, http.StatusOK, w.Code, w.Body.String())

	// 等待异步缓存预热
	require.Eventually(s.t, func() bool {
		st := s.pool.GetStats()
		return st.Executed == st.Submitted
	}, 2*time.Second, 5*time.Millisecond)

	return decodeData(s.t, w)
}

func decodeData(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp struct {
		Status string         `json:"status"`
		Kind   string         `json:"kind"`
		Data   map[string]any `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Data
}

func errorKind(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var resp struct {
		Kind string `json:"kind"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Kind
}

func TestHealthCheck(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/health", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var body struct {
		Status string            `json:"status"`
		Checks map[string]string `json:"checks"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, map[string]string{"database": "ok", "cache": "ok", "storage": "ok"}, body.Checks)
}

func TestVersionAndMetrics(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodGet, "/version", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "moe-vault", decodeData(t, w)["name"])

	w = s.do(http.MethodGet, "/metrics", "", nil, "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestUploadRequiresAuth(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodPost, "/upload", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "Unauthenticated", errorKind(t, w))
}

func TestUploadThenServeEveryRoute(t *testing.T) {
	s := newTestServer(t)
	data := []byte("\x89PNG\r\n\x1a\nfake")
	up := s.upload(1, data, nil)

	hash := up["hash"].(string)
	id := int(up["id"].(float64))
	assert.Equal(t, "http://img.test/"+hash[:32], up["url"])

	w := s.do(http.MethodGet, "/"+hash[:32], "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())
	assert.Equal(t, "image/png", w.Header().Get("Content-Type"))
	etag := w.Header().Get("ETag")
	assert.Equal(t, `"`+hash+`"`, etag)
	assert.Contains(t, w.Header().Get("Cache-Control"), "immutable")

	w = s.do(http.MethodGet, "/"+hash, "", nil, "", "If-None-Match", etag)
	assert.Equal(t, http.StatusNotModified, w.Code)
	assert.Empty(t, w.Body.Bytes())

	w = s.do(http.MethodGet, "/images/"+itoa(id), "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())

	w = s.do(http.MethodPost, "/images/"+itoa(id)+"/share", s.token(1), nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	links := decodeData(t, w)

	w = s.do(http.MethodGet, "/view/"+links["token"].(string), "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())

	w = s.do(http.MethodGet, "/s/"+links["short_code"].(string), "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, data, w.Body.Bytes())

	w = s.do(http.MethodGet, "/images/"+itoa(id)+"/info", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
	assert.Equal(t, hash, decodeData(t, w)["hash"])
}

func TestPrivateImageNeedsOwnerToken(t *testing.T) {
	s := newTestServer(t)
	up := s.upload(1, []byte("private bytes"), map[string]string{"isPrivate": "true"})
	hash := up["hash"].(string)
	assert.Equal(t, false, up["is_public"])

	w := s.do(http.MethodGet, "/"+hash, "", nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "AccessDenied", errorKind(t, w))
	assert.Empty(t, w.Header().Get("ETag"))

	w = s.do(http.MethodGet, "/"+hash, s.token(2), nil, "")
	assert.Equal(t, http.StatusForbidden, w.Code)

	w = s.do(http.MethodGet, "/"+hash, s.token(1), nil, "")
	assert.Equal(t, http.StatusOK, w.Code)

	// 携带无效令牌不会降级为匿名访问
	w = s.do(http.MethodGet, "/"+hash, "Bearer broken", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestInvalidHashIsBadRequest(t *testing.T) {
	s := newTestServer(t)
	w := s.do(http.MethodGet, "/not-a-hash", "", nil, "")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "InvalidInput", errorKind(t, w))

	w = s.do(http.MethodGet, "/view/forged", "", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "InvalidOrExpiredLink", errorKind(t, w))
}

func TestDeleteThenNotFound(t *testing.T) {
	s := newTestServer(t)
	up := s.upload(1, []byte("short lived"), nil)
	hash := up["hash"].(string)
	id := itoa(int(up["id"].(float64)))

	w := s.do(http.MethodDelete, "/images/"+id, s.token(2), nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = s.do(http.MethodDelete, "/images", s.token(1), []byte(`{"ids":[`+id+`]}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.EqualValues(t, 1, decodeData(t, w)["deleted"])

	w = s.do(http.MethodGet, "/"+hash, "", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, "NotFound", errorKind(t, w))
}

func TestManagementRoutes(t *testing.T) {
	s := newTestServer(t)
	up := s.upload(1, []byte("managed"), nil)
	id := itoa(int(up["id"].(float64)))

	w := s.do(http.MethodPatch, "/images/"+id, s.token(1), []byte(`{"action":"toggle_visibility"}`), "application/json")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, false, decodeData(t, w)["is_public"])

	w = s.do(http.MethodPatch, "/images/"+id, s.token(1), []byte(`{}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = s.do(http.MethodGet, "/images?page=1&page_size=10", s.token(1), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 1, decodeData(t, w)["total"])

	w = s.do(http.MethodGet, "/storage/usage", s.token(1), nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, len("managed"), decodeData(t, w)["used"])

	w = s.do(http.MethodGet, "/images", "", nil, "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestBatchUploadThenServeByPath(t *testing.T) {
	s := newTestServer(t)

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	files := map[string][]byte{
		"one.png":   []byte("\x89PNG\r\n\x1a\nfirst"),
		"two.png":   []byte("\x89PNG\r\n\x1a\nsecond"),
		"notes.txt": []byte("plain text"),
	}
	for _, name := range []string{"one.png", "two.png", "notes.txt"} {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
		if strings.HasSuffix(name, ".png") {
			h.Set("Content-Type", "image/png")
		} else {
			h.Set("Content-Type", "text/plain")
		}
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	w := s.do(http.MethodPost, "/upload", s.token(1), body.Bytes(), mw.FormDataContentType())
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Data handlerImages.BatchUploadResponse `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	batch := resp.Data
	assert.Equal(t, 2, batch.Succeeded)
	assert.Equal(t, 1, batch.Failed)
	require.Len(t, batch.Results, 3)
	assert.False(t, batch.Results[2].Success)
	assert.Equal(t, "notes.txt", batch.Results[2].Filename)
	assert.Equal(t, "InvalidInput", batch.Results[2].Kind)

	require.Eventually(t, func() bool {
		st := s.pool.GetStats()
		return st.Executed == st.Submitted
	}, 2*time.Second, 5*time.Millisecond)

	first := batch.Results[0]
	require.True(t, first.Success)
	require.NotNil(t, first.Data)

	w = s.do(http.MethodGet, "/images/"+itoa(int(first.Data.ID))+"/info", "", nil, "")
	require.Equal(t, http.StatusOK, w.Code)
	storedPath := decodeData(t, w)["path"].(string)

	w = s.do(http.MethodGet, "/uploads/"+storedPath, "", nil, "")
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, files["one.png"], w.Body.Bytes())

	w = s.do(http.MethodGet, "/uploads/../etc/passwd", "", nil, "")
	assert.NotEqual(t, http.StatusOK, w.Code)

	w = s.do(http.MethodGet, "/uploads/2020/01/missing.png", "", nil, "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestStorageTestRoute(t *testing.T) {
	s := newTestServer(t)

	w := s.do(http.MethodPost, "/storage/test", "", []byte(`{"strategy_id":1}`), "application/json")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	for _, mode := range []string{"connection", "upload"} {
		w = s.do(http.MethodPost, "/storage/test", s.token(1), []byte(`{"strategy_id":1,"mode":"`+mode+`"}`), "application/json")
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
		data := decodeData(t, w)
		assert.Equal(t, true, data["ok"], mode)
		assert.Equal(t, mode, data["mode"])
	}

	w = s.do(http.MethodPost, "/storage/test", s.token(1), []byte(`{"strategy_id":42}`), "application/json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "StrategyNotFound", errorKind(t, w))
}

func itoa(n int) string {
	b, _ := json.Marshal(n)
	return string(b)
}
