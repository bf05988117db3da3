package image

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/utils/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_AllRoutesServeIdenticalBytes(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := []byte("identical bytes everywhere")
	img := env.uploadBytes(1, data, "image/jpeg", false).Image
	links := env.links.Share(img, time.Now())

	byHash, err := env.resolver.ByHash(ctx, img.AddressHash, anonymous)
	require.NoError(t, err)
	byPrefix, err := env.resolver.ByHash(ctx, img.AddressHash[:32], anonymous)
	require.NoError(t, err)
	byID, err := env.resolver.ByID(ctx, img.ID, anonymous)
	require.NoError(t, err)
	byToken, err := env.resolver.ByToken(ctx, links.Token, anonymous)
	require.NoError(t, err)
	byCode, err := env.resolver.ByShareCode(ctx, links.ShortCode, anonymous)
	require.NoError(t, err)

	for name, r := range map[string]*Resolved{
		"hash": byHash, "prefix": byPrefix, "id": byID, "token": byToken, "code": byCode,
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, img.ID, r.Image.ID)
			payload, err := env.resolver.Open(ctx, r)
			require.NoError(t, err)
			assert.Equal(t, data, payload.Data)
			assert.Equal(t, "image/jpeg", payload.ContentType)
		})
	}

	assert.Equal(t, `"`+img.AddressHash+`"`, byHash.ETag)
	assert.Regexp(t, `^"\d+-\d+"$`, byID.ETag)
	assert.Equal(t, byID.ETag, byToken.ETag)
}

func TestResolver_UppercaseHashAccepted(t *testing.T) {
	env := newTestEnv(t)
	img := env.uploadBytes(1, []byte("case"), "image/png", false).Image

	upper := []byte(img.AddressHash)
	for i, c := range upper {
		if c >= 'a' && c <= 'f' {
			upper[i] = c - 32
		}
	}
	r, err := env.resolver.ByHash(context.Background(), string(upper), anonymous)
	require.NoError(t, err)
	assert.Equal(t, img.ID, r.Image.ID)
}

func TestResolver_InvalidHash(t *testing.T) {
	env := newTestEnv(t)
	for _, h := range []string{"", "abc", strings.Repeat("z", 32), "0123456789abcdef0123456789abcdef0"} {
		_, err := env.resolver.ByHash(context.Background(), h, anonymous)
		assert.True(t, errs.Is(err, errs.KindInvalidInput), "hash %q", h)
	}
}

func TestResolver_UnknownRecords(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.resolver.ByHash(ctx, "0123456789abcdef0123456789abcdef", anonymous)
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = env.resolver.ByID(ctx, 404, anonymous)
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = env.resolver.ByToken(ctx, "garbage", anonymous)
	assert.True(t, errs.Is(err, errs.KindInvalidOrExpiredLink))

	codec, err := crypto.NewLinkCodec(testSecret)
	require.NoError(t, err)
	_, err = env.resolver.ByToken(ctx, codec.Encode(404), anonymous)
	assert.True(t, errs.Is(err, errs.KindInvalidOrExpiredLink))
}

func TestResolver_PrivateImageVisibility(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	img := env.uploadBytes(1, []byte("secret"), "image/png", true).Image
	links := env.links.Share(img, time.Now())

	lookups := map[string]func(Requester) error{
		"hash": func(r Requester) error { _, err := env.resolver.ByHash(ctx, img.AddressHash, r); return err },
		"id":   func(r Requester) error { _, err := env.resolver.ByID(ctx, img.ID, r); return err },
		"token": func(r Requester) error {
			_, err := env.resolver.ByToken(ctx, links.Token, r)
			return err
		},
		"code": func(r Requester) error {
			_, err := env.resolver.ByShareCode(ctx, links.ShortCode, r)
			return err
		},
	}

	for name, lookup := range lookups {
		t.Run(name, func(t *testing.T) {
			assert.True(t, errs.Is(lookup(anonymous), errs.KindAccessDenied))
			assert.True(t, errs.Is(lookup(owner(2)), errs.KindAccessDenied))
			assert.NoError(t, lookup(owner(1)))
		})
	}
}

func TestResolver_ShareCodeOwnerMismatch(t *testing.T) {
	env := newTestEnv(t)
	img := env.uploadBytes(1, []byte("shared"), "image/png", false).Image

	share, err := crypto.NewShareCode(testSecret)
	require.NoError(t, err)
	forged, err := share.Encode(img.ID, 99, time.Now().Unix())
	require.NoError(t, err)

	_, err = env.resolver.ByShareCode(context.Background(), forged, anonymous)
	assert.True(t, errs.Is(err, errs.KindInvalidOrExpiredLink))
}

func TestResolver_FallbackToFilename(t *testing.T) {
	env := newTestEnv(t)
	data := []byte("moved to root")
	img := env.uploadBytes(1, data, "image/png", false).Image

	from := filepath.Join(env.localRoot, filepath.FromSlash(img.Path))
	require.NoError(t, os.Rename(from, filepath.Join(env.localRoot, img.Filename)))

	r, err := env.resolver.ByID(context.Background(), img.ID, anonymous)
	require.NoError(t, err)
	payload, err := env.resolver.Open(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, data, payload.Data)
	assert.Equal(t, 2, payload.Fallback)
	assert.Equal(t, img.Filename, payload.SourcePath)
}

func TestResolver_FallbackToHashName(t *testing.T) {
	env := newTestEnv(t)
	data := []byte("legacy hash naming")
	img := env.uploadBytes(1, data, "image/png", false).Image

	from := filepath.Join(env.localRoot, filepath.FromSlash(img.Path))
	require.NoError(t, os.Rename(from, filepath.Join(env.localRoot, img.AddressHash+".webp")))

	r, err := env.resolver.ByID(context.Background(), img.ID, anonymous)
	require.NoError(t, err)
	payload, err := env.resolver.Open(context.Background(), r)
	require.NoError(t, err)
	assert.Equal(t, data, payload.Data)
	assert.Equal(t, 3, payload.Fallback)
}

func TestResolver_FileMissingOnDisk(t *testing.T) {
	env := newTestEnv(t)
	img := env.uploadBytes(1, []byte("gone"), "image/png", false).Image
	require.NoError(t, os.Remove(filepath.Join(env.localRoot, filepath.FromSlash(img.Path))))

	r, err := env.resolver.ByID(context.Background(), img.ID, anonymous)
	require.NoError(t, err)
	_, err = env.resolver.Open(context.Background(), r)
	assert.True(t, errs.Is(err, errs.KindFileMissingOnDisk))
	assert.Equal(t, 404, errs.StatusOf(err))
}

func TestResolver_MissingStrategyIsFileMissing(t *testing.T) {
	env := newTestEnv(t)
	record := &models.Image{
		UserID:      1,
		StrategyID:  999,
		Path:        "2024/01/x.png",
		Filename:    "x.png",
		Size:        1,
		MimeType:    "image/png",
		AddressHash: strings.Repeat("ab", 32),
		IsPublic:    true,
	}
	require.NoError(t, env.images.SaveImage(record))

	r, err := env.resolver.ByID(context.Background(), record.ID, anonymous)
	require.NoError(t, err)
	_, err = env.resolver.Open(context.Background(), r)
	assert.True(t, errs.Is(err, errs.KindFileMissingOnDisk))
}

func TestResolver_CachedRecordIsACopy(t *testing.T) {
	env := newTestEnv(t)
	img := env.uploadBytes(1, []byte("copy"), "image/png", false).Image

	first, err := env.resolver.ByID(context.Background(), img.ID, anonymous)
	require.NoError(t, err)
	first.Image.IsPublic = false

	second, err := env.resolver.ByID(context.Background(), img.ID, anonymous)
	require.NoError(t, err)
	assert.True(t, second.Image.IsPublic)
}

func TestNotModified(t *testing.T) {
	tests := []struct {
		name        string
		ifNoneMatch string
		etag        string
		want        bool
	}{
		{"empty header", "", `"a"`, false},
		{"exact", `"a"`, `"a"`, true},
		{"list", `"x", "a"`, `"a"`, true},
		{"weak", `W/"a"`, `"a"`, true},
		{"star", `*`, `"a"`, true},
		{"mismatch", `"b"`, `"a"`, false},
		{"no etag", `"a"`, "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NotModified(tt.ifNoneMatch, tt.etag))
		})
	}
}

func TestResolver_SharedHashResolvesLowestID(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := []byte("same bytes, two owners")

	public := env.uploadBytes(1, data, "image/png", false).Image
	private := env.uploadBytes(2, data, "image/png", true).Image
	require.Equal(t, public.AddressHash, private.AddressHash)
	require.Greater(t, private.ID, public.ID)

	// 按 id 读取私有记录会写入 id 缓存，不能影响哈希键
	_, err := env.resolver.ByID(ctx, private.ID, owner(2))
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		r, err := env.resolver.ByHash(ctx, public.AddressHash, anonymous)
		require.NoError(t, err, "lookup %d", i)
		assert.Equal(t, public.ID, r.Image.ID)
	}

	r, err := env.resolver.ByHash(ctx, public.AddressHash[:32], anonymous)
	require.NoError(t, err)
	assert.Equal(t, public.ID, r.Image.ID)

	// 删除最小 id 的记录后，哈希键失效并指向下一条
	_, err = env.delete.DeleteOne(ctx, public.ID, 1)
	require.NoError(t, err)
	r, err = env.resolver.ByHash(ctx, public.AddressHash, owner(2))
	require.NoError(t, err)
	assert.Equal(t, private.ID, r.Image.ID)

	_, err = env.resolver.ByHash(ctx, public.AddressHash, anonymous)
	assert.True(t, errs.Is(err, errs.KindAccessDenied))
}

func TestResolver_ByPath(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	data := []byte("served by stored path")
	public := env.uploadBytes(1, data, "image/png", false).Image
	private := env.uploadBytes(1, []byte("private by path"), "image/png", true).Image

	resolved, err := env.resolver.ByPath(ctx, "/"+public.Path, anonymous)
	require.NoError(t, err)
	assert.Equal(t, public.ID, resolved.Image.ID)
	assert.Equal(t, idETag(public), resolved.ETag)

	payload, err := env.resolver.Open(ctx, resolved)
	require.NoError(t, err)
	assert.Equal(t, data, payload.Data)
	assert.Equal(t, 1, payload.Fallback)

	_, err = env.resolver.ByPath(ctx, private.Path, anonymous)
	assert.True(t, errs.Is(err, errs.KindAccessDenied), "%v", err)
	_, err = env.resolver.ByPath(ctx, private.Path, owner(2))
	assert.True(t, errs.Is(err, errs.KindAccessDenied), "%v", err)
	_, err = env.resolver.ByPath(ctx, private.Path, owner(1))
	assert.NoError(t, err)

	_, err = env.resolver.ByPath(ctx, "2020/01/nothing.png", anonymous)
	assert.True(t, errs.Is(err, errs.KindNotFound), "%v", err)

	for _, bad := range []string{"", "/", "../etc/passwd", "2020/../../x.png", "2020//x.png", `2020\x.png`, "./x.png"} {
		_, err = env.resolver.ByPath(ctx, bad, anonymous)
		assert.True(t, errs.Is(err, errs.KindInvalidInput), "%q: %v", bad, err)
	}
}
