package image

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/LunarVowCrimsonLove/MoeVault-sub001/database/models"
	"github.com/LunarVowCrimsonLove/MoeVault-sub001/internal/errs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDelete_RemovesRecordAndBlob(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	img := env.uploadBytes(1, []byte("bye"), "image/png", false).Image

	res, err := env.delete.DeleteOne(ctx, img.ID, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Deleted)
	assert.Empty(t, res.Failures)

	_, err = os.Stat(filepath.Join(env.localRoot, filepath.FromSlash(img.Path)))
	assert.True(t, os.IsNotExist(err))

	_, err = env.resolver.ByHash(ctx, img.AddressHash, anonymous)
	assert.True(t, errs.Is(err, errs.KindNotFound))
	_, err = env.resolver.ByID(ctx, img.ID, owner(1))
	assert.True(t, errs.Is(err, errs.KindNotFound))

	user, err := env.accounts.GetUserByID(1)
	require.NoError(t, err)
	assert.Zero(t, user.ImageCount)
}

func TestDelete_NotOwned(t *testing.T) {
	env := newTestEnv(t)
	img := env.uploadBytes(1, []byte("mine"), "image/png", false).Image

	_, err := env.delete.DeleteOne(context.Background(), img.ID, 2)
	assert.True(t, errs.Is(err, errs.KindNotFound))

	_, err = os.Stat(filepath.Join(env.localRoot, filepath.FromSlash(img.Path)))
	assert.NoError(t, err)
}

func TestDelete_EmptyBatch(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.delete.DeleteBatch(context.Background(), nil, 1)
	assert.True(t, errs.Is(err, errs.KindInvalidInput))
}

func TestDelete_SecondCallIsNotFound(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	img := env.uploadBytes(1, []byte("once"), "image/png", false).Image

	_, err := env.delete.DeleteOne(ctx, img.ID, 1)
	require.NoError(t, err)
	_, err = env.delete.DeleteOne(ctx, img.ID, 1)
	assert.True(t, errs.Is(err, errs.KindNotFound))
}

func TestDelete_BackendFailureStillRemovesRecords(t *testing.T) {
	env := newTestEnv(t)
	_, fake := env.addFake(1)
	ctx := context.Background()

	a := env.uploadBytes(1, []byte("a"), "image/png", false).Image
	b := env.uploadBytes(1, []byte("b"), "image/png", false).Image
	fake.deleteErr = errors.New("backend unreachable")

	res, err := env.delete.DeleteBatch(ctx, []uint{a.ID, b.ID, a.ID, 0}, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 2, res.Deleted)
	require.Len(t, res.Failures, 2)
	for _, f := range res.Failures {
		assert.NotEmpty(t, f.Path)
		assert.NotContains(t, f.Message, "backend unreachable")
	}
	assert.EqualValues(t, 2, fake.deletes.Load())

	count, err := env.images.CountImagesByUser(1)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDelete_BatchSkipsForeignIDs(t *testing.T) {
	env := newTestEnv(t)
	mine := env.uploadBytes(1, []byte("mine"), "image/png", false).Image
	theirs := env.uploadBytes(2, []byte("theirs"), "image/png", false).Image

	res, err := env.delete.DeleteBatch(context.Background(), []uint{mine.ID, theirs.ID}, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, res.Deleted)

	count, err := env.images.CountImagesByUser(2)
	require.NoError(t, err)
	assert.EqualValues(t, 1, count)
}

func TestDelete_AlbumCounterDecrements(t *testing.T) {
	env := newTestEnv(t)
	_, err := env.accounts.EnsureUser(1, "")
	require.NoError(t, err)
	album := &models.Album{UserID: 1, Name: "trip"}
	require.NoError(t, env.albums.CreateAlbum(album))

	res, err := env.upload.Upload(context.Background(), UploadRequest{
		UserID: 1, MimeType: "image/png", Data: []byte("in album"), AlbumID: &album.ID,
	})
	require.NoError(t, err)

	_, err = env.delete.DeleteOne(context.Background(), res.Image.ID, 1)
	require.NoError(t, err)

	got, err := env.albums.GetAlbumByIDAndUser(album.ID, 1)
	require.NoError(t, err)
	assert.Zero(t, got.ImageCount)
}
