package image

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, root, rel string, data []byte) string {
	t.Helper()
	full := filepath.Join(root, filepath.FromSlash(rel))
	require.NoError(t, os.MkdirAll(filepath.Dir(full), 0o755))
	require.NoError(t, os.WriteFile(full, data, 0o644))
	return full
}

func newAgedReconciler(env *testEnv, age time.Duration) *Reconciler {
	r := NewReconciler(env.strategies, env.images, env.router, time.Hour)
	r.now = func() time.Time { return time.Now().Add(age) }
	return r
}

func reportFor(t *testing.T, reports []ReconcileReport, strategyID uint) ReconcileReport {
	t.Helper()
	for _, r := range reports {
		if r.StrategyID == strategyID {
			return r
		}
	}
	t.Fatalf("no report for strategy %d", strategyID)
	return ReconcileReport{}
}

func TestReconciler_DryRunReportsOnly(t *testing.T) {
	env := newTestEnv(t)
	env.uploadBytes(1, []byte("kept"), "image/png", false)
	orphan := writeFile(t, env.localRoot, "2020/01/stray.png", []byte("stray"))

	reports, err := newAgedReconciler(env, 2*time.Hour).Run(context.Background(), true)
	require.NoError(t, err)

	r := reportFor(t, reports, env.local.ID)
	assert.Equal(t, "local", r.Type)
	assert.Equal(t, 2, r.Scanned)
	assert.Equal(t, []string{"2020/01/stray.png"}, r.Orphans)
	assert.Zero(t, r.Deleted)

	_, err = os.Stat(orphan)
	assert.NoError(t, err)
}

func TestReconciler_DeletesOnlyUnreferencedAgedObjects(t *testing.T) {
	env := newTestEnv(t)
	img := env.uploadBytes(1, []byte("referenced"), "image/png", false).Image
	legacy := env.uploadBytes(1, []byte("legacy"), "image/png", false).Image

	// 旧数据：文件放在根目录或以哈希命名
	require.NoError(t, os.Rename(
		filepath.Join(env.localRoot, filepath.FromSlash(legacy.Path)),
		filepath.Join(env.localRoot, legacy.AddressHash+".jpg"),
	))
	orphan := writeFile(t, env.localRoot, "2020/01/orphan.gif", []byte("nobody"))
	hidden := writeFile(t, env.localRoot, ".keep", nil)

	reports, err := newAgedReconciler(env, 2*time.Hour).Run(context.Background(), false)
	require.NoError(t, err)

	r := reportFor(t, reports, env.local.ID)
	assert.Equal(t, []string{"2020/01/orphan.gif"}, r.Orphans)
	assert.Equal(t, 1, r.Deleted)
	assert.Zero(t, r.Failed)

	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(hidden)
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(env.localRoot, filepath.FromSlash(img.Path)))
	assert.NoError(t, err)
	_, err = os.Stat(filepath.Join(env.localRoot, legacy.AddressHash+".jpg"))
	assert.NoError(t, err)
}

func TestReconciler_GracePeriodProtectsFreshObjects(t *testing.T) {
	env := newTestEnv(t)
	fresh := writeFile(t, env.localRoot, "2099/01/in-flight.png", []byte("uploading"))

	reports, err := newAgedReconciler(env, 0).Run(context.Background(), false)
	require.NoError(t, err)

	r := reportFor(t, reports, env.local.ID)
	assert.Equal(t, 1, r.Scanned)
	assert.Empty(t, r.Orphans)

	_, err = os.Stat(fresh)
	assert.NoError(t, err)
}

func TestReconciler_CancelledContext(t *testing.T) {
	env := newTestEnv(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := newAgedReconciler(env, time.Hour).Run(ctx, true)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestReconciler_StartRejectsBadSchedule(t *testing.T) {
	env := newTestEnv(t)
	r := NewReconciler(env.strategies, env.images, env.router, 0)
	assert.Equal(t, defaultGracePeriod, r.grace)

	assert.Error(t, r.Start("not a schedule"))

	require.NoError(t, r.Start("0 0 3 * * *"))
	require.NoError(t, r.Start("0 0 3 * * *"))
	r.Stop()
	r.Stop()
}

func TestReconciler_SkipsStrategiesSharingARoot(t *testing.T) {
	env := newTestEnv(t)
	img := env.uploadBytes(1, []byte("lives on the system strategy"), "image/png", false).Image
	live := filepath.Join(env.localRoot, filepath.FromSlash(img.Path))

	same := env.addStrategy("local", "same-root", env.localRoot, false)
	require.NoError(t, env.strategies.Bind(2, same.ID, true))
	nested := env.addStrategy("local", "nested", filepath.Join(env.localRoot, "2020"), false)
	stray := writeFile(t, env.localRoot, "2020/01/stray.png", []byte("stray"))

	reports, err := newAgedReconciler(env, 2*time.Hour).Run(context.Background(), false)
	require.NoError(t, err)

	for _, id := range []uint{env.local.ID, same.ID, nested.ID} {
		r := reportFor(t, reports, id)
		assert.Contains(t, r.Skipped, "overlaps", "strategy %d", id)
		assert.Zero(t, r.Deleted)
	}

	_, err = os.Stat(live)
	assert.NoError(t, err)
	_, err = os.Stat(stray)
	assert.NoError(t, err)

	resolved, err := env.resolver.ByID(context.Background(), img.ID, anonymous)
	require.NoError(t, err)
	_, err = env.resolver.Open(context.Background(), resolved)
	assert.NoError(t, err)
}

func TestReconciler_SeparateRootsStillSwept(t *testing.T) {
	env := newTestEnv(t)
	other := env.addStrategy("local", "other", t.TempDir(), true)
	orphan := writeFile(t, env.localRoot, "2020/01/orphan.png", []byte("x"))

	reports, err := newAgedReconciler(env, 2*time.Hour).Run(context.Background(), false)
	require.NoError(t, err)

	assert.Empty(t, reportFor(t, reports, other.ID).Skipped)
	assert.Equal(t, 1, reportFor(t, reports, env.local.ID).Deleted)
	_, err = os.Stat(orphan)
	assert.True(t, os.IsNotExist(err))
}
