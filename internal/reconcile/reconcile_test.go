package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vastlab/vastctl/internal/errors"
	"github.com/vastlab/vastctl/internal/logger"
	"github.com/vastlab/vastctl/internal/provider"
	"github.com/vastlab/vastctl/internal/provider/providertest"
	"github.com/vastlab/vastctl/internal/registry"
)

func setup(t *testing.T) (*registry.Registry, *providertest.Fake, *Reconciler) {
	t.Helper()
	reg := registry.New(t.TempDir(), registry.WithLogger(logger.Noop()))
	fake := providertest.New()
	rec := New(reg, fake, WithLogger(logger.Noop()))
	return reg, fake, rec
}

func create(t *testing.T, reg *registry.Registry, name string) {
	t.Helper()
	_, err := reg.Create(name, registry.Descriptor{GPUType: "A100", GPUCount: 1, DiskGB: 200, Image: "img"}, "", nil)
	require.NoError(t, err)
}

func bind(t *testing.T, reg *registry.Registry, name, remoteID string) {
	t.Helper()
	_, err := reg.UpdateRecord(name, func(r *registry.InstanceRecord) error {
		r.RemoteID = remoteID
		r.Status = registry.StatusRunning
		r.Endpoint = &registry.Endpoint{Host: "1.2.3.4", Port: 22022}
		r.LastSyncedAt = time.Now()
		return nil
	})
	require.NoError(t, err)
}

func TestBindPendingByLabel(t *testing.T) {
	reg, fake, rec := setup(t)
	create(t, reg, "mybox")
	fake.Add(provider.RemoteInstance{
		ID: "c123", Label: "mybox", Status: "running", Host: "1.2.3.4", Port: 22022,
	})

	res, err := rec.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mybox"}, res.Bound)

	got, err := reg.Get("mybox")
	require.NoError(t, err)
	assert.Equal(t, "c123", got.RemoteID)
	assert.Equal(t, registry.StatusRunning, got.Status)
	require.NotNil(t, got.Endpoint)
	assert.Equal(t, "1.2.3.4:22022", got.Endpoint.String())
	assert.False(t, got.LastSyncedAt.IsZero())
}

func TestPendingWithoutRemoteMatch_NoError(t *testing.T) {
	reg, _, rec := setup(t)
	create(t, reg, "mybox")

	res, err := rec.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Bound)
	assert.Empty(t, res.Destroyed)

	got, err := reg.Get("mybox")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusPending, got.Status)
	assert.Empty(t, got.RemoteID)
}

func TestIdempotent(t *testing.T) {
	reg, fake, rec := setup(t)
	create(t, reg, "mybox")
	fake.Add(provider.RemoteInstance{
		ID: "c123", Label: "mybox", Status: "running", Host: "1.2.3.4", Port: 22022,
	})

	_, err := rec.All(context.Background())
	require.NoError(t, err)
	first, err := reg.Get("mybox")
	require.NoError(t, err)

	_, err = rec.All(context.Background())
	require.NoError(t, err)
	second, err := reg.Get("mybox")
	require.NoError(t, err)

	// Identical except the sync timestamp
	second.LastSyncedAt = first.LastSyncedAt
	assert.Equal(t, first, second)
}

func TestAbsentFromList_TransientFailure_GoesUnreachableNotDestroyed(t *testing.T) {
	reg, fake, rec := setup(t)
	create(t, reg, "mybox")
	bind(t, reg, "mybox", "c123")

	// Absent from the listing and the direct probe fails transiently
	fake.GetErrs["c123"] = errors.New(errors.ErrProvider, "api flaking", "")

	for i := 0; i < 3; i++ {
		res, err := rec.All(context.Background())
		require.NoError(t, err)
		assert.Contains(t, res.Unreachable, "mybox")
	}

	got, err := reg.Get("mybox")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusUnreachable, got.Status)
	assert.Equal(t, "c123", got.RemoteID)
	assert.True(t, got.LastDestroyAt.IsZero())
}

func TestExplicitNotFound_MarksDestroyed(t *testing.T) {
	reg, fake, rec := setup(t)
	create(t, reg, "mybox")
	bind(t, reg, "mybox", "c123")
	_ = fake // instance never added: probe yields an explicit 404

	res, err := rec.All(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"mybox"}, res.Destroyed)

	got, err := reg.Get("mybox")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusDestroyed, got.Status)
	assert.Nil(t, got.Endpoint)
	assert.False(t, got.LastDestroyAt.IsZero())
	_, usable := got.UsableEndpoint()
	assert.False(t, usable)
}

func TestStaleListing_ProbeRecovers(t *testing.T) {
	reg, fake, _ := setup(t)
	create(t, reg, "mybox")
	bind(t, reg, "mybox", "c123")

	// The listing omits the instance but a direct probe still finds it.
	fake.Add(provider.RemoteInstance{ID: "c123", Status: "running", Host: "9.9.9.9", Port: 40000})
	hybrid := &listOmitting{Fake: fake, hide: "c123"}
	rec2 := New(reg, hybrid, WithLogger(logger.Noop()))

	res, err := rec2.All(context.Background())
	require.NoError(t, err)
	assert.Contains(t, res.Synced, "mybox")

	got, err := reg.Get("mybox")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusRunning, got.Status)
	assert.Equal(t, "9.9.9.9:40000", got.Endpoint.String())
	assert.Equal(t, 0, got.MissCount)
}

// listOmitting hides one id from listings while leaving direct lookups
// intact, mimicking a stale provider listing.
type listOmitting struct {
	*providertest.Fake
	hide string
}

func (l *listOmitting) ListInstances(ctx context.Context) ([]provider.RemoteInstance, error) {
	all, err := l.Fake.ListInstances(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, inst := range all {
		if inst.ID != l.hide {
			out = append(out, inst)
		}
	}
	return out, nil
}

func TestLabelCollision_ReportedNotResolved(t *testing.T) {
	reg, fake, rec := setup(t)
	create(t, reg, "mybox")
	fake.Add(provider.RemoteInstance{ID: "c1", Label: "mybox", Status: "running"})
	fake.Add(provider.RemoteInstance{ID: "c2", Label: "mybox", Status: "running"})

	res, err := rec.All(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Collisions, 1)
	assert.Equal(t, "mybox", res.Collisions[0].Name)
	assert.Len(t, res.Collisions[0].RemoteIDs, 2)

	// Record untouched
	got, err := reg.Get("mybox")
	require.NoError(t, err)
	assert.Empty(t, got.RemoteID)
	assert.Equal(t, registry.StatusPending, got.Status)

	// Asking for that specific name surfaces the collision as an error
	_, err = rec.One(context.Background(), "mybox")
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrLabelCollision))
}

func TestLabelTie_PrefersBoundRemoteID(t *testing.T) {
	reg, fake, rec := setup(t)
	create(t, reg, "mybox")
	bind(t, reg, "mybox", "c1")
	fake.Add(provider.RemoteInstance{ID: "c1", Label: "mybox", Status: "running", Host: "1.1.1.1", Port: 1})
	fake.Add(provider.RemoteInstance{ID: "c2", Label: "mybox", Status: "running", Host: "2.2.2.2", Port: 2})

	res, err := rec.All(context.Background())
	require.NoError(t, err)
	assert.Empty(t, res.Collisions)

	got, err := reg.Get("mybox")
	require.NoError(t, err)
	assert.Equal(t, "c1", got.RemoteID)
	assert.Equal(t, "1.1.1.1:1", got.Endpoint.String())
}

func TestDestroyedRecordIsSkipped(t *testing.T) {
	reg, fake, rec := setup(t)
	create(t, reg, "mybox")
	bind(t, reg, "mybox", "c123")
	require.NoError(t, reg.MarkDestroyed("mybox"))

	fake.Add(provider.RemoteInstance{ID: "c123", Label: "mybox", Status: "running"})

	_, err := rec.All(context.Background())
	require.NoError(t, err)

	got, err := reg.Get("mybox")
	require.NoError(t, err)
	assert.Equal(t, registry.StatusDestroyed, got.Status)
}

func TestProviderUnreachable_Surfaced(t *testing.T) {
	reg, fake, rec := setup(t)
	create(t, reg, "mybox")
	fake.ListErr = errors.New(errors.ErrProvider, "api down", "")

	_, err := rec.All(context.Background())
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrProvider))
}

func TestEnsureFresh_SkipsProviderWhenRecent(t *testing.T) {
	reg, fake, rec := setup(t)
	create(t, reg, "mybox")
	bind(t, reg, "mybox", "c123")

	got, err := rec.EnsureFresh(context.Background(), "mybox", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, "c123", got.RemoteID)
	assert.Equal(t, 0, fake.ListCalls)
}

func TestEnsureFresh_ReconcilesWhenStale(t *testing.T) {
	reg, fake, rec := setup(t)
	create(t, reg, "mybox")
	bind(t, reg, "mybox", "c123")
	fake.Add(provider.RemoteInstance{ID: "c123", Label: "mybox", Status: "stopped"})

	_, err := reg.UpdateRecord("mybox", func(r *registry.InstanceRecord) error {
		r.LastSyncedAt = time.Now().Add(-time.Hour)
		return nil
	})
	require.NoError(t, err)

	got, err := rec.EnsureFresh(context.Background(), "mybox", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, registry.StatusStopped, got.Status)
	assert.Equal(t, 1, fake.ListCalls)
}

func TestNames_UnknownName(t *testing.T) {
	_, _, rec := setup(t)
	_, err := rec.Names(context.Background(), []string{"ghost"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrNotFound))
}
