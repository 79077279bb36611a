package mockzfs

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reprise/internal/zfs"
)

func TestStore_CreateSnapshotClone(t *testing.T) {
	s := New("/tmp/reprise-test")
	ctx := context.Background()

	master := zfs.NewDataset(s, "zroot/reprise/jails/freebsd14")
	require.NoError(t, master.Create(ctx, true, nil))
	require.NoError(t, master.Snapshot(ctx, "clean", false))

	instance := zfs.NewDataset(s, "zroot/reprise/instances/abc123")
	require.NoError(t, instance.CloneFrom(ctx, master, "clean", true))
	require.NoError(t, instance.ResolveMountpoint(ctx))

	path, err := instance.GetPath()
	require.NoError(t, err)
	assert.Equal(t, "/tmp/reprise-test/zroot/reprise/instances/abc123", path)
}

func TestStore_CloneFromMissingSnapshotFails(t *testing.T) {
	s := New("/tmp/reprise-test")
	ctx := context.Background()
	master := zfs.NewDataset(s, "zroot/reprise/jails/freebsd14")
	require.NoError(t, master.Create(ctx, true, nil))

	instance := zfs.NewDataset(s, "zroot/reprise/instances/abc123")
	err := instance.CloneFrom(ctx, master, "clean", true)
	assert.Error(t, err)
}

func TestStore_PropertiesRoundTrip(t *testing.T) {
	s := New("/tmp/reprise-test")
	ctx := context.Background()
	ds := zfs.NewDataset(s, "zroot/reprise/jails/freebsd14")
	require.NoError(t, ds.Create(ctx, true, nil))
	require.NoError(t, ds.SetProperty(ctx, "reprise:jail_ready_epoch", "1"))

	v, ok, err := ds.GetPropertyMaybe(ctx, "reprise:jail_ready_epoch")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "1", v)

	_, ok, err = ds.GetPropertyMaybe(ctx, "reprise:missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStore_DestroyRemovesDataset(t *testing.T) {
	s := New("/tmp/reprise-test")
	ctx := context.Background()
	ds := zfs.NewDataset(s, "zroot/reprise/jails/freebsd14")
	require.NoError(t, ds.Create(ctx, true, nil))
	require.NoError(t, ds.Destroy(ctx))

	exists, err := ds.Exists(ctx)
	require.NoError(t, err)
	assert.False(t, exists)
}
