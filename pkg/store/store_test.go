package store

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cuemby/embassyd/pkg/types"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "embassyd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, s.Close()) })
	return s
}

func TestPutPeekRoundTrip(t *testing.T) {
	s := openTestStore(t)

	entry := types.PackageDataEntry{
		Variant:    types.VariantInstalling,
		Installing: &types.InstallingInfo{},
	}
	require.NoError(t, s.Put("hello-world", entry))

	got, found, err := s.Peek("hello-world")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, types.VariantInstalling, got.Variant)
}

func TestPeekMissing(t *testing.T) {
	s := openTestStore(t)
	_, found, err := s.Peek("nope")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMutateCreatesThenUpdates(t *testing.T) {
	s := openTestStore(t)

	err := s.Mutate("hello-world", func(e *types.PackageDataEntry) error {
		e.Variant = types.VariantInstalling
		e.Installing = &types.InstallingInfo{}
		return nil
	})
	require.NoError(t, err)

	err = s.Mutate("hello-world", func(e *types.PackageDataEntry) error {
		e.Installing.Progress.Downloaded = 42
		return nil
	})
	require.NoError(t, err)

	got, _, err := s.Peek("hello-world")
	require.NoError(t, err)
	require.Equal(t, int64(42), got.Installing.Progress.Downloaded)
}

func TestDeleteRemovesEntry(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("hello-world", types.PackageDataEntry{Variant: types.VariantInstalled}))
	require.NoError(t, s.Delete("hello-world"))

	_, found, err := s.Peek("hello-world")
	require.NoError(t, err)
	require.False(t, found)
}

func TestMarkBrokenAndList(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.MarkBroken("hello-world"))
	require.NoError(t, s.MarkBroken("hello-world")) // idempotent

	broken, err := s.Broken()
	require.NoError(t, err)
	_, ok := broken["hello-world"]
	require.True(t, ok)
	require.Len(t, broken, 1)
}

func TestSubscribeReceivesPut(t *testing.T) {
	s := openTestStore(t)
	sub := s.Subscribe()
	defer s.Unsubscribe(sub)

	require.NoError(t, s.Put("hello-world", types.PackageDataEntry{Variant: types.VariantInstalled}))

	select {
	case evt := <-sub:
		require.Equal(t, types.PackageId("hello-world"), evt.PackageID)
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for subscribe event")
	}
}

func TestListReturnsAllEntries(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("a", types.PackageDataEntry{Variant: types.VariantInstalled}))
	require.NoError(t, s.Put("b", types.PackageDataEntry{Variant: types.VariantRemoving}))

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestTxAtomicMultiKeyWrite(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin()
	require.NoError(t, err)

	require.NoError(t, tx.Put("a", types.PackageDataEntry{Variant: types.VariantInstalled}))
	require.NoError(t, tx.Put("b", types.PackageDataEntry{Variant: types.VariantInstalled}))
	require.NoError(t, tx.Commit())

	all, err := s.List()
	require.NoError(t, err)
	require.Len(t, all, 2)
}

func TestIPPoolAllocatesSequentialAddresses(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin()
	require.NoError(t, err)
	ipA, err := tx.AllocateIP("a")
	require.NoError(t, err)
	ipB, err := tx.AllocateIP("b")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Equal(t, "10.20.0.2", ipA.String())
	require.Equal(t, "10.20.0.3", ipB.String())
}

func TestIPPoolAllocateIsIdempotentPerPackage(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin()
	require.NoError(t, err)
	first, err := tx.AllocateIP("a")
	require.NoError(t, err)
	second, err := tx.AllocateIP("a")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.Equal(t, first.String(), second.String())
}

func TestIPPoolReleaseThenReallocateGetsNewAddress(t *testing.T) {
	s := openTestStore(t)

	tx, err := s.Begin()
	require.NoError(t, err)
	first, err := tx.AllocateIP("a")
	require.NoError(t, err)
	require.NoError(t, tx.ReleaseIP("a"))
	second, err := tx.AllocateIP("a")
	require.NoError(t, err)
	require.NoError(t, tx.Commit())

	require.NotEqual(t, first.String(), second.String())
}

func TestTxDeleteAndForEachPackage(t *testing.T) {
	s := openTestStore(t)
	require.NoError(t, s.Put("a", types.PackageDataEntry{Variant: types.VariantInstalled}))
	require.NoError(t, s.Put("b", types.PackageDataEntry{Variant: types.VariantRemoving}))

	tx, err := s.Begin()
	require.NoError(t, err)
	require.NoError(t, tx.Delete("a"))

	seen := make(map[types.PackageId]types.Variant)
	require.NoError(t, tx.ForEachPackage(func(id types.PackageId, entry types.PackageDataEntry) error {
		seen[id] = entry.Variant
		return nil
	}))
	require.NoError(t, tx.Commit())

	require.Equal(t, map[types.PackageId]types.Variant{"b": types.VariantRemoving}, seen)

	_, found, err := s.Peek("a")
	require.NoError(t, err)
	require.False(t, found)
}
