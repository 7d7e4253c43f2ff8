package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/cuemby/embassyd/pkg/installer"
	"github.com/cuemby/embassyd/pkg/types"
	"github.com/stretchr/testify/require"
)

type fakeInstaller struct {
	mu      sync.Mutex
	ran     []types.PackageId
	failFor map[types.PackageId]bool
}

func newFakeInstaller(failFor ...types.PackageId) *fakeInstaller {
	f := &fakeInstaller{failFor: make(map[types.PackageId]bool)}
	for _, id := range failFor {
		f.failFor[id] = true
	}
	return f
}

func (f *fakeInstaller) Install(ctx context.Context, pkgID types.PackageId, version types.Version, src installer.Source) error {
	f.mu.Lock()
	f.ran = append(f.ran, pkgID)
	fail := f.failFor[pkgID]
	f.mu.Unlock()

	if fail {
		return errors.New("boom")
	}
	return nil
}

func mustVersion(t *testing.T, v string) types.Version {
	t.Helper()
	parsed, err := types.ParseVersion(v)
	require.NoError(t, err)
	return parsed
}

func TestRunAllRunsEveryJob(t *testing.T) {
	inst := newFakeInstaller()
	s := New(inst, 2)

	jobs := []Job{
		{PackageID: "hello-world", Version: mustVersion(t, "1.0.0")},
		{PackageID: "postgres", Version: mustVersion(t, "14.2.0")},
		{PackageID: "redis", Version: mustVersion(t, "7.0.0")},
	}

	require.NoError(t, s.RunAll(context.Background(), jobs))
	require.ElementsMatch(t, []types.PackageId{"hello-world", "postgres", "redis"}, inst.ran)
}

func TestRunAllReturnsErrorButStillRunsOtherJobs(t *testing.T) {
	inst := newFakeInstaller("postgres")
	s := New(inst, 2)

	jobs := []Job{
		{PackageID: "hello-world", Version: mustVersion(t, "1.0.0")},
		{PackageID: "postgres", Version: mustVersion(t, "14.2.0")},
		{PackageID: "redis", Version: mustVersion(t, "7.0.0")},
	}

	err := s.RunAll(context.Background(), jobs)
	require.Error(t, err)
	require.ElementsMatch(t, []types.PackageId{"hello-world", "postgres", "redis"}, inst.ran)
}

func TestNewDefaultsInvalidConcurrency(t *testing.T) {
	s := New(newFakeInstaller(), 0)
	require.Equal(t, DefaultConcurrency, s.Concurrency)
}
