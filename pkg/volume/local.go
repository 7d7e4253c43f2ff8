// Package volume provisions and mounts the persistent storage a
// package's manifest declares, and purges a package's scratch/tmp
// storage during boot-time reconciliation.
package volume

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/embassyd/pkg/types"
)

// DefaultVolumesPath is the base directory package volumes live under.
const DefaultVolumesPath = "/mnt/embassy-os/volumes"

// Driver provisions and tears down one package's declared volumes.
type Driver interface {
	// Create provisions the volume named by spec for pkg, returning its
	// host path.
	Create(pkg types.PackageId, spec types.VolumeSpec) (string, error)

	// Delete removes a previously created volume. Idempotent.
	Delete(pkg types.PackageId, spec types.VolumeSpec) error

	// Path returns the host path a volume would occupy, whether or not
	// it currently exists.
	Path(pkg types.PackageId, spec types.VolumeSpec) string

	// PurgeTmp removes a package's scratch directory, used by the
	// reconciler's tmp-purge step for packages left Installed across a
	// restart.
	PurgeTmp(pkg types.PackageId) error
}

// LocalDriver stores every package's volumes under one base directory,
// one subdirectory per (package, volume name).
type LocalDriver struct {
	basePath string
}

// NewLocalDriver creates a local volume driver rooted at basePath
// (DefaultVolumesPath if empty).
func NewLocalDriver(basePath string) (*LocalDriver, error) {
	if basePath == "" {
		basePath = DefaultVolumesPath
	}
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create volumes directory: %w", err)
	}
	return &LocalDriver{basePath: basePath}, nil
}

// Path returns the host path for a package's named volume.
func (d *LocalDriver) Path(pkg types.PackageId, spec types.VolumeSpec) string {
	return filepath.Join(d.basePath, string(pkg), spec.Name)
}

// Create creates the volume directory and returns its host path.
func (d *LocalDriver) Create(pkg types.PackageId, spec types.VolumeSpec) (string, error) {
	path := d.Path(pkg, spec)
	if err := os.MkdirAll(path, 0o755); err != nil {
		return "", fmt.Errorf("failed to create volume directory: %w", err)
	}
	return path, nil
}

// Delete removes a volume's directory and all contents. Returns nil if
// it is already gone.
func (d *LocalDriver) Delete(pkg types.PackageId, spec types.VolumeSpec) error {
	path := d.Path(pkg, spec)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to delete volume directory: %w", err)
	}
	return nil
}

// PurgeTmp removes a package's scratch directory (<basePath>/<pkg>/tmp),
// separate from its declared named volumes.
func (d *LocalDriver) PurgeTmp(pkg types.PackageId) error {
	path := filepath.Join(d.basePath, string(pkg), "tmp")
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil
	}
	if err := os.RemoveAll(path); err != nil {
		return fmt.Errorf("failed to purge tmp directory: %w", err)
	}
	return nil
}
