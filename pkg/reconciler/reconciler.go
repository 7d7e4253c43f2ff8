package reconciler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cuemby/embassyd/pkg/log"
	"github.com/cuemby/embassyd/pkg/metrics"
	"github.com/cuemby/embassyd/pkg/store"
	"github.com/cuemby/embassyd/pkg/types"
	"github.com/rs/zerolog"
)

// VolumeTeardown is the subset of volume.Driver the reconciler needs:
// deleting a package's declared volumes on uninstall, and purging a
// package's scratch directory on every boot.
type VolumeTeardown interface {
	Delete(pkg types.PackageId, spec types.VolumeSpec) error
	PurgeTmp(pkg types.PackageId) error
}

// InterfaceUnbinder releases whatever network bindings an installer's
// InterfaceBinder set up for a package, undoing DNAT rules, local DNS
// records and ingress routes. Optional: a nil Interfaces field just
// skips this step, for callers that haven't wired the network
// controller yet.
type InterfaceUnbinder interface {
	Unbind(pkg types.PackageId) error
}

// ManagerInitializer hands the post-sweep package snapshot to the
// process-manager subsystem, which starts a supervisor per package
// whose MainStatus came out of the sweep as Starting. Optional.
type ManagerInitializer interface {
	Init(snapshot map[types.PackageId]types.PackageDataEntry) error
}

// Reconciler runs the boot-time sweep described in package doc.
type Reconciler struct {
	Store      *store.Store
	Volumes    VolumeTeardown
	Interfaces InterfaceUnbinder
	Managers   ManagerInitializer

	// PublicRoot is the directory an interrupted install may have
	// partially unpacked manifest/license/icon assets into; cleanup
	// removes <PublicRoot>/<pkg> wholesale. Left empty, step 2 skips
	// filesystem cleanup and only drops the stale database entry.
	PublicRoot string

	logger zerolog.Logger
}

// New builds a Reconciler. volumes must be non-nil; interfaces and
// managers may be nil when those subsystems aren't wired yet.
func New(st *store.Store, volumes VolumeTeardown, interfaces InterfaceUnbinder, managers ManagerInitializer) *Reconciler {
	return &Reconciler{
		Store:      st,
		Volumes:    volumes,
		Interfaces: interfaces,
		Managers:   managers,
		logger:     log.WithComponent("reconciler"),
	}
}

// Reconcile runs the five-step sweep once. It logs and continues past
// any single package's failure; only a cancelled context stops it
// early.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconciliationDuration)
		metrics.ReconciliationCyclesTotal.Inc()
	}()

	r.logger.Info().Msg("reconciliation sweep starting")

	if err := r.rebuildDependents(); err != nil {
		r.logger.Error().Err(err).Msg("dependency back-reference rebuild failed")
	}

	r.dispatch()

	if err := r.resetMainStatus(); err != nil {
		r.logger.Error().Err(err).Msg("main status reset failed")
	}

	if err := r.initManagers(); err != nil {
		r.logger.Error().Err(err).Msg("manager init failed")
	}

	if err := r.recheckDependencyConfig(); err != nil {
		r.logger.Error().Err(err).Msg("dependency config recheck failed")
	}

	r.logger.Info().Msg("reconciliation sweep complete")
	return nil
}

// rebuildDependents recomputes every package's CurrentDependents set
// from scratch, derived from every Installed entry's
// CurrentDependencies, and writes the result back in one transaction.
func (r *Reconciler) rebuildDependents() error {
	snapshot, err := r.Store.List()
	if err != nil {
		return fmt.Errorf("listing package entries: %w", err)
	}

	dependents := make(map[types.PackageId]map[types.PackageId]struct{})
	for pkgID, entry := range snapshot {
		if entry.Variant != types.VariantInstalled || entry.Installed == nil {
			continue
		}
		for dep := range entry.Installed.CurrentDependencies {
			if dependents[dep] == nil {
				dependents[dep] = make(map[types.PackageId]struct{})
			}
			dependents[dep][pkgID] = struct{}{}
		}
	}

	tx, err := r.Store.Begin()
	if err != nil {
		return fmt.Errorf("beginning dependency rebuild transaction: %w", err)
	}

	for pkgID, entry := range snapshot {
		switch entry.Variant {
		case types.VariantInstalled:
			if entry.Installed == nil {
				continue
			}
			entry.Installed.CurrentDependents = nonNil(dependents[pkgID])
		case types.VariantRemoving:
			if entry.Removing == nil {
				continue
			}
			entry.Removing.CurrentDependents = nonNil(dependents[pkgID])
		default:
			continue
		}
		if err := tx.Put(pkgID, entry); err != nil {
			tx.Rollback()
			return fmt.Errorf("writing dependents for %s: %w", pkgID, err)
		}
	}

	return tx.Commit()
}

func nonNil(m map[types.PackageId]struct{}) map[types.PackageId]struct{} {
	if m == nil {
		return make(map[types.PackageId]struct{})
	}
	return m
}

// dispatch takes one cleanup or teardown action per package entry,
// keyed on its lifecycle variant. A failed action is logged; the next
// package still runs.
func (r *Reconciler) dispatch() {
	snapshot, err := r.Store.List()
	if err != nil {
		r.logger.Error().Err(err).Msg("listing package entries for dispatch")
		return
	}

	for pkgID, entry := range snapshot {
		var actionErr error
		switch entry.Variant {
		case types.VariantInstalling, types.VariantRestoring, types.VariantUpdating:
			actionErr = r.cleanupInterrupted(pkgID)
		case types.VariantRemoving:
			actionErr = r.uninstall(pkgID, entry)
		case types.VariantInstalled:
			actionErr = r.Volumes.PurgeTmp(pkgID)
		default:
			continue
		}
		if actionErr != nil {
			r.logger.Error().Err(actionErr).Str("pkg_id", string(pkgID)).
				Str("variant", string(entry.Variant)).
				Msg("reconciliation action failed for package")
		}
	}
}

// cleanupInterrupted discards a package caught mid Installing, Updating
// or Restoring when the process last stopped: nothing was ever
// committed to Installed, so there's no partial container or volume
// state to unwind, only a stale database entry and whatever manifest
// assets a partial unpack left on disk.
func (r *Reconciler) cleanupInterrupted(pkgID types.PackageId) error {
	if r.PublicRoot != "" {
		if err := os.RemoveAll(filepath.Join(r.PublicRoot, string(pkgID))); err != nil {
			return fmt.Errorf("removing partial public directory: %w", err)
		}
	}
	return r.Store.Delete(pkgID)
}

// uninstall finishes a Removing entry left over from an interrupted
// uninstall: unbind whatever network surfaces the package claimed,
// delete its declared volumes, then drop the database entry.
func (r *Reconciler) uninstall(pkgID types.PackageId, entry types.PackageDataEntry) error {
	if entry.Removing == nil {
		return r.Store.Delete(pkgID)
	}

	if r.Interfaces != nil {
		if err := r.Interfaces.Unbind(pkgID); err != nil {
			return fmt.Errorf("unbinding interfaces: %w", err)
		}
	}

	for _, spec := range entry.Removing.Manifest.Volumes {
		if err := r.Volumes.Delete(pkgID, spec); err != nil {
			return fmt.Errorf("deleting volume %q: %w", spec.Name, err)
		}
	}

	return r.Store.Delete(pkgID)
}

// resetMainStatus carries every Installed package's MainStatus across
// the restart: one that was Running gets a fresh Starting (the
// supervisor started in the manager-init step will bring it back up),
// anything else settles to Stopped.
func (r *Reconciler) resetMainStatus() error {
	tx, err := r.Store.Begin()
	if err != nil {
		return fmt.Errorf("beginning main status reset transaction: %w", err)
	}

	type update struct {
		id    types.PackageId
		entry types.PackageDataEntry
	}
	var updates []update

	err = tx.ForEachPackage(func(pkgID types.PackageId, entry types.PackageDataEntry) error {
		if entry.Variant != types.VariantInstalled || entry.Installed == nil {
			return nil
		}
		if entry.Installed.MainStatus == types.MainStatusRunning {
			entry.Installed.MainStatus = types.MainStatusStarting
		} else {
			entry.Installed.MainStatus = types.MainStatusStopped
		}
		updates = append(updates, update{pkgID, entry})
		return nil
	})
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("reading package entries: %w", err)
	}

	for _, u := range updates {
		if err := tx.Put(u.id, u.entry); err != nil {
			tx.Rollback()
			return fmt.Errorf("writing main status for %s: %w", u.id, err)
		}
	}

	return tx.Commit()
}

// initManagers hands the post-reset snapshot to the process-manager
// subsystem, a no-op until pkg/supervisor is wired in.
func (r *Reconciler) initManagers() error {
	if r.Managers == nil {
		return nil
	}
	snapshot, err := r.Store.List()
	if err != nil {
		return fmt.Errorf("listing package entries for manager init: %w", err)
	}
	return r.Managers.Init(snapshot)
}

// recheckDependencyConfig recomputes each Installed package's
// DependencyConfigErrors against the current snapshot: a dependency
// that's missing, or installed at a version outside the declared
// range, each produce one message.
func (r *Reconciler) recheckDependencyConfig() error {
	snapshot, err := r.Store.List()
	if err != nil {
		return fmt.Errorf("listing package entries for dependency recheck: %w", err)
	}

	for pkgID, entry := range snapshot {
		if entry.Variant != types.VariantInstalled || entry.Installed == nil {
			continue
		}
		errs := computeDependencyConfigErrs(entry.Installed.Manifest, snapshot)

		err := r.Store.Mutate(pkgID, func(e *types.PackageDataEntry) error {
			if e.Variant == types.VariantInstalled && e.Installed != nil {
				e.Installed.DependencyConfigErrors = errs
			}
			return nil
		})
		if err != nil {
			r.logger.Error().Err(err).Str("pkg_id", string(pkgID)).
				Msg("failed to write dependency config errors")
		}
	}
	return nil
}

func computeDependencyConfigErrs(manifest types.Manifest, snapshot map[types.PackageId]types.PackageDataEntry) []string {
	var errs []string
	for depID, dep := range manifest.Dependencies {
		depEntry, ok := snapshot[depID]
		if !ok || depEntry.Variant != types.VariantInstalled || depEntry.Installed == nil {
			if !dep.Optional {
				errs = append(errs, fmt.Sprintf("%s is not installed", depID))
			}
			continue
		}

		satisfied, err := depEntry.Installed.Manifest.Version.Satisfies(dep.VersionRange)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid version range %q: %v", depID, dep.VersionRange, err))
			continue
		}
		if !satisfied {
			errs = append(errs, fmt.Sprintf("%s@%s does not satisfy %s", depID, depEntry.Installed.Manifest.Version, dep.VersionRange))
		}
	}
	return errs
}
