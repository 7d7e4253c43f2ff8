package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cuemby/embassyd/pkg/health"
	"github.com/cuemby/embassyd/pkg/log"
	"github.com/cuemby/embassyd/pkg/metrics"
	"github.com/cuemby/embassyd/pkg/store"
	"github.com/cuemby/embassyd/pkg/types"
	"github.com/cuemby/embassyd/pkg/volume"
	specs "github.com/opencontainers/runtime-spec/specs-go"
	"github.com/rs/zerolog"
)

// Runtime is the container-runtime slice the supervisor drives.
// Satisfied by *runtime.ContainerdRuntime.
type Runtime interface {
	CreateMainService(ctx context.Context, containerID string, spec types.ServiceSpec, secretsPath string, volumeMounts []specs.Mount, resolvConfPath string) (string, error)
	StartContainer(ctx context.Context, containerID string) error
	StopContainer(ctx context.Context, containerID string, timeout time.Duration) error
	DeleteContainer(ctx context.Context, containerID string) error
	IsRunning(ctx context.Context, containerID string) bool
}

// SecretsPath resolves the host directory bind-mounted as a running
// container's /run/secrets, empty if the package has none. Satisfied by
// *security.SecretsManager.
type SecretsPath interface {
	SecretsDirFor(pkg types.PackageId) string
}

// containerIDFor is the containerd container id a package's main
// service runs under. Stable across restarts so a supervisor restart
// can find and adopt an already-running container.
func containerIDFor(pkg types.PackageId) string {
	return fmt.Sprintf("embassyd-main-%s", pkg)
}

type tracked struct {
	cancel context.CancelFunc
}

// Supervisor starts, stops and health-checks one main-service container
// per Installed package, driven by each package's MainStatus.
type Supervisor struct {
	Store   *store.Store
	Runtime Runtime
	Volumes volume.Driver
	Secrets SecretsPath

	// StopTimeout bounds how long StopMain waits for a graceful exit
	// before the runtime escalates to SIGKILL. Defaults to 10s.
	StopTimeout time.Duration

	logger zerolog.Logger

	mu      sync.Mutex
	tracked map[types.PackageId]*tracked
}

// New returns a Supervisor. volumes and secrets may be nil; a nil
// Secrets just skips the /run/secrets bind mount.
func New(st *store.Store, rt Runtime, volumes volume.Driver, secrets SecretsPath) *Supervisor {
	return &Supervisor{
		Store:       st,
		Runtime:     rt,
		Volumes:     volumes,
		Secrets:     secrets,
		StopTimeout: 10 * time.Second,
		logger:      log.WithComponent("supervisor"),
		tracked:     make(map[types.PackageId]*tracked),
	}
}

// Init satisfies reconciler.ManagerInitializer: it starts tracking every
// Installed package in snapshot, and brings any package the reconciler
// reset to Starting back up.
func (sp *Supervisor) Init(snapshot map[types.PackageId]types.PackageDataEntry) error {
	for pkgID, entry := range snapshot {
		if entry.Variant != types.VariantInstalled || entry.Installed == nil {
			continue
		}
		sp.track(pkgID)
		if entry.Installed.MainStatus == types.MainStatusStarting {
			if err := sp.StartMain(context.Background(), pkgID); err != nil {
				sp.logger.Error().Err(err).Str("package", string(pkgID)).Msg("failed to start main service during init")
			}
		}
	}
	return nil
}

func (sp *Supervisor) track(pkg types.PackageId) {
	sp.mu.Lock()
	defer sp.mu.Unlock()
	if _, ok := sp.tracked[pkg]; ok {
		return
	}
	sp.tracked[pkg] = &tracked{}
}

// untrack cancels the health-check loop for pkg, if one is running, and
// stops tracking it. Called on uninstall.
func (sp *Supervisor) untrack(pkg types.PackageId) {
	sp.mu.Lock()
	t, ok := sp.tracked[pkg]
	delete(sp.tracked, pkg)
	sp.mu.Unlock()
	if ok && t.cancel != nil {
		t.cancel()
	}
}

// StartMain creates (if needed) and starts pkg's main service container,
// sets MainStatus to Running on success or Failed on error, and begins
// its health-check loop if the manifest declares one.
func (sp *Supervisor) StartMain(ctx context.Context, pkg types.PackageId) error {
	entry, found, err := sp.Store.Peek(pkg)
	if err != nil {
		return fmt.Errorf("looking up %s: %w", pkg, err)
	}
	if !found || entry.Installed == nil {
		return fmt.Errorf("package %s is not installed", pkg)
	}
	manifest := entry.Installed.Manifest

	containerID := containerIDFor(pkg)
	if err := sp.ensureContainer(ctx, pkg, containerID, manifest); err != nil {
		sp.setMainStatus(pkg, types.MainStatusFailed)
		return err
	}

	if err := sp.Runtime.StartContainer(ctx, containerID); err != nil {
		sp.setMainStatus(pkg, types.MainStatusFailed)
		return fmt.Errorf("starting main service for %s: %w", pkg, err)
	}

	sp.setMainStatus(pkg, types.MainStatusRunning)
	sp.track(pkg)

	if manifest.Main.HealthCheck != nil {
		sp.beginHealthLoop(pkg, *manifest.Main.HealthCheck)
	}
	return nil
}

// StopMain stops pkg's main service container and sets MainStatus to
// Stopped. Any running health-check loop for pkg is cancelled first.
func (sp *Supervisor) StopMain(ctx context.Context, pkg types.PackageId) error {
	sp.cancelHealthLoop(pkg)

	sp.setMainStatus(pkg, types.MainStatusStopping)
	if err := sp.Runtime.StopContainer(ctx, containerIDFor(pkg), sp.StopTimeout); err != nil {
		sp.setMainStatus(pkg, types.MainStatusFailed)
		return fmt.Errorf("stopping main service for %s: %w", pkg, err)
	}
	sp.setMainStatus(pkg, types.MainStatusStopped)
	return nil
}

// Remove stops and deletes pkg's main service container and drops it
// from tracking. Called by the uninstall path once volumes and
// interfaces have been torn down.
func (sp *Supervisor) Remove(ctx context.Context, pkg types.PackageId) error {
	sp.cancelHealthLoop(pkg)
	sp.untrack(pkg)
	return sp.Runtime.DeleteContainer(ctx, containerIDFor(pkg))
}

func (sp *Supervisor) ensureContainer(ctx context.Context, pkg types.PackageId, containerID string, manifest types.Manifest) error {
	secretsPath := ""
	if sp.Secrets != nil {
		secretsPath = sp.Secrets.SecretsDirFor(pkg)
	}

	var mounts []specs.Mount
	if sp.Volumes != nil {
		for name, spec := range manifest.Volumes {
			hostPath := sp.Volumes.Path(pkg, spec)
			if hostPath == "" {
				continue
			}
			mounts = append(mounts, specs.Mount{
				Source:      hostPath,
				Destination: spec.Path,
				Type:        "bind",
				Options:     []string{"rbind"},
			})
			_ = name
		}
	}

	_, err := sp.Runtime.CreateMainService(ctx, containerID, manifest.Main, secretsPath, mounts, "")
	if err != nil {
		return fmt.Errorf("creating main service container for %s: %w", pkg, err)
	}
	return nil
}

func (sp *Supervisor) setMainStatus(pkg types.PackageId, status types.MainStatus) {
	err := sp.Store.Mutate(pkg, func(entry *types.PackageDataEntry) error {
		if entry.Installed == nil {
			return fmt.Errorf("package %s is not installed", pkg)
		}
		entry.Installed.MainStatus = status
		return nil
	})
	if err != nil {
		sp.logger.Error().Err(err).Str("package", string(pkg)).Str("status", string(status)).Msg("failed to persist main status")
	}
}

// beginHealthLoop starts a ticker that runs spec's command every
// spec.Interval and marks the package Failed on a reported failure.
// A Disabled or Success outcome leaves MainStatus untouched.
func (sp *Supervisor) beginHealthLoop(pkg types.PackageId, spec types.HealthCheckSpec) {
	sp.cancelHealthLoop(pkg)

	interval := spec.Interval
	if interval <= 0 {
		interval = 30 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	sp.mu.Lock()
	sp.tracked[pkg] = &tracked{cancel: cancel}
	sp.mu.Unlock()

	go sp.healthLoop(ctx, pkg, spec.Command, interval)
}

func (sp *Supervisor) healthLoop(ctx context.Context, pkg types.PackageId, command []string, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			result := health.RunPackageCheck(ctx, command)
			metrics.HealthChecksTotal.WithLabelValues(string(pkg), string(result.Result.Kind)).Inc()
			if result.Result.Kind == types.HealthFailure {
				sp.logger.Warn().Str("package", string(pkg)).Str("error", result.Result.Error).Msg("main service health check failed")
				sp.setMainStatus(pkg, types.MainStatusFailed)
			}
		}
	}
}

func (sp *Supervisor) cancelHealthLoop(pkg types.PackageId) {
	sp.mu.Lock()
	t, ok := sp.tracked[pkg]
	sp.mu.Unlock()
	if ok && t.cancel != nil {
		t.cancel()
		sp.mu.Lock()
		sp.tracked[pkg] = &tracked{}
		sp.mu.Unlock()
	}
}
