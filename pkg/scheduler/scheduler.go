package scheduler

import (
	"context"
	"fmt"

	"github.com/cuemby/embassyd/pkg/installer"
	"github.com/cuemby/embassyd/pkg/log"
	"github.com/cuemby/embassyd/pkg/types"
	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc/pool"
)

// DefaultConcurrency bounds how many installs run at once when a
// Scheduler is constructed with concurrency <= 0.
const DefaultConcurrency = 4

// Installer runs one package install. Satisfied by *installer.Installer.
type Installer interface {
	Install(ctx context.Context, pkgID types.PackageId, version types.Version, src installer.Source) error
}

// Job is one install task: a package id, the version being installed,
// and the archive byte source to install it from.
type Job struct {
	PackageID types.PackageId
	Version   types.Version
	Source    installer.Source
}

// Scheduler runs a batch of independent install Jobs as a bounded pool
// of goroutines.
type Scheduler struct {
	Installer   Installer
	Concurrency int

	logger zerolog.Logger
}

// New returns a Scheduler that runs at most concurrency installs at
// once (DefaultConcurrency if concurrency <= 0).
func New(inst Installer, concurrency int) *Scheduler {
	if concurrency <= 0 {
		concurrency = DefaultConcurrency
	}
	return &Scheduler{
		Installer:   inst,
		Concurrency: concurrency,
		logger:      log.WithComponent("scheduler"),
	}
}

// RunAll runs every job in its own goroutine, bounded by Concurrency.
// A failing job is logged and its error joined into the result; it
// never cancels or blocks the other jobs still running.
func (s *Scheduler) RunAll(ctx context.Context, jobs []Job) error {
	p := pool.New().WithMaxGoroutines(s.Concurrency).WithErrors().WithContext(ctx)

	for _, job := range jobs {
		job := job
		p.Go(func(ctx context.Context) error {
			if err := s.Installer.Install(ctx, job.PackageID, job.Version, job.Source); err != nil {
				s.logger.Error().Err(err).Str("package", string(job.PackageID)).Msg("install failed")
				return fmt.Errorf("installing %s: %w", job.PackageID, err)
			}
			return nil
		})
	}

	return p.Wait()
}
