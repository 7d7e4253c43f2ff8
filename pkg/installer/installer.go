package installer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"syscall"

	"github.com/cuemby/embassyd/pkg/archive"
	"github.com/cuemby/embassyd/pkg/cache"
	"github.com/cuemby/embassyd/pkg/embassyerr"
	"github.com/cuemby/embassyd/pkg/log"
	"github.com/cuemby/embassyd/pkg/metrics"
	"github.com/cuemby/embassyd/pkg/progress"
	"github.com/cuemby/embassyd/pkg/store"
	"github.com/cuemby/embassyd/pkg/types"
	"github.com/cuemby/embassyd/pkg/volume"
	"github.com/rs/zerolog"
)

// DefaultPublicRoot is the base directory unpacked package assets live
// under.
const DefaultPublicRoot = "/mnt/embassy-os/public/package-data"

// Loader spawns the external image-loader process, piping a
// decompressed docker_images section to its stdin. Satisfied by
// *runtime.Loader.
type Loader interface {
	Load(ctx context.Context, images io.Reader) error
}

// InterfaceBinder publishes a package's declared interfaces once its
// main service has an address: host-port DNAT, local DNS, and the
// public ingress reverse proxy, depending on each interface's flags.
// Satisfied by *network.Controller.
type InterfaceBinder interface {
	Bind(pkg types.PackageId, ip net.IP, ifaces map[string]types.InterfaceSpec) error
}

// Source is the archive byte stream an install fetches from: an HTTP
// response body plus whatever headers the transport surfaced.
// DeclaredHash is the x-s9pk-hash header, if the transport sent one; an
// empty DeclaredHash always forces a cache miss (spec.md §4.3).
type Source struct {
	Body          io.Reader
	ContentLength int64 // 0 if unknown
	DeclaredHash  types.ContentHash
}

// Installer drives packages through the install pipeline, wiring the
// Content Cache, Archive Reader, Package Database, container-runtime
// Loader, volume driver and interface binder together.
type Installer struct {
	Store      *store.Store
	Cache      *cache.Cache
	Loader     Loader
	Volumes    volume.Driver
	Interfaces InterfaceBinder
	PublicRoot string
}

// New returns an Installer; publicRoot defaults to DefaultPublicRoot
// when empty.
func New(st *store.Store, c *cache.Cache, ld Loader, vol volume.Driver, bind InterfaceBinder, publicRoot string) *Installer {
	if publicRoot == "" {
		publicRoot = DefaultPublicRoot
	}
	return &Installer{Store: st, Cache: c, Loader: ld, Volumes: vol, Interfaces: bind, PublicRoot: publicRoot}
}

// Install drives pkg@version from whatever state the caller left its
// database entry in (Installing{progress}, already written by the
// caller before Install is invoked) through to Installed. Any phase
// failure marks the package broken and returns the original error; the
// cache file and public directory, if partially written, are left for
// the reconciler.
func (i *Installer) Install(ctx context.Context, pkgID types.PackageId, version types.Version, src Source) error {
	logger := log.WithPackage(string(pkgID), version.String())

	counter := progress.NewCounter(src.ContentLength)
	sink := i.progressSink(pkgID)

	timer := metrics.NewTimer()
	err := i.install(ctx, pkgID, version, src, counter, sink, logger)
	timer.ObserveDuration(metrics.InstallDuration)
	if err != nil {
		metrics.InstallsTotal.WithLabelValues("failure").Inc()
		if markErr := i.Store.MarkBroken(pkgID); markErr != nil {
			logger.Error().Err(markErr).Msg("failed to mark package broken after install failure")
		}
		return err
	}
	metrics.InstallsTotal.WithLabelValues("success").Inc()
	return nil
}

func (i *Installer) install(
	ctx context.Context,
	pkgID types.PackageId,
	version types.Version,
	src Source,
	counter *progress.Counter,
	sink progress.Sink,
	logger zerolog.Logger,
) error {
	rdr, err := i.fetchOrDownload(ctx, pkgID, version, src, counter, sink, logger)
	if err != nil {
		return err
	}

	if err := rdr.Validate(); err != nil {
		return err
	}
	counter.AddValidated(counter.Snapshot().Size)
	sink(counter.Snapshot())

	publicDir := i.publicDir(pkgID, version)
	if err := os.MkdirAll(publicDir, 0o755); err != nil {
		return embassyerr.New(embassyerr.KindFilesystem, "creating public directory", err)
	}

	logger.Info().Msg("unpacking manifest")
	manifest, err := i.unpackManifest(rdr, counter, sink)
	if err != nil {
		return err
	}

	logger.Info().Msg("unpacking license")
	if err := i.unpackRawSection(rdr.License, filepath.Join(publicDir, "LICENSE.md"), counter, sink); err != nil {
		return fmt.Errorf("unpacking license: %w", err)
	}

	iconExt := manifest.IconExt
	if iconExt == "" {
		iconExt = "png"
	}
	logger.Info().Str("ext", iconExt).Msg("unpacking icon")
	if err := i.unpackRawSection(rdr.Icon, filepath.Join(publicDir, "icon."+iconExt), counter, sink); err != nil {
		return fmt.Errorf("unpacking icon: %w", err)
	}

	logger.Info().Msg("loading container images")
	if err := i.loadImages(ctx, rdr, counter, sink); err != nil {
		return err
	}

	if rdr.HasInstructions() {
		logger.Info().Msg("unpacking instructions")
		if err := i.unpackZstdSection(rdr.Instructions, filepath.Join(publicDir, "INSTRUCTIONS.md"), counter, sink); err != nil {
			return fmt.Errorf("unpacking instructions: %w", err)
		}
	}

	counter.MarkReadComplete()
	sink(counter.Snapshot())

	logger.Info().Msg("committing install")
	if err := i.commitInstalled(pkgID, manifest); err != nil {
		return err
	}

	logger.Info().Msg("install complete")
	return nil
}

// fetchOrDownload implements phases 1-3: ensure the cache directory,
// probe the cache, and download on a miss.
func (i *Installer) fetchOrDownload(
	ctx context.Context,
	pkgID types.PackageId,
	version types.Version,
	src Source,
	counter *progress.Counter,
	sink progress.Sink,
	logger zerolog.Logger,
) (*archive.Reader, error) {
	if src.DeclaredHash != "" && i.Cache.Probe(pkgID, version, src.DeclaredHash) {
		logger.Info().Msg("cache hit")
		f, err := i.Cache.Open(pkgID, version)
		if err != nil {
			return nil, embassyerr.New(embassyerr.KindIo, "opening cached archive", err)
		}
		st, err := f.Stat()
		if err != nil {
			return nil, embassyerr.New(embassyerr.KindIo, "statting cached archive", err)
		}
		return archive.FromReader(f, st.Size())
	}

	logger.Info().Msg("cache miss, downloading")
	dst, err := i.Cache.Replace(pkgID, version)
	if err != nil {
		return nil, embassyerr.New(embassyerr.KindFilesystem, "preparing cache file", err)
	}

	err = progress.TrackDownloadDuring(counter, sink, src.Body, func(tracked io.Reader) error {
		_, copyErr := io.Copy(dst, tracked)
		return copyErr
	})
	if err != nil {
		return nil, classifyTransportErr(err)
	}
	counter.MarkDownloadComplete()
	sink(counter.Snapshot())

	if _, err := dst.Seek(0, io.SeekStart); err != nil {
		return nil, embassyerr.New(embassyerr.KindIo, "seeking cache file to start", err)
	}
	st, err := dst.Stat()
	if err != nil {
		return nil, embassyerr.New(embassyerr.KindIo, "statting cache file", err)
	}
	return archive.FromReader(dst, st.Size())
}

func (i *Installer) unpackManifest(rdr *archive.Reader, counter *progress.Counter, sink progress.Sink) (types.Manifest, error) {
	r, err := rdr.Manifest()
	if err != nil {
		return types.Manifest{}, err
	}

	var manifest types.Manifest
	err = progress.TrackReadDuring(counter, sink, r, func(tracked io.Reader) error {
		return json.NewDecoder(tracked).Decode(&manifest)
	})
	if err != nil {
		return types.Manifest{}, embassyerr.New(embassyerr.KindInvalidArchive, "decoding manifest", err)
	}
	return manifest, nil
}

func (i *Installer) unpackRawSection(open func() (io.Reader, error), destPath string, counter *progress.Counter, sink progress.Sink) error {
	r, err := open()
	if err != nil {
		return err
	}
	return i.copyToFile(r, destPath, counter, sink)
}

func (i *Installer) unpackZstdSection(open func() (io.ReadCloser, error), destPath string, counter *progress.Counter, sink progress.Sink) error {
	r, err := open()
	if err != nil {
		return err
	}
	defer r.Close()
	return i.copyToFile(r, destPath, counter, sink)
}

func (i *Installer) copyToFile(src io.Reader, destPath string, counter *progress.Counter, sink progress.Sink) error {
	dst, err := os.Create(destPath)
	if err != nil {
		return embassyerr.New(embassyerr.KindFilesystem, "creating "+destPath, err)
	}
	defer dst.Close()

	err = progress.TrackReadDuring(counter, sink, src, func(tracked io.Reader) error {
		_, copyErr := io.Copy(dst, tracked)
		return copyErr
	})
	if err != nil {
		return embassyerr.New(embassyerr.KindIo, "copying "+destPath, err)
	}
	return dst.Sync()
}

func (i *Installer) loadImages(ctx context.Context, rdr *archive.Reader, counter *progress.Counter, sink progress.Sink) error {
	images, err := rdr.DockerImages()
	if err != nil {
		return err
	}
	defer images.Close()

	return progress.TrackReadDuring(counter, sink, images, func(tracked io.Reader) error {
		return i.Loader.Load(ctx, tracked)
	})
}

// commitInstalled is phases 11-12: one database transaction that
// allocates an IP, provisions volumes, binds interfaces, and transitions
// the entry to Installed. Any step failing aborts the transaction.
func (i *Installer) commitInstalled(pkgID types.PackageId, manifest types.Manifest) error {
	tx, err := i.Store.Begin()
	if err != nil {
		return embassyerr.New(embassyerr.KindDatabase, "beginning install transaction", err)
	}

	ip, err := tx.AllocateIP(pkgID)
	if err != nil {
		tx.Rollback()
		return embassyerr.New(embassyerr.KindDatabase, "allocating ip", err)
	}

	for _, spec := range manifest.Volumes {
		if _, err := i.Volumes.Create(pkgID, spec); err != nil {
			tx.Rollback()
			return embassyerr.New(embassyerr.KindFilesystem, "creating volume "+spec.Name, err)
		}
	}

	if len(manifest.Interfaces) > 0 {
		if err := i.Interfaces.Bind(pkgID, ip, manifest.Interfaces); err != nil {
			tx.Rollback()
			return err
		}
	}

	entry := types.PackageDataEntry{
		Variant: types.VariantInstalled,
		Installed: &types.InstalledInfo{
			Manifest:            manifest,
			IP:                  ip,
			MainStatus:          types.MainStatusStopped,
			CurrentDependencies: make(map[types.PackageId]struct{}),
			CurrentDependents:   make(map[types.PackageId]struct{}),
		},
	}
	if err := tx.Put(pkgID, entry); err != nil {
		tx.Rollback()
		return embassyerr.New(embassyerr.KindDatabase, "writing installed entry", err)
	}

	if err := tx.Commit(); err != nil {
		return embassyerr.New(embassyerr.KindDatabase, "committing install transaction", err)
	}
	return nil
}

func (i *Installer) publicDir(pkgID types.PackageId, version types.Version) string {
	return filepath.Join(i.PublicRoot, string(pkgID), version.String())
}

func (i *Installer) progressSink(pkgID types.PackageId) progress.Sink {
	return func(p types.InstallProgress) {
		err := i.Store.Mutate(pkgID, func(entry *types.PackageDataEntry) error {
			switch entry.Variant {
			case types.VariantInstalling:
				if entry.Installing == nil {
					entry.Installing = &types.InstallingInfo{}
				}
				entry.Installing.Progress = p
			case types.VariantUpdating:
				if entry.Updating == nil {
					entry.Updating = &types.UpdatingInfo{}
				}
				entry.Updating.Progress = p
			case types.VariantRestoring:
				if entry.Restoring == nil {
					entry.Restoring = &types.RestoringInfo{}
				}
				entry.Restoring.Progress = p
			}
			return nil
		})
		if err != nil {
			log.Logger.Warn().Err(err).Str("pkg_id", string(pkgID)).Msg("failed to persist progress snapshot")
		}
	}
}

// classifyTransportErr maps a download failure to the Network reason
// spec.md §4.4 step 3 names: connection refused, timeout, or other.
func classifyTransportErr(err error) error {
	if errors.Is(err, syscall.ECONNREFUSED) {
		return embassyerr.Network(embassyerr.NetworkConnectionRefused, "connection refused", err)
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return embassyerr.Network(embassyerr.NetworkTimedOut, "timed out", err)
	}
	return embassyerr.Network(embassyerr.NetworkOther, "transport error", err)
}
