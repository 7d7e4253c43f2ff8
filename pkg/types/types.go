// Package types holds the data model shared by the content cache,
// package database, installer pipeline and reconciliation engine:
// package identity, manifests, lifecycle entries and progress.
package types

import (
	"encoding/json"
	"net"
	"time"

	"github.com/Masterminds/semver"
)

// PackageId identifies a package independent of version.
type PackageId string

// Version wraps a semver-like triple. Use ParseVersion rather than
// constructing one directly so callers get consistent ordering.
type Version struct {
	inner *semver.Version
	raw   string
}

// ParseVersion parses a dotted version string.
func ParseVersion(s string) (Version, error) {
	v, err := semver.NewVersion(s)
	if err != nil {
		return Version{}, err
	}
	return Version{inner: v, raw: s}, nil
}

// String returns the version's original textual form.
func (v Version) String() string { return v.raw }

// Compare returns -1, 0 or 1 if v is less than, equal to, or greater
// than other.
func (v Version) Compare(other Version) int {
	return v.inner.Compare(other.inner)
}

// Satisfies reports whether v falls within a dependency's declared
// version range (a Masterminds/semver constraint string, e.g.
// "^14.0.0"), used by the reconciler's dependency config recheck.
func (v Version) Satisfies(constraint string) (bool, error) {
	c, err := semver.NewConstraint(constraint)
	if err != nil {
		return false, err
	}
	return c.Check(v.inner), nil
}

// MarshalJSON encodes a Version as its original textual form, since the
// semver.Version it wraps carries no exported fields of its own.
func (v Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.raw)
}

// UnmarshalJSON parses a Version from its textual form.
func (v *Version) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := ParseVersion(s)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// ContentHash is a hex-encoded SHA-256 digest of an s9pk's declared
// content.
type ContentHash string

// Manifest describes a package's identity, assets and runtime shape, as
// unpacked from an s9pk's manifest section.
type Manifest struct {
	ID              PackageId                    `json:"id"`
	Version         Version                      `json:"version"`
	Title           string                       `json:"title"`
	IconExt         string                       `json:"icon_ext"` // e.g. "png", names the unpacked icon.<ext> file
	Main            ServiceSpec                  `json:"main"`
	Interfaces      map[string]InterfaceSpec     `json:"interfaces"`
	Volumes         map[string]VolumeSpec        `json:"volumes"`
	Dependencies    map[PackageId]DependencySpec `json:"dependencies"`
	HasInstructions bool                         `json:"has_instructions"`
}

// ServiceSpec is the main service a package declares — the process the
// supervisor starts once the package reaches Installed.
type ServiceSpec struct {
	Image       string           `json:"image"`
	Command     []string         `json:"command,omitempty"`
	Env         map[string]string `json:"env,omitempty"`
	HealthCheck *HealthCheckSpec `json:"health_check,omitempty"`
}

// HealthCheckSpec names the command the supervisor execs on an interval
// to determine a running main service's health. A nil HealthCheckSpec
// means the package has none; exiting with disabledExitCode (59) means
// the package has one but chooses not to report right now.
type HealthCheckSpec struct {
	Command  []string      `json:"command"`
	Interval time.Duration `json:"interval"`
}

// InterfaceSpec declares one network-reachable surface of a package.
type InterfaceSpec struct {
	Name       string `json:"name"`
	Port       int    `json:"port"`
	Protocol   string `json:"protocol"` // "tcp" or "udp"
	Public     bool   `json:"public"`     // true routes through the ingress reverse proxy
	LanAddress bool   `json:"lan_address"` // true registers a local DNS name
}

// VolumeSpec declares one persistent storage mount a package requires.
type VolumeSpec struct {
	Name string `json:"name"`
	Path string `json:"path"`
}

// DependencySpec names a package dependency and the version range it
// accepts, and whether the dependency is optional.
type DependencySpec struct {
	VersionRange string `json:"version_range"`
	Optional     bool   `json:"optional"`
}

// MainStatus is the supervised run-state of a package's main service.
type MainStatus string

const (
	MainStatusStopped MainStatus = "stopped"
	MainStatusStarting MainStatus = "starting"
	MainStatusRunning MainStatus = "running"
	MainStatusStopping MainStatus = "stopping"
	MainStatusFailed  MainStatus = "failed"
)

// PackageDataEntry is the tagged variant tracked per package in the
// Package Database. Exactly one of the Installing/Updating/Restoring/
// Installed/Removing fields is non-nil, matching the Variant tag.
type PackageDataEntry struct {
	Variant Variant

	Installing *InstallingInfo
	Updating   *UpdatingInfo
	Restoring  *RestoringInfo
	Installed  *InstalledInfo
	Removing   *RemovingInfo
}

// Variant names which state a PackageDataEntry currently holds.
type Variant string

const (
	VariantInstalling Variant = "installing"
	VariantUpdating   Variant = "updating"
	VariantRestoring  Variant = "restoring"
	VariantInstalled  Variant = "installed"
	VariantRemoving   Variant = "removing"
)

// InstallingInfo tracks a package's first install.
type InstallingInfo struct {
	Progress InstallProgress
}

// UpdatingInfo tracks an in-place version change; Manifest is the
// previously installed manifest, kept so a failed update can be
// reported against what remains on disk.
type UpdatingInfo struct {
	Manifest Manifest
	Progress InstallProgress
}

// RestoringInfo tracks a restore-from-backup in progress.
type RestoringInfo struct {
	Progress InstallProgress
}

// InstalledInfo is the steady state: a fully unpacked, loaded,
// interface-bound package.
type InstalledInfo struct {
	Manifest             Manifest
	IP                   net.IP
	MainStatus           MainStatus
	CurrentDependencies  map[PackageId]struct{}
	CurrentDependents    map[PackageId]struct{}

	// DependencyConfigErrors holds one message per dependency whose
	// version or presence no longer satisfies this package's manifest,
	// recomputed by the reconciler's dependency config recheck step.
	DependencyConfigErrors []string
}

// RemovingInfo tracks an in-progress uninstall.
type RemovingInfo struct {
	Manifest          Manifest
	CurrentDependents map[PackageId]struct{}
}

// InstallProgress is the mutable, atomically-updated counter set a
// download/unpack records progress into. All four counters are
// monotonically non-decreasing for the lifetime of one install attempt.
type InstallProgress struct {
	Size             int64 // total expected bytes, 0 if unknown
	Downloaded       int64
	Read             int64
	Validated        int64
	DownloadComplete bool
	ReadComplete     bool
}

// BrokenPackages is the append-only set of package ids whose most
// recent install/update/restore/remove attempt failed partway through.
type BrokenPackages map[PackageId]struct{}

// Event is a lifecycle notification published by the Package Database's
// Subscribe mechanism.
type Event struct {
	Type      EventType
	PackageID PackageId
	Timestamp time.Time
	Message   string
}

// EventType names what changed about a package entry.
type EventType string

const (
	EventEntryPut     EventType = "entry.put"
	EventEntryRemoved EventType = "entry.removed"
	EventProgress     EventType = "entry.progress"
)

// HealthCheckOutcome is the tri-state result of one health check run:
// it succeeded, it failed with a reason, or the package declared it
// disabled (the original exit-code-59 sentinel).
type HealthCheckOutcome struct {
	Kind  HealthOutcomeKind
	Error string // set only when Kind == HealthFailure
}

type HealthOutcomeKind string

const (
	HealthSuccess  HealthOutcomeKind = "success"
	HealthFailure  HealthOutcomeKind = "failure"
	HealthDisabled HealthOutcomeKind = "disabled"
)

// HealthCheckResult pairs an outcome with when it was observed.
type HealthCheckResult struct {
	Time   time.Time
	Result HealthCheckOutcome
}
