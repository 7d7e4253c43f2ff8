/*
Package types defines the data model shared across embassyd: package
identity, manifests, the tagged lifecycle entry stored per package, and
the progress counters an install attempt records into it.

# Core Types

Identity:
  - PackageId: a package's name, stable across versions
  - Version: a parsed semver-like triple, ordered via Compare
  - ContentHash: a hex SHA-256 digest of an s9pk's declared content

Manifest:
  - Manifest: id, version, main service spec, declared interfaces,
    volumes and dependencies, as unpacked from an s9pk's manifest section
  - ServiceSpec, InterfaceSpec, VolumeSpec, DependencySpec: the
    sub-structures a Manifest is built from

Lifecycle:
  - PackageDataEntry: the tagged variant persisted per package —
    exactly one of Installing/Updating/Restoring/Installed/Removing is
    populated, matching the Variant field
  - InstalledInfo: the steady state once a package is fully unpacked,
    its images loaded and its interfaces bound
  - InstallProgress: the four monotonic counters (size, downloaded,
    read, validated) and two completion flags an install/update/restore
    updates as it runs

Health:
  - HealthCheckOutcome: the tri-state result of one health check —
    success, failure with a message, or disabled

# Invariants

A PackageDataEntry's bytes are never observable before the entry
itself is committed (entry-before-bytes). At most one of the five
variant fields is non-nil at a time. InstallProgress counters never
decrease within one attempt. BrokenPackages only grows.

# Integration Points

This package is imported by pkg/cache, pkg/store, pkg/installer,
pkg/reconciler, pkg/supervisor and most other packages of the module
(pkg/archive does not use it); none of those packages
define their own copies of these types.
*/
package types
