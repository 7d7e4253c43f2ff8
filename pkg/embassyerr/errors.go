// Package embassyerr carries the error taxonomy shared by the archive
// reader, content cache, package database, installer pipeline and
// reconciliation engine.
package embassyerr

import "fmt"

// Kind distinguishes the broad category of a failure, independent of
// its wrapped cause. Callers at a process boundary should branch on
// Kind rather than on the wrapped error's concrete type.
type Kind string

const (
	KindNetwork           Kind = "network"
	KindIo                Kind = "io"
	KindInvalidArchive    Kind = "invalid_archive"
	KindHashMismatch      Kind = "hash_mismatch"
	KindSectionMissing    Kind = "section_missing"
	KindContainerRuntime  Kind = "container_runtime"
	KindDatabase          Kind = "database"
	KindDependencyMissing Kind = "dependency_missing"
	KindNotFound          Kind = "not_found"
	KindParseUrl          Kind = "parse_url"
	KindFilesystem        Kind = "filesystem"
	KindUnknown           Kind = "unknown"
)

// NetworkReason refines a KindNetwork error, mirroring the three cases
// the transport client distinguishes (connection refused, timed out,
// anything else).
type NetworkReason string

const (
	NetworkConnectionRefused NetworkReason = "connection_refused"
	NetworkTimedOut          NetworkReason = "timed_out"
	NetworkOther             NetworkReason = "other"
)

// Error is the concrete carrier for every Kind below. Wrap an
// underlying cause with New; unwrap with errors.Unwrap or errors.As.
type Error struct {
	Kind   Kind
	Reason NetworkReason // only meaningful when Kind == KindNetwork
	Stderr string        // only meaningful when Kind == KindContainerRuntime
	Msg    string
	Cause  error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Msg, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Msg)
}

func (e *Error) Unwrap() error { return e.Cause }

// New wraps cause (which may be nil) into an Error of the given Kind.
func New(kind Kind, msg string, cause error) *Error {
	return &Error{Kind: kind, Msg: msg, Cause: cause}
}

// Network wraps a transport failure, classifying it by NetworkReason.
func Network(reason NetworkReason, msg string, cause error) *Error {
	return &Error{Kind: KindNetwork, Reason: reason, Msg: msg, Cause: cause}
}

// ContainerRuntime wraps a failed external process invocation, carrying
// its captured stderr for diagnostics.
func ContainerRuntime(msg, stderr string, cause error) *Error {
	return &Error{Kind: KindContainerRuntime, Stderr: stderr, Msg: msg, Cause: cause}
}

// KindOf extracts the Kind from err if it (or something it wraps) is an
// *Error, and KindUnknown otherwise.
func KindOf(err error) Kind {
	var e *Error
	if asError(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// asError is a tiny errors.As shim kept local to avoid importing
// "errors" twice in call sites that already alias it.
func asError(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
