// Package progress tracks byte-level install progress with a small set
// of atomic counters, and debounces snapshots of them into a sink (the
// package database) at a bounded rate so a slow install doesn't flood
// it with writes.
package progress

import (
	"io"
	"sync/atomic"
	"time"

	"github.com/cuemby/embassyd/pkg/types"
)

// Counter holds the four monotonic byte counters and two completion
// flags an install attempt updates as it runs. Safe for concurrent use.
type Counter struct {
	size             int64
	downloaded       int64
	read             int64
	validated        int64
	downloadComplete int32
	readComplete     int32
}

// NewCounter returns a Counter for an attempt whose total size is
// known in advance; pass 0 if it is not (e.g. a chunked transfer).
func NewCounter(size int64) *Counter {
	return &Counter{size: size}
}

// AddDownloaded records n more bytes received over the network.
func (c *Counter) AddDownloaded(n int64) { atomic.AddInt64(&c.downloaded, n) }

// AddRead records n more bytes consumed while unpacking.
func (c *Counter) AddRead(n int64) { atomic.AddInt64(&c.read, n) }

// AddValidated records n more bytes that have passed hash
// verification.
func (c *Counter) AddValidated(n int64) { atomic.AddInt64(&c.validated, n) }

// MarkDownloadComplete flips the download-complete flag. Idempotent.
func (c *Counter) MarkDownloadComplete() { atomic.StoreInt32(&c.downloadComplete, 1) }

// MarkReadComplete flips the read-complete flag. Idempotent.
func (c *Counter) MarkReadComplete() { atomic.StoreInt32(&c.readComplete, 1) }

// Snapshot returns the current values of every counter as an immutable
// value, safe to serialize into the package database.
func (c *Counter) Snapshot() types.InstallProgress {
	return types.InstallProgress{
		Size:             atomic.LoadInt64(&c.size),
		Downloaded:       atomic.LoadInt64(&c.downloaded),
		Read:             atomic.LoadInt64(&c.read),
		Validated:        atomic.LoadInt64(&c.validated),
		DownloadComplete: atomic.LoadInt32(&c.downloadComplete) == 1,
		ReadComplete:     atomic.LoadInt32(&c.readComplete) == 1,
	}
}

// Sink receives a progress snapshot, typically to persist it into the
// package database's entry for the package being installed.
type Sink func(types.InstallProgress)

const (
	snapshotInterval = 250 * time.Millisecond
	snapshotDeltaPct = 1
)

// TrackDownloadDuring wraps r so every byte read through it is counted
// as downloaded, runs work with that wrapped reader, and emits debounced
// snapshots to sink while work runs. A final snapshot is always sent
// before TrackDownloadDuring returns, regardless of how work exits.
func TrackDownloadDuring(c *Counter, sink Sink, r io.Reader, work func(io.Reader) error) error {
	tracked := &countingReader{r: r, add: c.AddDownloaded}
	return trackDuring(c, sink, func() error { return work(tracked) })
}

// TrackReadDuring is TrackDownloadDuring's counterpart for the unpack
// phase: bytes read through the wrapped reader count toward Read
// instead of Downloaded.
func TrackReadDuring(c *Counter, sink Sink, r io.Reader, work func(io.Reader) error) error {
	tracked := &countingReader{r: r, add: c.AddRead}
	return trackDuring(c, sink, func() error { return work(tracked) })
}

func trackDuring(c *Counter, sink Sink, work func() error) error {
	done := make(chan struct{})
	stopped := make(chan struct{})

	go func() {
		defer close(stopped)
		ticker := time.NewTicker(snapshotInterval)
		defer ticker.Stop()

		var lastSnapshot types.InstallProgress
		first := true

		emit := func() {
			snap := c.Snapshot()
			if first || deltaExceeds(lastSnapshot, snap, snapshotDeltaPct) {
				sink(snap)
				lastSnapshot = snap
				first = false
			}
		}

		for {
			select {
			case <-ticker.C:
				emit()
			case <-done:
				sink(c.Snapshot()) // guaranteed final snapshot
				return
			}
		}
	}()

	err := work()
	close(done)
	<-stopped
	return err
}

// deltaExceeds reports whether any counter in b moved by at least
// pct percent of size relative to a (or size is unknown, in which case
// any change at all triggers an emit).
func deltaExceeds(a, b types.InstallProgress, pct int64) bool {
	if b.Size <= 0 {
		return b.Downloaded != a.Downloaded || b.Read != a.Read || b.Validated != a.Validated
	}
	threshold := b.Size * pct / 100
	if threshold < 1 {
		threshold = 1
	}
	return abs64(b.Downloaded-a.Downloaded) >= threshold ||
		abs64(b.Read-a.Read) >= threshold ||
		abs64(b.Validated-a.Validated) >= threshold
}

func abs64(n int64) int64 {
	if n < 0 {
		return -n
	}
	return n
}

type countingReader struct {
	r   io.Reader
	add func(int64)
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	if n > 0 {
		c.add(int64(n))
	}
	return n, err
}
