/*
Package scheduler runs independent package installs as a bounded pool
of goroutines instead of one at a time: each Installer.Install call is
one logical task, and two installs never contend for anything beyond
the Package Database's own transactional API, so they're safe to run
concurrently up to a configured pool size.

The pool is a thin wrapper over sourcegraph/conc/pool's context-aware
error pool: a failed install is logged and joined into the final
returned error, but never cancels sibling jobs still in flight.
*/
package scheduler
