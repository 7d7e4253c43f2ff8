/*
Package reconciler runs the boot-time reconciliation sweep: a one-shot
pass over every package entry, invoked once during context
initialization before any install is callable.

Steps, in order: rebuild dependency back-references, dispatch a cleanup
or teardown action per lifecycle state, reset every installed package's
main status, hand the snapshot to the process-manager subsystem, and
recompute dependency-configuration errors. A failure acting on one
package is logged; the sweep itself never aborts.
*/
package reconciler
