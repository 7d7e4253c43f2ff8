/*
Package context builds and owns the process-wide Context: the single
bundle of handles every RPC handler, installer call and reconciler pass
is given rather than constructing its own collaborators. It owns the
Package Database, the secret store, the account record, the container
runtime, the network controller, the per-package supervisor map, the
continuation map and the process shutdown signal.

Init wires these in the same order the appliance's original core does:
secret store, account, database, network controller, manager map,
then a single reconciliation pass before the Context is handed back to
the caller. Close closes the secret store, flips a closed flag and
closes the Shutdown channel; any further use of the Context after Close
is a programmer error.
*/
package context
