/*
Package volume provisions the persistent storage a package's manifest
declares, and purges a package's scratch/tmp storage during boot-time
reconciliation.

A package may declare zero or more named volumes in its manifest. The
Driver interface provisions and tears those down; LocalDriver is the
only implementation, laying each package's volumes out under one base
directory as <basePath>/<pkg_id>/<volume_name>.

PurgeTmp is separate from the declared volumes: it clears a package's
scratch directory, used by the reconciler when resuming a package left
Installed across a restart.
*/
package volume
