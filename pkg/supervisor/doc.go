/*
Package supervisor starts, stops and health-checks the single main
service container each Installed package declares. It is handed the
boot-time lifecycle snapshot by the reconciliation engine's manager-init
step and from then on reacts to explicit Start/Stop calls and its own
per-package health-check ticker.

A health-check goroutine runs for each started package whose manifest
declares a health check, cancelled by StopMain or Remove. A failed
health check moves MainStatus to Failed; a container that exits on its
own is not detected, since nothing polls the runtime. Nothing here
retries automatically, that is left to an operator-driven Start.
*/
package supervisor
