/*
Package log provides structured logging via zerolog: a global Logger,
Init(Config) to configure level/format/output, and WithComponent/
WithPackage helpers for tagged child loggers.

Install log lines are tagged via WithPackage(pkgID, version), so the
originating package id and version appear on every install log line.
Other subsystems use WithComponent(name) instead ("reconciler",
"supervisor", "scheduler", "context", ...); the reconciler adds a pkg_id
field to its per-package lines.
*/
package log
