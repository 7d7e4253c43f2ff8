// Package store implements the package database: a bbolt-backed,
// transactional document store keyed by package id, holding the tagged
// PackageDataEntry lifecycle variant for every package known to the
// appliance, plus the append-only broken-package set and the
// interface-IP allocation pool.
package store
