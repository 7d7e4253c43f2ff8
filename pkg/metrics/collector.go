package metrics

import (
	"time"

	"github.com/cuemby/embassyd/pkg/store"
	"github.com/cuemby/embassyd/pkg/types"
)

// Collector periodically snapshots the Package Database into the
// package/main-service gauges. It owns no install, reconciliation,
// cache, ingress or health-check state of its own; those are recorded
// directly by pkg/installer, pkg/reconciler, pkg/cache, pkg/ingress
// and pkg/supervisor as they happen.
type Collector struct {
	store  *store.Store
	stopCh chan struct{}
}

// NewCollector builds a Collector over st.
func NewCollector(st *store.Store) *Collector {
	return &Collector{
		store:  st,
		stopCh: make(chan struct{}),
	}
}

// Start begins the periodic collection loop, collecting once
// immediately and then every interval (15s if interval <= 0).
func (c *Collector) Start(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	go func() {
		c.collect()
		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop ends the collection loop.
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	entries, err := c.store.List()
	if err != nil {
		return
	}

	variantCounts := make(map[types.Variant]int)
	statusCounts := make(map[types.MainStatus]int)

	for _, entry := range entries {
		variantCounts[entry.Variant]++
		if entry.Installed != nil {
			statusCounts[entry.Installed.MainStatus]++
		}
	}

	for _, variant := range []types.Variant{
		types.VariantInstalling, types.VariantUpdating, types.VariantRestoring,
		types.VariantInstalled, types.VariantRemoving,
	} {
		PackagesTotal.WithLabelValues(string(variant)).Set(float64(variantCounts[variant]))
	}

	for _, status := range []types.MainStatus{
		types.MainStatusStopped, types.MainStatusStarting, types.MainStatusRunning,
		types.MainStatusStopping, types.MainStatusFailed,
	} {
		MainServicesTotal.WithLabelValues(string(status)).Set(float64(statusCounts[status]))
	}

	broken, err := c.store.Broken()
	if err == nil {
		BrokenPackagesTotal.Set(float64(len(broken)))
	}
}
