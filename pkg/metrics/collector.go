package metrics

import (
	"time"

	"github.com/cuemby/stash/pkg/types"
)

// TenantLister is the read side of the state store the collector samples
type TenantLister interface {
	ListTenants() ([]*types.Tenant, error)
}

// Collector periodically samples tenant counts into TenantsTotal
type Collector struct {
	tenants  TenantLister
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a collector sampling every 15 seconds
func NewCollector(tenants TenantLister) *Collector {
	return &Collector{
		tenants:  tenants,
		interval: 15 * time.Second,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
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

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	tenants, err := c.tenants.ListTenants()
	SetComponent("state", err)
	if err != nil {
		return
	}

	counts := map[types.TenantStatus]int{
		types.TenantStatusActive:    0,
		types.TenantStatusSuspended: 0,
		types.TenantStatusMigrating: 0,
		types.TenantStatusRemoved:   0,
	}
	for _, t := range tenants {
		counts[t.Status]++
	}

	for status, count := range counts {
		TenantsTotal.WithLabelValues(string(status)).Set(float64(count))
	}
}
