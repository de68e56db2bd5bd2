// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// NewCollector returns an empty [*Collector] whose metric names start with namespace.
func NewCollector(namespace string) *Collector {
	link := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "link", name), help, []string{"link"}, nil)
	}
	pool := func(name, help string) *prometheus.Desc {
		return prometheus.NewDesc(prometheus.BuildFQName(namespace, "pool", name), help, []string{"pool"}, nil)
	}
	return &Collector{
		linkSent:      link("sent_bytes_total", "Bytes sent."),
		linkReceived:  link("received_bytes_total", "Bytes received."),
		linkErrors:    link("errors_total", "Failed operations."),
		linkMode:      link("mode", "Lifecycle mode (0=init, 1=ready, 2=active, 3=pause, 4=close)."),
		poolCapacity:  pool("capacity", "Configured capacity."),
		poolSize:      pool("connections", "Connections owned by the pool."),
		poolIdle:      pool("idle", "Connections waiting to be borrowed."),
		poolLent:      pool("lent", "Connections currently borrowed."),
		poolRequests:  pool("requests_total", "Borrow requests."),
		poolSuccesses: pool("successes_total", "Borrow requests that succeeded."),
		links:         map[string]*State{},
		pools:         map[string]*Pool{},
	}
}

// Collector exports [*State] and [*Pool] telemetry to Prometheus.
//
// Values are read at scrape time. Register it with a [prometheus.Registerer].
type Collector struct {
	linkSent      *prometheus.Desc
	linkReceived  *prometheus.Desc
	linkErrors    *prometheus.Desc
	linkMode      *prometheus.Desc
	poolCapacity  *prometheus.Desc
	poolSize      *prometheus.Desc
	poolIdle      *prometheus.Desc
	poolLent      *prometheus.Desc
	poolRequests  *prometheus.Desc
	poolSuccesses *prometheus.Desc

	mu    sync.RWMutex
	links map[string]*State
	pools map[string]*Pool
}

var _ prometheus.Collector = &Collector{}

// AddLink exports state under the given link label.
//
// Use it for a [*Link], a [*Route] or any other owner of a [*State].
func (c *Collector) AddLink(name string, state *State) {
	c.mu.Lock()
	c.links[name] = state
	c.mu.Unlock()
}

// AddPool exports pool under the given pool label.
func (c *Collector) AddPool(name string, pool *Pool) {
	c.mu.Lock()
	c.pools[name] = pool
	c.mu.Unlock()
}

// RemoveLink stops exporting the link with the given label.
func (c *Collector) RemoveLink(name string) {
	c.mu.Lock()
	delete(c.links, name)
	c.mu.Unlock()
}

// RemovePool stops exporting the pool with the given label.
func (c *Collector) RemovePool(name string) {
	c.mu.Lock()
	delete(c.pools, name)
	c.mu.Unlock()
}

// Describe implements [prometheus.Collector].
func (c *Collector) Describe(ch chan<- *prometheus.Desc) {
	for _, desc := range []*prometheus.Desc{
		c.linkSent, c.linkReceived, c.linkErrors, c.linkMode,
		c.poolCapacity, c.poolSize, c.poolIdle, c.poolLent, c.poolRequests, c.poolSuccesses,
	} {
		ch <- desc
	}
}

// Collect implements [prometheus.Collector].
func (c *Collector) Collect(ch chan<- prometheus.Metric) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for name, state := range c.links {
		m := state.Measure()
		ch <- prometheus.MustNewConstMetric(c.linkSent, prometheus.CounterValue, float64(m.Send), name)
		ch <- prometheus.MustNewConstMetric(c.linkReceived, prometheus.CounterValue, float64(m.Receive), name)
		ch <- prometheus.MustNewConstMetric(c.linkErrors, prometheus.CounterValue, float64(m.Error), name)
		ch <- prometheus.MustNewConstMetric(c.linkMode, prometheus.GaugeValue, float64(state.Mode()), name)
	}

	for name, pool := range c.pools {
		s := pool.Stats()
		ch <- prometheus.MustNewConstMetric(c.poolCapacity, prometheus.GaugeValue, float64(s.Capacity), name)
		ch <- prometheus.MustNewConstMetric(c.poolSize, prometheus.GaugeValue, float64(s.Size), name)
		ch <- prometheus.MustNewConstMetric(c.poolIdle, prometheus.GaugeValue, float64(s.Idle), name)
		ch <- prometheus.MustNewConstMetric(c.poolLent, prometheus.GaugeValue, float64(s.Lent), name)
		ch <- prometheus.MustNewConstMetric(c.poolRequests, prometheus.CounterValue, float64(s.Requests), name)
		ch <- prometheus.MustNewConstMetric(c.poolSuccesses, prometheus.CounterValue, float64(s.Successes), name)
	}
}
