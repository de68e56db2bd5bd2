// SPDX-License-Identifier: GPL-3.0-or-later

package seclink

import (
	"context"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// An empty collector exports nothing.
func TestCollectorEmpty(t *testing.T) {
	c := NewCollector("seclink")
	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

// Link and pool telemetry is exported at scrape time.
func TestCollectorLinkAndPool(t *testing.T) {
	c := NewCollector("seclink")

	state := NewState()
	state.SetMode(ModeReady)
	state.RecordSend(10)
	state.RecordReceive(4)
	state.RecordError()
	c.AddLink("alpha", state)

	pool := NewPool(NewConfig(), 3, NewSettings(), DefaultSLogger())
	require.NoError(t, pool.Add(newTestConnection(newClosableConn(nil))))
	c.AddPool("primary", pool)

	assert.Equal(t, 10, testutil.CollectAndCount(c))

	expected := `
# HELP seclink_link_sent_bytes_total Bytes sent.
# TYPE seclink_link_sent_bytes_total counter
seclink_link_sent_bytes_total{link="alpha"} 10
# HELP seclink_link_mode Lifecycle mode (0=init, 1=ready, 2=active, 3=pause, 4=close).
# TYPE seclink_link_mode gauge
seclink_link_mode{link="alpha"} 1
# HELP seclink_pool_capacity Configured capacity.
# TYPE seclink_pool_capacity gauge
seclink_pool_capacity{pool="primary"} 3
# HELP seclink_pool_idle Connections waiting to be borrowed.
# TYPE seclink_pool_idle gauge
seclink_pool_idle{pool="primary"} 1
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"seclink_link_sent_bytes_total", "seclink_link_mode",
		"seclink_pool_capacity", "seclink_pool_idle")
	require.NoError(t, err)
}

// The collector registers cleanly and reflects later activity.
func TestCollectorRegistry(t *testing.T) {
	reg := prometheus.NewPedanticRegistry()
	c := NewCollector("seclink")
	require.NoError(t, reg.Register(c))

	pool := NewPool(NewConfig(), 1, NewSettings(), DefaultSLogger())
	require.NoError(t, pool.Add(newTestConnection(newClosableConn(nil))))
	require.NoError(t, pool.Start(context.Background()))
	c.AddPool("p", pool)

	borrow, err := pool.Get(context.Background())
	require.NoError(t, err)
	defer borrow.Release()

	families, err := reg.Gather()
	require.NoError(t, err)
	values := map[string]float64{}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			if m.GetGauge() != nil {
				values[mf.GetName()] = m.GetGauge().GetValue()
			}
			if m.GetCounter() != nil {
				values[mf.GetName()] = m.GetCounter().GetValue()
			}
		}
	}
	assert.Equal(t, 1.0, values["seclink_pool_lent"])
	assert.Equal(t, 0.0, values["seclink_pool_idle"])
	assert.Equal(t, 1.0, values["seclink_pool_requests_total"])
	assert.Equal(t, 1.0, values["seclink_pool_successes_total"])
}

// Removed links and pools are no longer exported.
func TestCollectorRemove(t *testing.T) {
	c := NewCollector("seclink")
	c.AddLink("a", NewState())
	c.AddLink("b", NewState())
	c.AddPool("p", NewPool(NewConfig(), 1, NewSettings(), DefaultSLogger()))
	assert.Equal(t, 14, testutil.CollectAndCount(c))

	c.RemoveLink("a")
	c.RemovePool("p")
	c.RemovePool("missing")
	assert.Equal(t, 4, testutil.CollectAndCount(c))
}
