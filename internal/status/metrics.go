package status

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "envtele"

type metric struct {
	desc  *prometheus.Desc
	kind  prometheus.ValueType
	value func() float64
}

// collector reads atomic counters at scrape time, agent loop is never blocked.
type collector struct {
	metrics []metric
}

var _ prometheus.Collector = &collector{}

func newCollector(src Source) *collector {
	c := &collector{metrics: make([]metric, 0, 24)}
	counter := func(sub, name, help string, p *uint32) {
		c.add(sub, name, help, prometheus.CounterValue, func() float64 { return float64(atomic.LoadUint32(p)) })
	}

	if a := src.Agent; a != nil {
		st := a.Stat()
		counter("loop", "steps_total", "Loop passes.", &st.Steps)
		counter("loop", "samples_total", "Successful sensor reads.", &st.Samples)
		counter("loop", "sample_errors_total", "Failed sensor reads.", &st.SampleErrors)
		counter("loop", "report_errors_total", "Readings not delivered.", &st.ReportErrors)
		counter("loop", "link_checks_total", "Link quality checks.", &st.LinkChecks)
		counter("loop", "link_errors_total", "Failed link checks.", &st.LinkErrors)
		counter("loop", "clock_clamps_total", "Interval resets after clock went backwards.", &st.Clamps)
		c.add("", "halted", "1 when sensor initialization failed.", prometheus.GaugeValue, func() float64 {
			return boolFloat(a.Halted())
		})
	}
	if n := src.Network; n != nil {
		st := n.Stat()
		counter("network", "scans_total", "Network scans.", &st.Scans)
		counter("network", "joins_total", "Association attempts.", &st.Joins)
		counter("network", "join_failures_total", "Failed association attempts.", &st.JoinFailures)
		counter("network", "rebuilds_total", "Weak link rebuilds.", &st.Rebuilds)
		c.add("network", "state", "0=Disconnected 1=Scanning 2=Connected 3=Reconnecting", prometheus.GaugeValue, func() float64 {
			return float64(n.Link().State)
		})
		c.add("network", "rssi_dbm", "Last known signal strength.", prometheus.GaugeValue, func() float64 {
			return float64(n.Link().RSSI)
		})
	}
	if r := src.Reporter; r != nil {
		st := r.Stat()
		counter("report", "sent_total", "Readings accepted by collector.", &st.Sent)
		counter("report", "failed_total", "Rejected or failed requests.", &st.Failed)
		counter("report", "dropped_total", "Readings dropped without network.", &st.Dropped)
	}
	if s := src.Sensor; s != nil {
		st := s.Stat()
		counter("sensor", "reads_total", "Measurements fetched.", &st.Reads)
		counter("sensor", "errors_total", "Sensor errors.", &st.Errors)
		counter("sensor", "inits_total", "Initialization attempts.", &st.Inits)
	}
	return c
}

func (c *collector) add(sub, name, help string, kind prometheus.ValueType, value func() float64) {
	c.metrics = append(c.metrics, metric{
		desc:  prometheus.NewDesc(prometheus.BuildFQName(namespace, sub, name), help, nil, nil),
		kind:  kind,
		value: value,
	})
}

func (c *collector) Describe(ch chan<- *prometheus.Desc) {
	for _, m := range c.metrics {
		ch <- m.desc
	}
}

func (c *collector) Collect(ch chan<- prometheus.Metric) {
	for _, m := range c.metrics {
		ch <- prometheus.MustNewConstMetric(m.desc, m.kind, m.value())
	}
}

func boolFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
