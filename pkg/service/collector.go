package service

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	descDataBytes = prometheus.NewDesc("atomws_data_bytes_total",
		"Bytes transferred, by direction.", []string{"direction"}, nil)
	descDataRate = prometheus.NewDesc("atomws_data_rate_bytes",
		"Data rate in bytes per second over the last measure period.", []string{"window"}, nil)
	descConnections = prometheus.NewDesc("atomws_connections_total",
		"Accepted connections.", nil, nil)
	descConnectionsFailed = prometheus.NewDesc("atomws_connections_failed_total",
		"Connections closed while a job was attached.", nil, nil)
	descConnectionsOpen = prometheus.NewDesc("atomws_connections_open",
		"Open connections.", []string{"window"}, nil)
	descRequests = prometheus.NewDesc("atomws_requests_total",
		"Requests received.", nil, nil)
	descRequestsTimedOut = prometheus.NewDesc("atomws_requests_timed_out_total",
		"Jobs released by their timeout.", nil, nil)
	descRequestsByStatus = prometheus.NewDesc("atomws_requests_by_status_total",
		"Released jobs by response status.", []string{"status"}, nil)
	descRequestRate = prometheus.NewDesc("atomws_request_rate",
		"Requests per second over the last measure period.", []string{"window"}, nil)
	descMemory = prometheus.NewDesc("atomws_memory_bytes",
		"Go runtime memory.", []string{"kind"}, nil)
	descObjects = prometheus.NewDesc("atomws_pool_objects_total",
		"Pool object counters.", []string{"pool", "event"}, nil)
	descWorkers = prometheus.NewDesc("atomws_workers",
		"Live instances contributing to the document.", nil, nil)
)

type documentCollector struct {
	source DocumentSource
}

var _ prometheus.Collector = &documentCollector{}

// NewCollector exposes the metrics document of source to prometheus.
func NewCollector(source DocumentSource) prometheus.Collector {
	return &documentCollector{source: source}
}

// Describe implements the prometheus.Collector interface.
func (c *documentCollector) Describe(ch chan<- *prometheus.Desc) {
	for _, d := range []*prometheus.Desc{
		descDataBytes, descDataRate, descConnections, descConnectionsFailed,
		descConnectionsOpen, descRequests, descRequestsTimedOut, descRequestsByStatus,
		descRequestRate, descMemory, descObjects, descWorkers,
	} {
		ch <- d
	}
}

// Collect implements the prometheus.Collector interface.
func (c *documentCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
	defer cancel()
	doc := c.source(ctx)

	counter := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.CounterValue, v, labels...)
	}
	gauge := func(d *prometheus.Desc, v float64, labels ...string) {
		ch <- prometheus.MustNewConstMetric(d, prometheus.GaugeValue, v, labels...)
	}

	counter(descDataBytes, float64(doc.Data.Input), "input")
	counter(descDataBytes, float64(doc.Data.Output), "output")
	gauge(descDataRate, doc.Data.CurrentRate, "current")
	gauge(descDataRate, doc.Data.MaximumRate, "maximum")

	counter(descConnections, float64(doc.Connections.Total))
	counter(descConnectionsFailed, float64(doc.Connections.Failed))
	gauge(descConnectionsOpen, float64(doc.Connections.CurrentOpen), "current")
	gauge(descConnectionsOpen, float64(doc.Connections.MaximumOpen), "maximum")

	counter(descRequests, float64(doc.Requests.Total))
	counter(descRequestsTimedOut, float64(doc.Requests.TimedOut))
	for status, n := range doc.Requests.ByStatus {
		counter(descRequestsByStatus, float64(n), status)
	}
	gauge(descRequestRate, doc.Requests.CurrentRate, "current")
	gauge(descRequestRate, doc.Requests.MaximumRate, "maximum")

	gauge(descMemory, float64(doc.Memory.HeapTotal), "heap_total")
	gauge(descMemory, float64(doc.Memory.HeapUsed), "heap_used")
	gauge(descMemory, float64(doc.Memory.Server), "server")

	for pool, st := range doc.Objects {
		counter(descObjects, float64(st.Created), pool, "created")
		counter(descObjects, float64(st.Recycled), pool, "recycled")
	}
	gauge(descWorkers, float64(doc.Workers))
}
