package service

import (
	"context"
	"runtime"
	"strconv"
	"sync"

	"github.com/polisai/atomws/pkg/job"
	"github.com/polisai/atomws/pkg/measure"
	"github.com/polisai/atomws/pkg/recycler"
	"github.com/polisai/atomws/pkg/telemetry"
)

// Document is the metrics snapshot of one or more service instances.
type Document struct {
	Service  string  `json:"service,omitempty"`
	Server   string  `json:"server,omitempty"`
	Platform string  `json:"platform,omitempty"`
	Date     int64   `json:"date,omitempty"`
	Uptime   float64 `json:"uptime"`
	Load     int     `json:"load"`
	Workers  int     `json:"workers"`

	Data        DataMetrics               `json:"data"`
	Connections ConnectionMetrics         `json:"connections"`
	Requests    RequestMetrics            `json:"requests"`
	Memory      MemoryMetrics             `json:"memory"`
	Objects     map[string]recycler.Stats `json:"objects"`
}

// DataMetrics counts transferred bytes.
type DataMetrics struct {
	Total       int64   `json:"total"`
	Input       int64   `json:"input"`
	Output      int64   `json:"output"`
	CurrentRate float64 `json:"current-rate"`
	MaximumRate float64 `json:"maximum-rate"`
}

// ConnectionMetrics counts accepted connections.
type ConnectionMetrics struct {
	Total       int64   `json:"total"`
	Failed      int64   `json:"failed"`
	CurrentOpen int64   `json:"current-open"`
	MaximumOpen int64   `json:"maximum-open"`
	CurrentRate float64 `json:"current-rate"`
	MaximumRate float64 `json:"maximum-rate"`
}

// RequestMetrics counts jobs.
type RequestMetrics struct {
	Total       int64            `json:"total"`
	TimedOut    int64            `json:"timed-out"`
	CurrentRate float64          `json:"current-rate"`
	MaximumRate float64          `json:"maximum-rate"`
	ByStatus    map[string]int64 `json:"by-status"`
	ByHost      map[string]int64 `json:"by-host"`
}

// MemoryMetrics reports the Go runtime's memory usage.
type MemoryMetrics struct {
	HeapTotal uint64 `json:"heap-total"`
	HeapUsed  uint64 `json:"heap-used"`
	Server    uint64 `json:"server"`
}

// Cumulate adds other's counters into d. Rates are summed and rounded to three
// decimals; identity fields are taken from other only when d lacks them.
func (d *Document) Cumulate(other Document) {
	if d.Service == "" {
		d.Service = other.Service
	}
	if d.Server == "" {
		d.Server = other.Server
	}
	if d.Platform == "" {
		d.Platform = other.Platform
	}
	if other.Date > d.Date {
		d.Date = other.Date
	}
	if other.Uptime > d.Uptime {
		d.Uptime = other.Uptime
	}
	d.Load += other.Load
	d.Workers += other.Workers

	d.Data.Total += other.Data.Total
	d.Data.Input += other.Data.Input
	d.Data.Output += other.Data.Output
	d.Data.CurrentRate = measure.Round(d.Data.CurrentRate+other.Data.CurrentRate, 3)
	d.Data.MaximumRate = measure.Round(d.Data.MaximumRate+other.Data.MaximumRate, 3)

	d.Connections.Total += other.Connections.Total
	d.Connections.Failed += other.Connections.Failed
	d.Connections.CurrentOpen += other.Connections.CurrentOpen
	d.Connections.MaximumOpen += other.Connections.MaximumOpen
	d.Connections.CurrentRate = measure.Round(d.Connections.CurrentRate+other.Connections.CurrentRate, 3)
	d.Connections.MaximumRate = measure.Round(d.Connections.MaximumRate+other.Connections.MaximumRate, 3)

	d.Requests.Total += other.Requests.Total
	d.Requests.TimedOut += other.Requests.TimedOut
	d.Requests.CurrentRate = measure.Round(d.Requests.CurrentRate+other.Requests.CurrentRate, 3)
	d.Requests.MaximumRate = measure.Round(d.Requests.MaximumRate+other.Requests.MaximumRate, 3)
	d.Requests.ByStatus = sumCounts(d.Requests.ByStatus, other.Requests.ByStatus)
	d.Requests.ByHost = sumCounts(d.Requests.ByHost, other.Requests.ByHost)

	d.Memory.HeapTotal += other.Memory.HeapTotal
	d.Memory.HeapUsed += other.Memory.HeapUsed
	d.Memory.Server += other.Memory.Server

	if len(other.Objects) > 0 && d.Objects == nil {
		d.Objects = make(map[string]recycler.Stats, len(other.Objects))
	}
	for title, st := range other.Objects {
		acc := d.Objects[title]
		acc.Created += st.Created
		acc.Recycled += st.Recycled
		d.Objects[title] = acc
	}
}

func sumCounts(dst, src map[string]int64) map[string]int64 {
	if dst == nil {
		dst = make(map[string]int64, len(src))
	}
	for k, v := range src {
		dst[k] += v
	}
	return dst
}

// counters holds the live counters of one service. Job releases arrive through
// JobReleased, connection events through the tracked listener. A connection
// counts as failed when the job it carried was abandoned.
type counters struct {
	mu sync.Mutex

	dataTotal, dataIn, dataOut int64
	connTotal, connFailed      int64
	connOpen, connMaxOpen      int64
	reqTotal, reqTimedOut      int64
	byStatus, byHost           map[string]int64

	dataRate, connRate, reqRate *measure.Measure
}

func newCounters(reg *measure.Registry) *counters {
	return &counters{
		byStatus: make(map[string]int64),
		byHost:   make(map[string]int64),
		dataRate: reg.Allocate(),
		connRate: reg.Allocate(),
		reqRate:  reg.Allocate(),
	}
}

func (c *counters) release(reg *measure.Registry) {
	for _, m := range []*measure.Measure{c.dataRate, c.connRate, c.reqRate} {
		_ = reg.Release(m)
	}
}

func (c *counters) transferred(in, out int64) {
	if in == 0 && out == 0 {
		return
	}
	c.mu.Lock()
	c.dataIn += in
	c.dataOut += out
	c.dataTotal += in + out
	c.mu.Unlock()
	c.dataRate.Add(float64(in + out))
}

func (c *counters) connOpened() {
	c.mu.Lock()
	c.connTotal++
	c.connOpen++
	if c.connOpen > c.connMaxOpen {
		c.connMaxOpen = c.connOpen
	}
	c.mu.Unlock()
	c.connRate.Add(1)
}

func (c *counters) connClosed() {
	c.mu.Lock()
	c.connOpen--
	c.mu.Unlock()
}

func (c *counters) requestStarted() {
	c.mu.Lock()
	c.reqTotal++
	c.mu.Unlock()
	c.reqRate.Add(1)
}

// JobReleased implements job.Observer.
func (c *counters) JobReleased(rec job.Record) {
	c.mu.Lock()
	c.byStatus[strconv.Itoa(rec.Status)]++
	if rec.Host != "" {
		c.byHost[rec.Host]++
	}
	if rec.TimedOut {
		c.reqTimedOut++
	}
	if rec.Failed {
		c.connFailed++
	}
	c.mu.Unlock()

	telemetry.RecordJobMetrics(context.Background(), telemetry.JobMetrics{Status: rec.Status, TimedOut: rec.TimedOut})
}

// snapshot fills the counter sections of a document.
func (c *counters) snapshot(doc *Document) {
	c.mu.Lock()
	doc.Data = DataMetrics{Total: c.dataTotal, Input: c.dataIn, Output: c.dataOut}
	doc.Connections = ConnectionMetrics{
		Total:       c.connTotal,
		Failed:      c.connFailed,
		CurrentOpen: c.connOpen,
		MaximumOpen: c.connMaxOpen,
	}
	doc.Requests = RequestMetrics{
		Total:    c.reqTotal,
		TimedOut: c.reqTimedOut,
		ByStatus: copyCounts(c.byStatus),
		ByHost:   copyCounts(c.byHost),
	}
	c.mu.Unlock()

	doc.Data.CurrentRate, doc.Data.MaximumRate = c.dataRate.Value(), c.dataRate.Maximum()
	doc.Connections.CurrentRate, doc.Connections.MaximumRate = c.connRate.Value(), c.connRate.Maximum()
	doc.Requests.CurrentRate, doc.Requests.MaximumRate = c.reqRate.Value(), c.reqRate.Maximum()
}

func copyCounts(src map[string]int64) map[string]int64 {
	out := make(map[string]int64, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

func memorySnapshot() MemoryMetrics {
	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	return MemoryMetrics{HeapTotal: ms.HeapSys, HeapUsed: ms.HeapAlloc, Server: ms.Sys}
}
