package service

import (
	"context"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/polisai/atomws/pkg/domain"
)

// DefaultBackendBind is where the metrics backend listens unless configured.
const DefaultBackendBind = "127.0.0.1:81"

// backendTimeout bounds redis aggregation while rendering /metrics.
const backendTimeout = 2 * time.Second

// DocumentSource produces the metrics document served by the backend.
type DocumentSource func(ctx context.Context) Document

// BackendRoute returns the route of the metrics backend: the JSON document at
// /metrics and the prometheus exposition of gatherer at /metrics/prometheus.
// Everything else falls through to the 404 fallback.
func BackendRoute(source DocumentSource, gatherer prometheus.Gatherer) []any {
	route := []any{
		domain.Schema{
			domain.KeyAtom: "match",
			"using":        []any{map[string]any{"path": "^/metrics$"}},
			domain.KeyRoute: domain.Schema{
				domain.KeyAtom: "json",
				"using": domain.Computed(func(j domain.JobView) any {
					ctx, cancel := context.WithTimeout(context.Background(), backendTimeout)
					defer cancel()
					bits := j.Field("parameters.bits") != ""
					return RenderDocument(source(ctx), bits, j.Field("parameters.human") == "true")
				}),
			},
		},
	}
	if gatherer != nil {
		route = append(route, domain.Schema{
			domain.KeyAtom: "match",
			"using":        []any{map[string]any{"path": "^/metrics/prometheus$"}},
			domain.KeyRoute: domain.Schema{
				domain.KeyAtom: "custom",
				"handler":      promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}),
			},
		})
	}
	return route
}

// RenderDocument shapes doc for the /metrics endpoint. bits scales data rates
// to bits per second; human replaces numbers with readable strings.
func RenderDocument(doc Document, bits, human bool) any {
	if bits {
		doc.Data.CurrentRate *= 8
		doc.Data.MaximumRate *= 8
	}
	if !human {
		return doc
	}
	return humanDocument{
		Document: doc,
		Date:     time.UnixMilli(doc.Date).Format(time.RFC1123),
		Uptime:   HumanInterval(doc.Uptime),
		Data: humanData{
			Total:       HumanSize(float64(doc.Data.Total), false, ""),
			Input:       HumanSize(float64(doc.Data.Input), false, ""),
			Output:      HumanSize(float64(doc.Data.Output), false, ""),
			CurrentRate: HumanSize(doc.Data.CurrentRate, bits, "/s"),
			MaximumRate: HumanSize(doc.Data.MaximumRate, bits, "/s"),
		},
		Connections: humanConnections{
			ConnectionMetrics: doc.Connections,
			CurrentRate:       perSecond(doc.Connections.CurrentRate),
			MaximumRate:       perSecond(doc.Connections.MaximumRate),
		},
		Requests: humanRequests{
			RequestMetrics: doc.Requests,
			CurrentRate:    perSecond(doc.Requests.CurrentRate),
			MaximumRate:    perSecond(doc.Requests.MaximumRate),
		},
		Memory: humanMemory{
			HeapTotal: HumanSize(float64(doc.Memory.HeapTotal), false, ""),
			HeapUsed:  HumanSize(float64(doc.Memory.HeapUsed), false, ""),
			Server:    HumanSize(float64(doc.Memory.Server), false, ""),
		},
	}
}

func perSecond(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "/s"
}

// humanDocument shadows the numeric fields of Document with strings. The
// shallower fields win during JSON encoding.
type humanDocument struct {
	Document
	Date        string           `json:"date"`
	Uptime      string           `json:"uptime"`
	Data        humanData        `json:"data"`
	Connections humanConnections `json:"connections"`
	Requests    humanRequests    `json:"requests"`
	Memory      humanMemory      `json:"memory"`
}

type humanData struct {
	Total       string `json:"total"`
	Input       string `json:"input"`
	Output      string `json:"output"`
	CurrentRate string `json:"current-rate"`
	MaximumRate string `json:"maximum-rate"`
}

type humanConnections struct {
	ConnectionMetrics
	CurrentRate string `json:"current-rate"`
	MaximumRate string `json:"maximum-rate"`
}

type humanRequests struct {
	RequestMetrics
	CurrentRate string `json:"current-rate"`
	MaximumRate string `json:"maximum-rate"`
}

type humanMemory struct {
	HeapTotal string `json:"heap-total"`
	HeapUsed  string `json:"heap-used"`
	Server    string `json:"server"`
}
