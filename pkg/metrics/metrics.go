// Package metrics exposes the Prometheus metrics of the iNaturalist client.
// All metrics are defined in their respective packages (client, cache,
// ratelimit, pagination) via promauto; this package serves and summarizes
// them.
package metrics

import (
	"fmt"
	"net/http"
	"sort"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	dto "github.com/prometheus/client_model/go"
)

// Prefix is shared by every metric this module registers.
const Prefix = "inat_"

// Registry is the default Prometheus registry used by the iNaturalist client.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer reads the metrics registered in Registry.
var Gatherer prometheus.Gatherer = prometheus.DefaultGatherer

// Handler serves all registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Sample is one summarized series. Histograms are reported as their
// observation count and sum.
type Sample struct {
	Name   string
	Labels string
	Value  float64
}

// Snapshot returns the current value of every series whose name starts with
// Prefix, ordered by name then labels.
func Snapshot() ([]Sample, error) {
	families, err := Gatherer.Gather()
	if err != nil {
		return nil, fmt.Errorf("gather metrics: %w", err)
	}

	var samples []Sample
	for _, mf := range families {
		name := mf.GetName()
		if !strings.HasPrefix(name, Prefix) {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := formatLabels(m.GetLabel())
			switch mf.GetType() {
			case dto.MetricType_COUNTER:
				samples = append(samples, Sample{Name: name, Labels: labels, Value: m.GetCounter().GetValue()})
			case dto.MetricType_GAUGE:
				samples = append(samples, Sample{Name: name, Labels: labels, Value: m.GetGauge().GetValue()})
			case dto.MetricType_HISTOGRAM:
				h := m.GetHistogram()
				samples = append(samples,
					Sample{Name: name + "_count", Labels: labels, Value: float64(h.GetSampleCount())},
					Sample{Name: name + "_sum", Labels: labels, Value: h.GetSampleSum()},
				)
			}
		}
	}

	sort.Slice(samples, func(i, j int) bool {
		if samples[i].Name != samples[j].Name {
			return samples[i].Name < samples[j].Name
		}
		return samples[i].Labels < samples[j].Labels
	})
	return samples, nil
}

func formatLabels(pairs []*dto.LabelPair) string {
	parts := make([]string, 0, len(pairs))
	for _, p := range pairs {
		parts = append(parts, p.GetName()+"="+p.GetValue())
	}
	return strings.Join(parts, ",")
}

// Metrics Documentation
//
// Pacing Metrics (pkg/ratelimit):
//   - inat_throttle_wait_seconds (Histogram): Time calls waited for the pacing interval
//   - inat_cancel_requests_total (Counter): Cancellation requests
//   - inat_cancellations_total (Counter): Calls aborted by a pending cancellation
//
// Cache Metrics (pkg/cache):
//   - inat_cache_hits_total{backend} (Counter): Cache hits by backend (redis, badger)
//   - inat_cache_misses_total{backend} (Counter): Cache misses by backend
//   - inat_cache_write_bytes_total{backend} (Counter): Encoded bytes written
//   - inat_cache_errors_total{backend, operation} (Counter): Storage failures
//
// Request Metrics (pkg/client):
//   - inat_requests_total{endpoint, status} (Counter): Requests by endpoint and HTTP status
//   - inat_request_duration_seconds{endpoint} (Histogram): Request duration including pacing
//   - inat_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network, decode)
//   - inat_entity_lookups_total{type, source} (Counter): Entity lookups served from cache or network
//
// Retrieval Metrics (pkg/pagination):
//   - inat_retrievals_total{outcome} (Counter): completed, cached, cancelled, result_limit, page_limit, error
//   - inat_pages_fetched_total (Counter): Result pages fetched
//
// Example Prometheus Queries:
//
//   # Retrieval cache hit rate
//   sum(rate(inat_retrievals_total{outcome="cached"}[1h])) / sum(rate(inat_retrievals_total[1h]))
//
//   # Average pacing wait
//   rate(inat_throttle_wait_seconds_sum[5m]) / rate(inat_throttle_wait_seconds_count[5m])
//
//   # Upstream error rate
//   rate(inat_errors_total[5m])
