package metrics

import (
	"encoding/json"
	"math"
	"net/http"
	"sort"
	"time"

	dto "github.com/prometheus/client_model/go"
)

// Summary is the JSON response for the metrics summary endpoint.
type Summary struct {
	HTTP      httpSummary   `json:"http"`
	Teams     teamsSummary  `json:"teams"`
	RateLimit rateLimitInfo `json:"rateLimit"`
	Auth      authInfo      `json:"auth"`
	DB        dbInfo        `json:"db"`
	Server    serverInfo    `json:"server"`
}

type httpSummary struct {
	TotalRequests float64 `json:"totalRequests"`
	ErrorRate     float64 `json:"errorRate"`
	P50Latency    float64 `json:"p50Latency"`
	P95Latency    float64 `json:"p95Latency"`
	P99Latency    float64 `json:"p99Latency"`
}

type teamsSummary struct {
	TotalOps   float64            `json:"totalOps"`
	ByOutcome  map[string]float64 `json:"byOutcome"`
	ByOp       map[string]float64 `json:"byOp"`
	P50Latency float64            `json:"p50Latency"`
	P95Latency float64            `json:"p95Latency"`
}

type rateLimitInfo struct {
	Rejections float64 `json:"rejections"`
}

type authInfo struct {
	Failures float64 `json:"failures"`
}

type serverInfo struct {
	StartTime     float64 `json:"startTime"`
	UptimeSeconds float64 `json:"uptimeSeconds"`
}

type dbInfo struct {
	TotalConns     float64 `json:"totalConns"`
	IdleConns      float64 `json:"idleConns"`
	AcquiredConns  float64 `json:"acquiredConns"`
	MaxConns       float64 `json:"maxConns"`
	Acquires       float64 `json:"acquires"`
	EmptyAcquires  float64 `json:"emptyAcquires"`
	AvgAcquireWait float64 `json:"avgAcquireWait"`
}

// Handler returns an http.HandlerFunc that serves live metrics in JSON format.
func (m *Metrics) Handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		summary, err := m.Summarize()
		if err != nil {
			http.Error(w, "failed to gather metrics", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Cache-Control", "no-cache, no-store")
		_ = json.NewEncoder(w).Encode(summary)
	}
}

// Summarize gathers the registry into a Summary.
func (m *Metrics) Summarize() (*Summary, error) {
	families, err := m.registry.Gather()
	if err != nil {
		return nil, err
	}

	fam := make(map[string]*dto.MetricFamily, len(families))
	for _, f := range families {
		fam[f.GetName()] = f
	}

	reqs := fam["taskmate_http_requests_total"]
	latency := fam["taskmate_http_request_duration_seconds"]
	ops := fam["taskmate_team_operations_total"]
	opLatency := fam["taskmate_team_operation_duration_seconds"]
	start := gaugeValue(fam["taskmate_server_start_time_seconds"])

	return &Summary{
		HTTP: httpSummary{
			TotalRequests: sumCounter(reqs),
			ErrorRate:     computeErrorRate(reqs),
			P50Latency:    histogramPercentile(latency, 0.50),
			P95Latency:    histogramPercentile(latency, 0.95),
			P99Latency:    histogramPercentile(latency, 0.99),
		},
		Teams: teamsSummary{
			TotalOps:   sumCounter(ops),
			ByOutcome:  sumCounterByLabel(ops, "outcome"),
			ByOp:       sumCounterByLabel(ops, "op"),
			P50Latency: histogramPercentile(opLatency, 0.50),
			P95Latency: histogramPercentile(opLatency, 0.95),
		},
		RateLimit: rateLimitInfo{
			Rejections: sumCounter(fam["taskmate_ratelimit_rejections_total"]),
		},
		Auth: authInfo{
			Failures: sumCounter(fam["taskmate_auth_failures_total"]),
		},
		DB: summarizePool(fam),
		Server: serverInfo{
			StartTime:     start,
			UptimeSeconds: float64(time.Now().Unix()) - start,
		},
	}, nil
}

func summarizePool(fam map[string]*dto.MetricFamily) dbInfo {
	conns := gaugeByLabel(fam["taskmate_db_pool_conns"], "state")
	info := dbInfo{
		TotalConns:    conns["total"],
		IdleConns:     conns["idle"],
		AcquiredConns: conns["acquired"],
		MaxConns:      gaugeValue(fam["taskmate_db_pool_max_conns"]),
		Acquires:      sumCounter(fam["taskmate_db_pool_acquires_total"]),
		EmptyAcquires: sumCounter(fam["taskmate_db_pool_empty_acquires_total"]),
	}
	if info.Acquires > 0 {
		info.AvgAcquireWait = sumCounter(fam["taskmate_db_pool_acquire_seconds_total"]) / info.Acquires
	}
	return info
}

// --- Prometheus metric helpers ---

func sumCounter(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() != nil {
			total += m.GetCounter().GetValue()
		}
	}
	return total
}

func sumCounterByLabel(f *dto.MetricFamily, labelName string) map[string]float64 {
	out := map[string]float64{}
	if f == nil {
		return out
	}
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		for _, lp := range m.GetLabel() {
			if lp.GetName() == labelName {
				out[lp.GetValue()] += m.GetCounter().GetValue()
			}
		}
	}
	return out
}

func gaugeByLabel(f *dto.MetricFamily, label string) map[string]float64 {
	out := make(map[string]float64)
	if f == nil {
		return out
	}
	for _, m := range f.GetMetric() {
		for _, lp := range m.GetLabel() {
			if lp.GetName() == label {
				out[lp.GetValue()] = m.GetGauge().GetValue()
			}
		}
	}
	return out
}

func gaugeValue(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	ms := f.GetMetric()
	if len(ms) == 0 {
		return 0
	}
	if ms[0].GetGauge() != nil {
		return ms[0].GetGauge().GetValue()
	}
	return 0
}

// computeErrorRate is the share of requests answered with a 5xx status.
// Client errors are part of normal operation for this API.
func computeErrorRate(f *dto.MetricFamily) float64 {
	if f == nil {
		return 0
	}
	var total, errs float64
	for _, m := range f.GetMetric() {
		if m.GetCounter() == nil {
			continue
		}
		v := m.GetCounter().GetValue()
		total += v
		for _, lp := range m.GetLabel() {
			if lp.GetName() == "status_code" {
				code := lp.GetValue()
				if len(code) > 0 && code[0] >= '5' {
					errs += v
				}
			}
		}
	}
	if total == 0 {
		return 0
	}
	return errs / total
}

// histogramPercentile computes a percentile from aggregated histogram buckets
// using linear interpolation.
func histogramPercentile(f *dto.MetricFamily, q float64) float64 {
	if f == nil {
		return 0
	}

	type bucket struct {
		upperBound      float64
		cumulativeCount uint64
	}
	var totalCount uint64
	bucketMap := make(map[float64]uint64)

	for _, m := range f.GetMetric() {
		h := m.GetHistogram()
		if h == nil {
			continue
		}
		totalCount += h.GetSampleCount()
		for _, b := range h.GetBucket() {
			bucketMap[b.GetUpperBound()] += b.GetCumulativeCount()
		}
	}

	if totalCount == 0 {
		return 0
	}

	buckets := make([]bucket, 0, len(bucketMap))
	for ub, count := range bucketMap {
		buckets = append(buckets, bucket{upperBound: ub, cumulativeCount: count})
	}
	sort.Slice(buckets, func(i, j int) bool {
		return buckets[i].upperBound < buckets[j].upperBound
	})

	rank := q * float64(totalCount)

	var prevBound float64
	var prevCount uint64
	for _, b := range buckets {
		if math.IsInf(b.upperBound, 1) {
			break
		}
		if float64(b.cumulativeCount) >= rank {
			bucketCount := b.cumulativeCount - prevCount
			if bucketCount == 0 {
				return b.upperBound
			}
			fraction := (rank - float64(prevCount)) / float64(bucketCount)
			return prevBound + fraction*(b.upperBound-prevBound)
		}
		prevBound = b.upperBound
		prevCount = b.cumulativeCount
	}

	// Everything landed in +Inf; report the last finite bound.
	for i := len(buckets) - 1; i >= 0; i-- {
		if !math.IsInf(buckets[i].upperBound, 1) {
			return buckets[i].upperBound
		}
	}
	return 0
}
