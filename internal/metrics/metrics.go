package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	QueryRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poiapi_query_requests_total",
		Help: "Total number of /api/pois requests",
	})
	QueryDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "poiapi_query_duration_ms",
		Help:    "Query request duration in milliseconds",
		Buckets: []float64{5, 10, 20, 50, 100, 200, 500, 1000, 2000, 5000},
	})
	UpstreamUnreachableTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poiapi_upstream_unreachable_total",
		Help: "Total queries where all upstream mirrors failed",
	})
	MirrorAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poiapi_mirror_attempts_total",
		Help: "Upstream mirror attempts by mirror and outcome",
	}, []string{"mirror", "outcome"})
	MirrorDurationMs = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "poiapi_mirror_duration_ms",
		Help:    "Upstream mirror attempt duration in milliseconds",
		Buckets: []float64{10, 50, 100, 200, 500, 1000, 2000, 5000, 10000},
	}, []string{"mirror"})
	RedisHitsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poiapi_redis_hits_total",
		Help: "Total redis cache hits",
	})
	RedisMissesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poiapi_redis_misses_total",
		Help: "Total redis cache misses",
	})
	MergeInputTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poiapi_merge_input_total",
		Help: "Total features fed into the merge engine",
	})
	MergeCollapsedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poiapi_merge_collapsed_total",
		Help: "Total features removed by identity or positional dedup",
	})
	MergeDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "poiapi_merge_duration_ms",
		Help:    "Merge engine pass duration in milliseconds",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100, 200},
	})
	ImportRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poiapi_import_requests_total",
		Help: "Total import (promotion) requests",
	})
	ImportOutcomeTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poiapi_import_outcome_total",
		Help: "Import outcomes by result class",
	}, []string{"outcome"})
	ImportDurationMs = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "poiapi_import_duration_ms",
		Help:    "Import pipeline duration in milliseconds",
		Buckets: []float64{50, 100, 200, 500, 1000, 2000, 5000, 10000},
	})
	RevGeoRequestsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poiapi_revgeo_requests_total",
		Help: "Total reverse geocode requests issued",
	})
	RevGeoFailTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poiapi_revgeo_fail_total",
		Help: "Total reverse geocode failures",
	})
	BackfillEnqueuedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "poiapi_backfill_enqueued_total",
		Help: "Total backfill tasks enqueued",
	})
	BackfillProcessedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "poiapi_backfill_processed_total",
		Help: "Backfill tasks processed by the worker, by outcome",
	}, []string{"outcome"})
)

func init() {
	prometheus.MustRegister(QueryRequestsTotal)
	prometheus.MustRegister(QueryDurationMs)
	prometheus.MustRegister(UpstreamUnreachableTotal)
	prometheus.MustRegister(MirrorAttemptsTotal)
	prometheus.MustRegister(MirrorDurationMs)
	prometheus.MustRegister(RedisHitsTotal)
	prometheus.MustRegister(RedisMissesTotal)
	prometheus.MustRegister(MergeInputTotal)
	prometheus.MustRegister(MergeCollapsedTotal)
	prometheus.MustRegister(MergeDurationMs)
	prometheus.MustRegister(ImportRequestsTotal)
	prometheus.MustRegister(ImportOutcomeTotal)
	prometheus.MustRegister(ImportDurationMs)
	prometheus.MustRegister(RevGeoRequestsTotal)
	prometheus.MustRegister(RevGeoFailTotal)
	prometheus.MustRegister(BackfillEnqueuedTotal)
	prometheus.MustRegister(BackfillProcessedTotal)
}

// 文档注释：返回 Prometheus 指标监听器
// 背景：统一暴露注册指标到 /metrics 路径，供 Prometheus 抓取；在主入口挂载。
func Handler() http.Handler { return promhttp.Handler() }
