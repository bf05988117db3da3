// Package metrics 注册进程级 Prometheus 指标
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "moevault"

var (
	// HTTPRequests 按路由模板统计请求数
	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"method", "route", "status"})

	HTTPDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_seconds",
		Help:      "HTTP request latency in seconds.",
		Buckets:   []float64{0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
	}, []string{"method", "route"})

	// Uploads 上传结果：ok | quota | storage_error | invalid | error
	Uploads = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "total",
		Help:      "Upload attempts by outcome.",
	}, []string{"result"})

	UploadBytes = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "upload",
		Name:      "bytes_total",
		Help:      "Bytes written to storage backends by successful uploads.",
	})

	StorageOpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "operation_duration_seconds",
		Help:      "Storage backend operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"backend", "op"})

	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "storage",
		Name:      "errors_total",
		Help:      "Storage backend operation failures.",
	}, []string{"backend", "op"})

	// RetrievalFallback 命中的回退步骤：1 存储路径，2 文件名，3 哈希命名，miss 全部未命中
	RetrievalFallback = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "retrieval",
		Name:      "fallback_total",
		Help:      "Retrievals by the fallback step that produced the bytes.",
	}, []string{"step"})

	ReconcileDeleted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "reconcile",
		Name:      "orphans_deleted_total",
		Help:      "Orphaned blobs removed by the reconciliation sweep.",
	}, []string{"strategy"})
)

// Handler 暴露 /metrics
func Handler() http.Handler {
	return promhttp.Handler()
}
