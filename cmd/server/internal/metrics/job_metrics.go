package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// JobsSubmittedTotal 已提交作业计数
	// Labels: source (remote-fetch/local-upload), mode (solo/duet)
	JobsSubmittedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "singstudio_jobs_submitted_total",
			Help: "Total number of submitted jobs by source and requested mode",
		},
		[]string{"source", "mode"},
	)

	// JobsFinishedTotal 作业进入终态计数
	// Labels: status (completed/failed/cancelled)
	JobsFinishedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "singstudio_jobs_finished_total",
			Help: "Total number of jobs reaching a terminal status",
		},
		[]string{"status"},
	)

	// JobsProcessing 正在处理的作业数量（受并发槽位限制）
	JobsProcessing = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "singstudio_jobs_processing",
			Help: "Number of jobs currently holding a processing slot",
		},
	)

	// StageDuration 流水线阶段耗时直方图（秒）
	// Labels: stage (acquiring/separating/transcribing/generating)
	StageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "singstudio_stage_duration_seconds",
			Help:    "Pipeline stage duration in seconds",
			Buckets: []float64{1, 5, 10, 30, 60, 120, 300, 600, 1200, 1800},
		},
		[]string{"stage"},
	)

	// DuetFallbackTotal 合唱降级为独唱次数
	DuetFallbackTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "singstudio_duet_fallback_total",
			Help: "Total number of duet jobs downgraded to solo processing",
		},
	)
)

// RecordSubmitted 记录作业提交
func RecordSubmitted(source string, duet bool) {
	mode := "solo"
	if duet {
		mode = "duet"
	}
	JobsSubmittedTotal.WithLabelValues(source, mode).Inc()
}

// RecordFinished 记录作业终态
func RecordFinished(status string) {
	JobsFinishedTotal.WithLabelValues(status).Inc()
}

// RecordStageDuration 记录阶段耗时（秒）
func RecordStageDuration(stage string, seconds float64) {
	StageDuration.WithLabelValues(stage).Observe(seconds)
}

// RecordDuetFallback 记录一次合唱降级
func RecordDuetFallback() {
	DuetFallbackTotal.Inc()
}
