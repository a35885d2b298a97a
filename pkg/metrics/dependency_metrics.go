// Package metrics provides Prometheus metrics for the external engine commands
// (yt-dlp, ffmpeg, pyannote, UltraSinger) the server shells out to.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Collaborator command metrics
var (
	// commandExecutionTotal counts command executions.
	// Labels: command (ytdlp/ffmpeg/pyannote/ultrasinger), mode (local/remote/fallback),
	// status (success/failed/timeout/rejected).
	commandExecutionTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "singstudio_command_executions_total",
			Help: "Total number of engine command executions",
		},
		[]string{"command", "mode", "status"},
	)

	// commandExecutionDuration records command wall time. Transcription runs
	// for minutes, so the buckets reach 30 minutes.
	commandExecutionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "singstudio_command_duration_seconds",
			Help:    "Duration of engine command executions in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 300, 900, 1800},
		},
		[]string{"command", "mode"},
	)

	// degradationEventsTotal counts switches from a preferred mode to its fallback.
	degradationEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "singstudio_degradation_events_total",
			Help: "Total number of execution mode degradation events (e.g., remote -> local)",
		},
		[]string{"from_mode", "to_mode"},
	)

	// breakerStateChangesTotal counts circuit breaker transitions of the remote executor.
	breakerStateChangesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "singstudio_breaker_state_changes_total",
			Help: "Total number of circuit breaker state changes by breaker and target state",
		},
		[]string{"breaker", "to_state"},
	)
)

func init() {
	prometheus.MustRegister(commandExecutionTotal)
	prometheus.MustRegister(commandExecutionDuration)
	prometheus.MustRegister(degradationEventsTotal)
	prometheus.MustRegister(breakerStateChangesTotal)
}

// RecordCommandExecution records one command execution outcome.
func RecordCommandExecution(command, mode, status string) {
	commandExecutionTotal.WithLabelValues(command, mode, status).Inc()
}

// RecordCommandDuration records the duration of a command execution.
func RecordCommandDuration(command, mode string, durationSeconds float64) {
	commandExecutionDuration.WithLabelValues(command, mode).Observe(durationSeconds)
}

// RecordDegradationEvent records a degradation event.
func RecordDegradationEvent(fromMode, toMode string) {
	degradationEventsTotal.WithLabelValues(fromMode, toMode).Inc()
}

// RecordBreakerStateChange records a circuit breaker moving into toState.
func RecordBreakerStateChange(breaker, toState string) {
	breakerStateChangesTotal.WithLabelValues(breaker, toState).Inc()
}
