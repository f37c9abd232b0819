package session

import (
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type pipelineMetrics struct {
	framesCaptured     metric.Int64Counter
	chunksTranscribed  metric.Int64Counter
	transcribeFailures metric.Int64Counter
	transcribeLatency  metric.Float64Histogram
}

func newPipelineMetrics() pipelineMetrics {
	meter := otel.Meter("loqa-dictate/session")
	frames, _ := meter.Int64Counter("dictate.frames.captured",
		metric.WithDescription("Audio frames pushed onto the session queue"))
	chunks, _ := meter.Int64Counter("dictate.chunks.transcribed",
		metric.WithDescription("Chunks submitted to the engine that returned without error"))
	failures, _ := meter.Int64Counter("dictate.transcribe.failures",
		metric.WithDescription("Per-chunk engine failures"))
	latency, _ := meter.Float64Histogram("dictate.transcribe.latency",
		metric.WithDescription("Engine call latency in seconds"),
		metric.WithUnit("s"))
	return pipelineMetrics{
		framesCaptured:     frames,
		chunksTranscribed:  chunks,
		transcribeFailures: failures,
		transcribeLatency:  latency,
	}
}
