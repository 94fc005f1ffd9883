package observer

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

// Stage event labels.
const (
	EventFinished = "finished"
	EventFailed   = "failed"
	EventSkipped  = "skipped"
)

// Metrics holds the pipeline collectors. One Metrics is shared by every run;
// Observer returns the per-run observer feeding it.
type Metrics struct {
	PipelineRuns     *prometheus.CounterVec
	PipelineDuration *prometheus.HistogramVec
	StageEvents      *prometheus.CounterVec
	StageDuration    *prometheus.HistogramVec
	ActiveRuns       *prometheus.GaugeVec
}

// NewMetrics registers the collectors with reg. A nil reg uses the default
// registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		PipelineRuns: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewflow_pipeline_runs_total",
				Help: "Total number of pipeline runs by outcome",
			},
			[]string{"pipeline", "outcome"},
		),
		PipelineDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reviewflow_pipeline_duration_seconds",
				Help:    "Duration of pipeline runs",
				Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
			},
			[]string{"pipeline"},
		),
		StageEvents: f.NewCounterVec(
			prometheus.CounterOpts{
				Name: "reviewflow_stage_events_total",
				Help: "Total number of stage outcomes by kind",
			},
			[]string{"pipeline", "stage", "event"},
		),
		StageDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "reviewflow_stage_duration_seconds",
				Help:    "Duration of stage executions",
				Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
			},
			[]string{"pipeline", "stage"},
		),
		ActiveRuns: f.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "reviewflow_pipeline_active_runs",
				Help: "Pipeline runs currently executing",
			},
			[]string{"pipeline"},
		),
	}
}

// Observer returns an observer recording one run of pipelineName.
func (m *Metrics) Observer(pipelineName string) pipeline.Observer {
	return &metricsObserver{
		m:           m,
		pipeline:    pipelineName,
		stageStarts: make(map[string]time.Time),
	}
}

// Outcome classifies a finished run the same way the check run is concluded.
func Outcome(pc *pipeline.Context) string {
	switch {
	case pc.StatusInfo.Status == pipeline.StatusSkipped:
		return "skipped"
	case pc.StatusInfo.Status == pipeline.StatusError || len(pc.Errors) > 0:
		return "failure"
	default:
		return "success"
	}
}

type metricsObserver struct {
	m        *Metrics
	pipeline string

	mu          sync.Mutex
	start       time.Time
	stageStarts map[string]time.Time
}

func (o *metricsObserver) OnPipelineStart(context.Context, *pipeline.Context) error {
	o.mu.Lock()
	o.start = time.Now()
	o.mu.Unlock()
	o.m.ActiveRuns.WithLabelValues(o.pipeline).Inc()
	return nil
}

func (o *metricsObserver) OnPipelineFinish(_ context.Context, pc *pipeline.Context) error {
	o.mu.Lock()
	start := o.start
	o.mu.Unlock()
	o.m.ActiveRuns.WithLabelValues(o.pipeline).Dec()
	o.m.PipelineRuns.WithLabelValues(o.pipeline, Outcome(pc)).Inc()
	if !start.IsZero() {
		o.m.PipelineDuration.WithLabelValues(o.pipeline).Observe(time.Since(start).Seconds())
	}
	return nil
}

func (o *metricsObserver) OnStageStart(_ context.Context, stage string, _ *pipeline.Context) error {
	o.mu.Lock()
	o.stageStarts[stage] = time.Now()
	o.mu.Unlock()
	return nil
}

func (o *metricsObserver) OnStageFinish(_ context.Context, stage string, _ *pipeline.Context) error {
	o.stageDone(stage, EventFinished)
	return nil
}

func (o *metricsObserver) OnStageError(_ context.Context, stage string, _ error, _ *pipeline.Context) error {
	o.stageDone(stage, EventFailed)
	return nil
}

func (o *metricsObserver) OnStageSkipped(_ context.Context, stage, _ string, _ *pipeline.Context) error {
	o.stageDone(stage, EventSkipped)
	return nil
}

func (o *metricsObserver) stageDone(stage, event string) {
	o.mu.Lock()
	start, ok := o.stageStarts[stage]
	delete(o.stageStarts, stage)
	o.mu.Unlock()

	o.m.StageEvents.WithLabelValues(o.pipeline, stage, event).Inc()
	if ok {
		o.m.StageDuration.WithLabelValues(o.pipeline, stage).Observe(time.Since(start).Seconds())
	}
}
