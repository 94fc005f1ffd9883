package observer

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

func TestMetricsObserver(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)

	stages := []pipeline.Stage{
		pipeline.StageFunc{StageName: "ok"},
		pipeline.StageFunc{StageName: "bad", Fn: func(context.Context, *pipeline.Context) error { return errors.New("x") }},
		pipeline.StageFunc{StageName: "skip", Fn: func(_ context.Context, pc *pipeline.Context) error {
			pc.Skip("nothing to do", "")
			return nil
		}},
	}
	_, err := pipeline.NewExecutor(pipeline.WithName("test")).Run(context.Background(), pipeline.NewContext(), stages, m.Observer("test"))
	require.NoError(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageEvents.WithLabelValues("test", "ok", EventFinished)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageEvents.WithLabelValues("test", "bad", EventFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.StageEvents.WithLabelValues("test", "skip", EventSkipped)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.PipelineRuns.WithLabelValues("test", "skipped")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.ActiveRuns.WithLabelValues("test")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.StageDuration))
}

func TestOutcome(t *testing.T) {
	pc := pipeline.NewContext()
	assert.Equal(t, "success", Outcome(pc))

	pc.AddError("S", "", errors.New("x"), nil)
	assert.Equal(t, "failure", Outcome(pc))

	pc.Skip("draft", "")
	assert.Equal(t, "skipped", Outcome(pc))
}
