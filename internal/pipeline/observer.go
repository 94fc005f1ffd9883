package pipeline

import "context"

// Observer receives lifecycle callbacks from the Executor. Observers are
// called in registration order and each call completes before the next
// lifecycle event. A returned error is logged by the Executor and never
// changes control flow.
type Observer interface {
	OnPipelineStart(ctx context.Context, pc *Context) error
	OnPipelineFinish(ctx context.Context, pc *Context) error
	OnStageStart(ctx context.Context, stage string, pc *Context) error
	OnStageFinish(ctx context.Context, stage string, pc *Context) error
	OnStageError(ctx context.Context, stage string, stageErr error, pc *Context) error
	OnStageSkipped(ctx context.Context, stage string, reason string, pc *Context) error
}

// NopObserver implements Observer with no-ops. Embed it to implement only
// the callbacks you need.
type NopObserver struct{}

func (NopObserver) OnPipelineStart(context.Context, *Context) error                { return nil }
func (NopObserver) OnPipelineFinish(context.Context, *Context) error               { return nil }
func (NopObserver) OnStageStart(context.Context, string, *Context) error           { return nil }
func (NopObserver) OnStageFinish(context.Context, string, *Context) error          { return nil }
func (NopObserver) OnStageError(context.Context, string, error, *Context) error    { return nil }
func (NopObserver) OnStageSkipped(context.Context, string, string, *Context) error { return nil }
