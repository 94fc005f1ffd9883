// Package observer holds the pipeline observers that mirror a run into the
// execution store, the check-run service and Prometheus.
package observer

import (
	"context"

	"github.com/lucasnoah/reviewflow/internal/checks"
	"github.com/lucasnoah/reviewflow/internal/db"
	"github.com/lucasnoah/reviewflow/internal/pipeline"
)

// ExecutionStore is the part of the execution store the observer writes to.
// *db.DB implements it.
type ExecutionStore interface {
	UpdateCodeReview(ctx context.Context, filter db.ExecutionFilter, status pipeline.Status, message, stageName string, metadata map[string]any) (*db.CodeReviewUpdate, error)
	UpdateStageLog(ctx context.Context, stageLogUUID string, u db.StageLogUpdate) error
	FindLatestExecutionByFilters(ctx context.Context, filter db.ExecutionFilter) (*db.Execution, error)
	FindLatestStageLog(ctx context.Context, executionUUID, stageName string) (*db.StageLog, error)
}

// CheckService drives the external check run. *checks.Service implements it.
type CheckService interface {
	StartCheck(ctx context.Context, oc *checks.ObserverContext, pc *pipeline.Context, stage string)
	UpdateCheck(ctx context.Context, oc *checks.ObserverContext, pc *pipeline.Context, stage string, status checks.Status, conclusion checks.Conclusion)
	FinalizeCheck(ctx context.Context, oc *checks.ObserverContext, pc *pipeline.Context, conclusion checks.Conclusion, stage, reason string)
}

var (
	_ ExecutionStore = (*db.DB)(nil)
	_ CheckService   = (*checks.Service)(nil)
)
