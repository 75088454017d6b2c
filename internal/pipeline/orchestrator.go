package pipeline

import (
	"context"
	"fmt"

	"github.com/spmedge/pipeline/internal/store"
)

// StageRunner executes one pipeline stage for a document type. Each stage
// package (batch, loader, cleaner, processor, rag) implements this so the
// Orchestrator can run them in sequence without importing their concrete
// types.
type StageRunner interface {
	Stage() store.Stage
	Run(ctx context.Context, docType string, limit int) (*StageSummary, error)
}

// StageSummary reports how many documents a stage run touched.
type StageSummary struct {
	Stage     store.Stage
	Succeeded int
	Failed    int
	Total     int
}

// Orchestrator runs registered stages in order for `batch run-all`. Stages
// never call each other in-process; the orchestrator composes them by
// invoking each runner's Run in turn and stopping at the first stage that
// makes no progress.
type Orchestrator struct {
	runners map[store.Stage]StageRunner
}

// NewOrchestrator creates an empty Orchestrator.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{runners: make(map[store.Stage]StageRunner)}
}

// Register adds a stage runner, keyed by the stage it produces.
func (o *Orchestrator) Register(r StageRunner) {
	o.runners[r.Stage()] = r
}

// RunAll executes every registered stage in store.Stages order for docType,
// returning one summary per stage actually run. It stops early if a stage
// reports zero total work, since later stages can have nothing new to
// consume either.
func (o *Orchestrator) RunAll(ctx context.Context, docType string, limit int) ([]*StageSummary, error) {
	var summaries []*StageSummary
	for _, stage := range store.Stages {
		runner, ok := o.runners[stage]
		if !ok {
			continue
		}
		summary, err := runner.Run(ctx, docType, limit)
		if err != nil {
			return summaries, fmt.Errorf("stage %s failed: %w", stage, err)
		}
		summaries = append(summaries, summary)
		if summary.Total == 0 {
			break
		}
	}
	return summaries, nil
}
