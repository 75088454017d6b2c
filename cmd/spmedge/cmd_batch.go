package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/spmedge/pipeline/internal/batch"
	"github.com/spmedge/pipeline/internal/cleaner"
	"github.com/spmedge/pipeline/internal/loader"
	"github.com/spmedge/pipeline/internal/pipeline"
	"github.com/spmedge/pipeline/internal/processor"
	"github.com/spmedge/pipeline/internal/scheduler"
	"github.com/spmedge/pipeline/internal/store"
)

var (
	batchArchive   bool
	batchDelete    bool
	batchSize      int
	resetStageName string
	resetBatchID   string
	scheduleCron   string
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "INPUT-stage ingestion and cross-stage batch operations",
}

var batchProcessCmd = &cobra.Command{
	Use:   "process <doc_type>",
	Short: "Bring files from unprocessed/ into the pipeline (INPUT stage)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		mgr := batch.NewManager(a.pctx)
		batchID, succeeded, total, err := mgr.ProcessBatch(ctx, args[0], batch.Options{
			Archive: batchArchive,
			Delete:  batchDelete,
			Limit:   batchSize,
		})
		if err != nil {
			return operationalError(err)
		}
		fmt.Printf("batch %s: %d/%d documents registered\n", batchID, succeeded, total)
		if total > 0 && succeeded == 0 {
			return operationalError(fmt.Errorf("all %d documents failed registration", total))
		}
		return nil
	},
}

var batchRunAllCmd = &cobra.Command{
	Use:   "run-all <doc_type>",
	Short: "Run every stage in order (INPUT through INDEX) for one document type",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		orch, closeOrch, err := buildOrchestrator(ctx, a)
		if err != nil {
			return configError(err)
		}
		defer closeOrch()

		summaries, err := orch.RunAll(ctx, args[0], resolveLimit())
		if err != nil {
			return operationalError(err)
		}
		if allStagesFailed(summaries) {
			return operationalError(fmt.Errorf("every document failed in at least one stage"))
		}
		return nil
	},
}

var batchScheduleCmd = &cobra.Command{
	Use:   "schedule <doc_type>",
	Short: "Run run-all repeatedly on a cron schedule until interrupted",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		orch, closeOrch, err := buildOrchestrator(ctx, a)
		if err != nil {
			return configError(err)
		}
		defer closeOrch()

		docType := args[0]
		sched := scheduler.New()
		if _, err := sched.AddFunc(scheduleCron, func() {
			summaries, err := orch.RunAll(ctx, docType, resolveLimit())
			if err != nil {
				slog.Error("scheduled run-all failed", "doc_type", docType, "err", err)
				return
			}
			for _, s := range summaries {
				slog.Info("scheduled stage complete", "stage", s.Stage, "succeeded", s.Succeeded, "failed", s.Failed, "total", s.Total)
			}
		}); err != nil {
			return configError(fmt.Errorf("parse --cron: %w", err))
		}

		sched.Start()
		fmt.Printf("scheduled %q for %s, press ctrl-c to stop\n", scheduleCron, docType)
		<-ctx.Done()
		sched.Stop(context.Background())
		return nil
	},
}

// buildOrchestrator assembles the five-stage orchestrator shared by run-all
// and schedule, returning a closer that releases the RAG index handle.
func buildOrchestrator(ctx context.Context, a *app) (*pipeline.Orchestrator, func(), error) {
	orch := pipeline.NewOrchestrator()
	orch.Register(batch.NewManager(a.pctx))
	orch.Register(loader.NewLoader(a.pctx))
	orch.Register(cleaner.NewCleaner(a.pctx))

	registry, err := buildProviderRegistry(a.cfg)
	if err != nil {
		return nil, nil, err
	}
	orch.Register(processor.NewProcessor(a.pctx, registry, rateLimitParams(a.cfg)))

	idx, embedder, err := buildRAGIndex(ctx, a.cfg)
	if err != nil {
		return nil, nil, err
	}
	orch.Register(newRAGIndexer(a.pctx, idx, embedder))

	return orch, func() { idx.Close() }, nil
}

// allStagesFailed prints each stage's summary and reports whether any
// non-empty stage had zero successes.
func allStagesFailed(summaries []*pipeline.StageSummary) bool {
	anyFailed := false
	for _, s := range summaries {
		fmt.Printf("%-8s succeeded=%d failed=%d total=%d\n", s.Stage, s.Succeeded, s.Failed, s.Total)
		if s.Total > 0 && s.Succeeded == 0 {
			anyFailed = true
		}
	}
	return anyFailed
}

var batchResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Reset pipeline state for a batch, optionally for a single stage",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		var stages []store.Stage
		if resetStageName != "" {
			stages = []store.Stage{store.Stage(resetStageName)}
		}
		mgr := batch.NewManager(a.pctx)
		if err := mgr.ResetStages(ctx, stages, resetBatchID); err != nil {
			return operationalError(err)
		}
		fmt.Println("reset complete")
		return nil
	},
}

var batchListCmd = &cobra.Command{
	Use:   "list",
	Short: "List batches still processing or partial",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		mgr := batch.NewManager(a.pctx)
		batches, err := mgr.ListActiveBatches(ctx)
		if err != nil {
			return operationalError(err)
		}
		for _, b := range batches {
			fmt.Printf("%s\t%s\t%s\t%d docs\n", b.ID, b.Name, b.Status, b.DocumentCount)
		}
		return nil
	},
}

var batchCleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Remove orphaned documents and empty batches",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		mgr := batch.NewManager(a.pctx)
		docs, batches, err := mgr.CleanupOrphans(ctx)
		if err != nil {
			return operationalError(err)
		}
		fmt.Printf("removed %d orphaned documents, %d empty batches\n", docs, batches)
		return nil
	},
}

var batchStatusCmd = &cobra.Command{
	Use:   "status <batch_id>",
	Short: "Show per-stage, per-status document counts for a batch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, closer, err := loadApp(ctx)
		if err != nil {
			return configError(err)
		}
		defer closer()

		counts, err := a.st.StageCounts(ctx, args[0])
		if err != nil {
			return operationalError(err)
		}
		for _, stage := range store.Stages {
			byStatus := counts[stage]
			if len(byStatus) == 0 {
				continue
			}
			fmt.Printf("%-8s", stage)
			for status, n := range byStatus {
				fmt.Printf(" %s=%d", status, n)
			}
			fmt.Println()
		}
		return nil
	},
}

func init() {
	batchProcessCmd.Flags().BoolVar(&batchArchive, "archive", false, "move source files to archive/ after registration")
	batchProcessCmd.Flags().BoolVar(&batchDelete, "delete", false, "delete source files after registration")
	batchProcessCmd.Flags().IntVar(&batchSize, "batch-size", 0, "max files to register (0 = unbounded)")

	batchResetCmd.Flags().StringVar(&resetStageName, "stage", "", "single stage to reset (default: all stages)")
	batchResetCmd.Flags().StringVar(&resetBatchID, "batch", "", "batch to reset (required)")
	batchResetCmd.MarkFlagRequired("batch")

	batchScheduleCmd.Flags().StringVar(&scheduleCron, "cron", "", "cron expression (6-field with seconds, or standard 5-field; required)")
	batchScheduleCmd.MarkFlagRequired("cron")

	batchCmd.AddCommand(batchProcessCmd, batchRunAllCmd, batchScheduleCmd, batchResetCmd, batchListCmd, batchCleanupCmd, batchStatusCmd)
}
