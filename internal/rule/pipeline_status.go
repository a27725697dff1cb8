package rule

import (
	"github.com/nx/robocat/internal/finding"
	"github.com/nx/robocat/internal/snapshot"
)

// PipelineStatusRule reads the current pipeline: block on failed, info on
// running, pass on success. manual-pending with no manual jobs is treated
// as pass (boundary behavior from spec §8).
type PipelineStatusRule struct {
	ExcludedTitlePatterns []string
}

func (PipelineStatusRule) Name() string { return "pipeline-status" }

func (r PipelineStatusRule) AppliesTo(ctx Context) bool {
	return !titleMatchesAny(r.ExcludedTitlePatterns, ctx.MR.Title)
}

func (PipelineStatusRule) Evaluate(ctx Context) []finding.Finding {
	p := ctx.MR.Pipeline
	switch p.Status {
	case snapshot.PipelineFailed:
		return []finding.Finding{{
			Severity: finding.Block,
			Category: finding.CategoryPipeline,
			ObjectID: "pipeline:" + p.ID,
			Message:  "pipeline failed",
		}}
	case snapshot.PipelineCanceled:
		return []finding.Finding{{
			Severity: finding.Block,
			Category: finding.CategoryPipeline,
			ObjectID: "pipeline:" + p.ID,
			Message:  "pipeline canceled",
		}}
	case snapshot.PipelineRunning:
		msg := "pipeline running"
		if len(p.AutorunStageJobs) > 0 {
			msg = "pipeline running (autorun-stage jobs in progress)"
		}
		return []finding.Finding{{
			Severity: finding.Info,
			Category: finding.CategoryPipeline,
			ObjectID: "pipeline:" + p.ID,
			Message:  msg,
		}}
	case snapshot.PipelineManualPending:
		if len(p.ManualJobs) == 0 {
			return []finding.Finding{{
				Severity: finding.Pass,
				Category: finding.CategoryPipeline,
				ObjectID: "pipeline:" + p.ID,
				Message:  "no manual jobs pending",
			}}
		}
		return []finding.Finding{{
			Severity: finding.Info,
			Category: finding.CategoryPipeline,
			ObjectID: "pipeline:" + p.ID,
			Message:  "pipeline waiting on manual jobs",
		}}
	default:
		return []finding.Finding{{
			Severity: finding.Pass,
			Category: finding.CategoryPipeline,
			ObjectID: "pipeline:" + p.ID,
			Message:  "pipeline succeeded",
		}}
	}
}
