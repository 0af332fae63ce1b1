package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"briefline/internal/domain"
	"briefline/internal/generate"
)

// runSection is one section worker. It emits worker_start, a monotonic
// sequence of worker_progress events, and exactly one of worker_complete
// or worker_error followed by a fallback completion. Whatever happens to
// generation, the worker persists exactly one section row; persistence
// runs on a context that survives job cancellation.
func (o *Orchestrator) runSection(ctx context.Context, job domain.Job, plan domain.SectionPlan) {
	o.publish(job.ID, domain.Event{
		Kind:         domain.KindWorkerStart,
		SectionKey:   plan.Key,
		SectionTitle: plan.Title,
		Progress:     domain.Progress(0),
	})
	o.progress(job.ID, plan, 25, "Generating content")

	content, outcome := o.sectionContent(ctx, job, plan)
	o.progress(job.ID, plan, 60, "Persisting section")

	base := context.WithoutCancel(ctx)
	section := domain.Section{
		ID:        uuid.New().String(),
		JobID:     job.ID,
		Key:       plan.Key,
		Title:     plan.Title,
		Content:   content,
		CreatedAt: o.now().UTC().Format(time.RFC3339),
	}
	if err := o.Store.CreateSection(base, section); err != nil {
		// Section-level persistence failure is not fatal to the job.
		// Retry once with fallback content before giving up.
		o.Log.Error("persist section", "job_id", job.ID, "section", plan.Key, "error", err)
		o.workerError(job.ID, plan, fmt.Sprintf("failed to persist section: %v", err))
		section.ID = uuid.New().String()
		section.Content = generate.FallbackSection(job.Topic, plan.Title, plan.Guidance)
		outcome = "fallback"
		if err := o.Store.CreateSection(base, section); err != nil {
			o.Log.Error("persist fallback section", "job_id", job.ID, "section", plan.Key, "error", err)
			return
		}
	}
	o.progress(job.ID, plan, 90, "Section persisted")
	o.Metrics.Sections.WithLabelValues(outcome).Inc()

	// Citations ride alongside the section as a separate artifact row so
	// the section content stays pure report text. Losing them is not
	// fatal to the section.
	citations := generate.CitationList(job.Topic, plan.Title)
	artifact := domain.Artifact{
		ID:         uuid.New().String(),
		JobID:      job.ID,
		SectionKey: plan.Key,
		Kind:       domain.ArtifactCitations,
		Title:      fmt.Sprintf("Citations: %s", plan.Title),
		Content:    citations,
		CreatedAt:  o.now().UTC().Format(time.RFC3339),
	}
	if err := o.Store.CreateArtifact(base, artifact); err != nil {
		o.Log.Error("persist citations artifact", "job_id", job.ID, "section", plan.Key, "error", err)
		citations = ""
	}

	o.publish(job.ID, domain.Event{
		Kind:         domain.KindWorkerComplete,
		SectionKey:   plan.Key,
		SectionTitle: plan.Title,
		Progress:     domain.Progress(100),
	})
	// Content rides its own event so observers can render it no matter
	// which kind they key on.
	o.publish(job.ID, domain.Event{
		Kind:         domain.KindContent,
		Text:         section.Content,
		SectionKey:   plan.Key,
		SectionTitle: plan.Title,
		Progress:     domain.Progress(100),
		Citations:    citations,
	})
}

// sectionContent asks the collaborator for section text and degrades to
// the deterministic fallback on any failure. The failure is surfaced as
// an informational worker_error event, never propagated.
func (o *Orchestrator) sectionContent(ctx context.Context, job domain.Job, plan domain.SectionPlan) (string, string) {
	if o.Generator != nil {
		content, err := o.Generator.SectionContent(ctx, job.Topic, plan.Title, plan.Guidance, job.Depth)
		if err == nil {
			return content, "generated"
		}
		o.Log.Warn("section generation failed, using fallback",
			"job_id", job.ID, "section", plan.Key, "error", err)
		o.workerError(job.ID, plan, fmt.Sprintf("section generation failed: %v", err))
	}
	return generate.FallbackSection(job.Topic, plan.Title, plan.Guidance), "fallback"
}

func (o *Orchestrator) progress(jobID string, plan domain.SectionPlan, pct int, text string) {
	o.publish(jobID, domain.Event{
		Kind:         domain.KindWorkerProgress,
		Text:         text,
		SectionKey:   plan.Key,
		SectionTitle: plan.Title,
		Progress:     domain.Progress(pct),
	})
}

func (o *Orchestrator) workerError(jobID string, plan domain.SectionPlan, text string) {
	o.publish(jobID, domain.Event{
		Kind:         domain.KindWorkerError,
		Text:         text,
		SectionKey:   plan.Key,
		SectionTitle: plan.Title,
	})
}
