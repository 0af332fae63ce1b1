// Package orchestrator owns the job state machine: it accepts
// submissions, fans section workers out over a job, joins on their
// completion, and drives the job to a terminal status while publishing
// progress on the job's event channel.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"briefline/internal/bus"
	"briefline/internal/domain"
	"briefline/internal/generate"
	"briefline/internal/metrics"
	"briefline/internal/store"
)

var (
	ErrEmptyTopic      = errors.New("topic is required")
	ErrDepthOutOfRange = fmt.Errorf("depth must be between %d and %d", domain.MinDepth, domain.MaxDepth)
	ErrNotResumable    = errors.New("job cannot be resumed from its current status")
)

type Orchestrator struct {
	Store     store.Store
	Generator generate.Generator
	Bus       *bus.Registry
	Metrics   *metrics.Metrics
	Log       *slog.Logger
	Now       func() time.Time
	Plan      []domain.SectionPlan

	mu     sync.Mutex
	active map[string]*activeJob
}

type activeJob struct {
	cancel context.CancelFunc
	done   chan struct{}
}

func New(st store.Store, gen generate.Generator, reg *bus.Registry, m *metrics.Metrics, log *slog.Logger) *Orchestrator {
	if log == nil {
		log = slog.Default()
	}
	if m == nil {
		m = metrics.NewUnregistered()
	}
	return &Orchestrator{
		Store:     st,
		Generator: gen,
		Bus:       reg,
		Metrics:   m,
		Log:       log,
		Now:       time.Now,
		Plan:      domain.DefaultPlan(),
		active:    make(map[string]*activeJob),
	}
}

func (o *Orchestrator) now() time.Time {
	if o.Now != nil {
		return o.Now()
	}
	return time.Now()
}

// Submit validates the request, persists the job in submitted status, and
// hands it off to a detached run. It returns as soon as the record exists.
func (o *Orchestrator) Submit(ctx context.Context, topic string, depth int) (domain.Job, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return domain.Job{}, ErrEmptyTopic
	}
	if depth < domain.MinDepth || depth > domain.MaxDepth {
		return domain.Job{}, ErrDepthOutOfRange
	}
	job := domain.Job{
		ID:        uuid.New().String(),
		Topic:     topic,
		Depth:     depth,
		Status:    domain.StatusSubmitted,
		CreatedAt: o.now().UTC().Format(time.RFC3339),
	}
	if err := o.Store.CreateJob(ctx, job); err != nil {
		return domain.Job{}, fmt.Errorf("create job: %w", err)
	}
	o.Metrics.JobsSubmitted.Inc()
	o.launch(job)
	return job, nil
}

// launch registers the job as active and starts its run detached from the
// submitting request.
func (o *Orchestrator) launch(job domain.Job) {
	runCtx, cancel := context.WithCancel(context.Background())
	a := &activeJob{cancel: cancel, done: make(chan struct{})}
	o.mu.Lock()
	o.active[job.ID] = a
	o.mu.Unlock()

	go func() {
		defer close(a.done)
		defer cancel()
		defer func() {
			// Only remove our own entry: a resumed run may have replaced
			// it while this one was settling.
			o.mu.Lock()
			if o.active[job.ID] == a {
				delete(o.active, job.ID)
			}
			o.mu.Unlock()
		}()
		if err := o.Run(runCtx, job.ID); err != nil {
			o.Log.Error("job run failed", "job_id", job.ID, "error", err)
		}
	}()
}

// Wait returns a channel closed when the job's current run settles. For a
// job with no active run the returned channel is already closed.
func (o *Orchestrator) Wait(jobID string) <-chan struct{} {
	o.mu.Lock()
	defer o.mu.Unlock()
	if a, ok := o.active[jobID]; ok {
		return a.done
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Run drives one job from submitted to a terminal status. Calling it on a
// job in any other status is a no-op. Section workers run concurrently;
// Run blocks at the join until every worker has settled.
func (o *Orchestrator) Run(ctx context.Context, jobID string) error {
	job, err := o.Store.GetJob(ctx, jobID)
	if err != nil {
		return fmt.Errorf("load job: %w", err)
	}
	if job.Status != domain.StatusSubmitted {
		o.Log.Info("run skipped: job not in submitted status", "job_id", jobID, "status", job.Status)
		return nil
	}
	if err := o.Store.UpdateJobStatus(ctx, jobID, domain.StatusRunning); err != nil {
		return o.fail(jobID, fmt.Errorf("mark running: %w", err))
	}
	o.publish(jobID, domain.Event{
		Kind:     domain.KindStatusUpdate,
		Text:     "Job started processing",
		Progress: domain.Progress(0),
	})
	o.publish(jobID, domain.Event{Kind: domain.KindOutline, Text: o.outline(ctx, job)})

	var wg sync.WaitGroup
	for _, plan := range o.Plan {
		wg.Add(1)
		go func(plan domain.SectionPlan) {
			defer wg.Done()
			o.runSection(ctx, job, plan)
		}(plan)
	}
	wg.Wait()

	// The finalize path must survive a cancelled run context: cancel is a
	// status change, not an abort of bookkeeping.
	base := context.WithoutCancel(ctx)
	job, err = o.Store.GetJob(base, jobID)
	if err != nil {
		return o.fail(jobID, fmt.Errorf("reload job: %w", err))
	}
	if job.Status != domain.StatusRunning {
		// Cancelled (or otherwise moved) while workers ran; leave it be.
		o.Log.Info("run settled without completion", "job_id", jobID, "status", job.Status)
		return nil
	}
	report, err := o.synthesizeReport(base, job)
	if err != nil {
		return o.fail(jobID, fmt.Errorf("synthesize report: %w", err))
	}
	if err := o.Store.UpdateJobStatus(base, jobID, domain.StatusCompleted); err != nil {
		return o.fail(jobID, fmt.Errorf("mark completed: %w", err))
	}
	o.Metrics.JobsCompleted.Inc()
	o.publish(jobID, domain.Event{
		Kind:       domain.KindJobComplete,
		Text:       "Research completed successfully",
		Progress:   domain.Progress(100),
		FullReport: report,
	})
	o.Log.Info("job completed", "job_id", jobID, "topic", job.Topic)
	return nil
}

// Cancel moves a job to cancelled from any state and cancels its run
// context. In-flight workers are not aborted: a worker that already
// started still persists exactly one section (its generation call fails
// fast on the cancelled context and takes the fallback path).
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) (domain.Job, error) {
	job, err := o.Store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if err := o.Store.UpdateJobStatus(ctx, jobID, domain.StatusCancelled); err != nil {
		return domain.Job{}, fmt.Errorf("mark cancelled: %w", err)
	}
	o.mu.Lock()
	if a, ok := o.active[jobID]; ok {
		a.cancel()
	}
	o.mu.Unlock()
	o.Metrics.JobsCancelled.Inc()
	o.publish(jobID, domain.Event{Kind: domain.KindCancelled, Text: "Job has been cancelled"})
	o.Log.Info("job cancelled", "job_id", jobID)
	job.Status = domain.StatusCancelled
	return job, nil
}

// Resume restarts a cancelled, errored, or paused job from scratch. Prior
// sections are replaced, not appended: the previous run's rows are
// deleted so a finished resume leaves exactly one section per descriptor.
// Resume joins any run still in flight before clearing state, so a
// cancelled run's stragglers cannot write over the fresh rows.
func (o *Orchestrator) Resume(ctx context.Context, jobID string) (domain.Job, error) {
	job, err := o.Store.GetJob(ctx, jobID)
	if err != nil {
		return domain.Job{}, err
	}
	if !domain.Resumable(job.Status) {
		return domain.Job{}, fmt.Errorf("%w: %s", ErrNotResumable, job.Status)
	}
	select {
	case <-o.Wait(jobID):
	case <-ctx.Done():
		return domain.Job{}, fmt.Errorf("await prior run: %w", ctx.Err())
	}
	if err := o.Store.DeleteSectionsByJob(ctx, jobID); err != nil {
		return domain.Job{}, fmt.Errorf("clear previous sections: %w", err)
	}
	if err := o.Store.DeleteArtifactsByJob(ctx, jobID); err != nil {
		return domain.Job{}, fmt.Errorf("clear previous artifacts: %w", err)
	}
	if err := o.Store.UpdateJobStatus(ctx, jobID, domain.StatusSubmitted); err != nil {
		return domain.Job{}, fmt.Errorf("mark submitted: %w", err)
	}
	job.Status = domain.StatusSubmitted
	o.Metrics.JobsResumed.Inc()
	o.publish(jobID, domain.Event{Kind: domain.KindResumed, Text: "Job has been resumed"})
	o.Log.Info("job resumed", "job_id", jobID)
	o.launch(job)
	return job, nil
}

// fail is the orchestrator-level failure path: best-effort error status
// plus an error event. Not used for per-section failures, which degrade
// to fallback content inside the worker.
func (o *Orchestrator) fail(jobID string, cause error) error {
	ctx := context.Background()
	if err := o.Store.UpdateJobStatus(ctx, jobID, domain.StatusError); err != nil {
		o.Log.Error("mark error status", "job_id", jobID, "error", err)
	}
	o.Metrics.JobsErrored.Inc()
	o.publish(jobID, domain.Event{
		Kind: domain.KindError,
		Text: fmt.Sprintf("Job processing failed: %v", cause),
	})
	return cause
}

func (o *Orchestrator) outline(ctx context.Context, job domain.Job) string {
	if o.Generator != nil {
		if text, err := o.Generator.Outline(ctx, job.Topic, job.Depth); err == nil {
			return text
		} else {
			o.Log.Warn("outline generation failed, using fallback", "job_id", job.ID, "error", err)
		}
	}
	var titles []string
	for _, p := range o.Plan {
		titles = append(titles, p.Title)
	}
	return generate.FallbackOutline(job.Topic, job.Depth, titles)
}

func (o *Orchestrator) synthesizeReport(ctx context.Context, job domain.Job) (string, error) {
	sections, err := o.Store.SectionsByJob(ctx, job.ID)
	if err != nil {
		return "", err
	}
	var b strings.Builder
	fmt.Fprintf(&b, "# Research Report: %s\n\n", job.Topic)
	fmt.Fprintf(&b, "_Depth %d/5 · %d sections_\n", job.Depth, len(sections))
	for _, s := range sections {
		fmt.Fprintf(&b, "\n## %s\n\n%s\n", s.Title, strings.TrimSpace(s.Content))
	}
	return b.String(), nil
}

func (o *Orchestrator) publish(jobID string, ev domain.Event) {
	o.Bus.Publish(jobID, ev)
	o.Metrics.EventsPublished.Inc()
}
