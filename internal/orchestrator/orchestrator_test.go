package orchestrator_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"briefline/internal/bus"
	"briefline/internal/domain"
	"briefline/internal/generate"
	"briefline/internal/metrics"
	"briefline/internal/orchestrator"
	"briefline/internal/store"
)

type testEnv struct {
	Orch  *orchestrator.Orchestrator
	Store store.Store
	Bus   *bus.Registry
}

func newTestEnv(t *testing.T, gen generate.Generator) *testEnv {
	t.Helper()
	st, err := store.OpenSQLite(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })
	reg := bus.NewRegistry()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := orchestrator.New(st, gen, reg, metrics.NewUnregistered(), log)
	return &testEnv{Orch: orch, Store: st, Bus: reg}
}

type recordSink struct {
	mu     sync.Mutex
	events []domain.Event
}

func (s *recordSink) Send(ev domain.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *recordSink) all() []domain.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Event, len(s.events))
	copy(out, s.events)
	return out
}

func (s *recordSink) byKind(kind string) []domain.Event {
	var out []domain.Event
	for _, ev := range s.all() {
		if ev.Kind == kind {
			out = append(out, ev)
		}
	}
	return out
}

// scriptedGen fails generation for one section title and succeeds for
// the rest.
type scriptedGen struct {
	failTitle string
}

func (g scriptedGen) Outline(context.Context, string, int) (string, error) {
	return "outline", nil
}

func (g scriptedGen) SectionContent(_ context.Context, _, title, _ string, _ int) (string, error) {
	if title == g.failTitle {
		return "", errors.New("model unavailable")
	}
	return "generated content for " + title, nil
}

// gatedGen blocks section generation until release is closed, or until
// the worker's context is cancelled.
type gatedGen struct {
	started chan struct{}
	release chan struct{}
}

func (g *gatedGen) Outline(context.Context, string, int) (string, error) {
	return "outline", nil
}

func (g *gatedGen) SectionContent(ctx context.Context, _, title, _ string, _ int) (string, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	select {
	case <-g.release:
		return "gated content for " + title, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// stubbornGen blocks section generation until release is closed and
// deliberately ignores cancellation, standing in for a collaborator call
// that outlives the job it was started for.
type stubbornGen struct {
	started chan struct{}
	release chan struct{}
}

func (g *stubbornGen) Outline(context.Context, string, int) (string, error) {
	return "outline", nil
}

func (g *stubbornGen) SectionContent(_ context.Context, _, title, _ string, _ int) (string, error) {
	select {
	case g.started <- struct{}{}:
	default:
	}
	<-g.release
	return "late content for " + title, nil
}

func waitSettled(t *testing.T, env *testEnv, jobID string) {
	t.Helper()
	select {
	case <-env.Orch.Wait(jobID):
	case <-time.After(10 * time.Second):
		t.Fatalf("job %s did not settle", jobID)
	}
}

func TestSubmitRunsToCompletion(t *testing.T) {
	env := newTestEnv(t, generate.Static{})
	ctx := context.Background()

	job, err := env.Orch.Submit(ctx, "Ransomware trends", 3)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if job.Status != domain.StatusSubmitted {
		t.Fatalf("submit returned status %q, want submitted", job.Status)
	}
	waitSettled(t, env, job.ID)

	got, err := env.Store.GetJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want completed", got.Status)
	}
	sections, err := env.Store.SectionsByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("sections: %v", err)
	}
	if len(sections) != len(domain.DefaultPlan()) {
		t.Fatalf("section count = %d, want %d", len(sections), len(domain.DefaultPlan()))
	}
	seen := map[string]bool{}
	for _, s := range sections {
		if strings.TrimSpace(s.Content) == "" {
			t.Errorf("section %s has empty content", s.Key)
		}
		if seen[s.Key] {
			t.Errorf("duplicate section key %s", s.Key)
		}
		seen[s.Key] = true
	}

	artifacts, err := env.Store.ArtifactsByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	if len(artifacts) != len(domain.DefaultPlan()) {
		t.Fatalf("artifact count = %d, want one citations artifact per section", len(artifacts))
	}
	for _, a := range artifacts {
		if a.Kind != domain.ArtifactCitations || strings.TrimSpace(a.Content) == "" {
			t.Errorf("artifact %s: kind=%q content=%q", a.SectionKey, a.Kind, a.Content)
		}
	}
}

func TestSubmitValidation(t *testing.T) {
	env := newTestEnv(t, generate.Static{})
	ctx := context.Background()

	if _, err := env.Orch.Submit(ctx, "", 3); !errors.Is(err, orchestrator.ErrEmptyTopic) {
		t.Fatalf("empty topic: err = %v, want ErrEmptyTopic", err)
	}
	if _, err := env.Orch.Submit(ctx, "   \t ", 3); !errors.Is(err, orchestrator.ErrEmptyTopic) {
		t.Fatalf("blank topic: err = %v, want ErrEmptyTopic", err)
	}
	for _, depth := range []int{0, -1, 6} {
		if _, err := env.Orch.Submit(ctx, "topic", depth); !errors.Is(err, orchestrator.ErrDepthOutOfRange) {
			t.Fatalf("depth %d: err = %v, want ErrDepthOutOfRange", depth, err)
		}
	}
	jobs, err := env.Store.JobHistory(ctx)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("rejected submissions left %d job rows", len(jobs))
	}
}

func TestRunPublishesLifecycleEvents(t *testing.T) {
	env := newTestEnv(t, generate.Static{})
	ctx := context.Background()

	job := domain.Job{ID: "job-1", Topic: "Supply chain security", Depth: 2,
		Status: domain.StatusSubmitted, CreatedAt: "2026-09-01T10:00:00Z"}
	if err := env.Store.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	sink := &recordSink{}
	env.Bus.Subscribe(job.ID, sink)

	if err := env.Orch.Run(ctx, job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}

	events := sink.all()
	if events[0].Kind != domain.KindConnected {
		t.Fatalf("first event = %s, want connected", events[0].Kind)
	}
	if events[1].Kind != domain.KindStatusUpdate || events[2].Kind != domain.KindOutline {
		t.Fatalf("run did not open with status_update then outline: %s, %s", events[1].Kind, events[2].Kind)
	}

	plans := domain.DefaultPlan()
	for _, kind := range []string{domain.KindWorkerStart, domain.KindWorkerComplete, domain.KindContent} {
		if got := len(sink.byKind(kind)); got != len(plans) {
			t.Errorf("%s events = %d, want %d", kind, got, len(plans))
		}
	}
	done := sink.byKind(domain.KindJobComplete)
	if len(done) != 1 {
		t.Fatalf("job_complete events = %d, want exactly 1", len(done))
	}
	if !strings.Contains(done[0].FullReport, "# Research Report: Supply chain security") {
		t.Errorf("job_complete missing full report, got %q", done[0].FullReport)
	}
	if done[0].Progress == nil || *done[0].Progress != 100 {
		t.Errorf("job_complete progress = %v, want 100", done[0].Progress)
	}

	// Progress within each section never moves backward.
	last := map[string]int{}
	for _, ev := range events {
		if ev.SectionKey == "" || ev.Progress == nil {
			continue
		}
		if *ev.Progress < last[ev.SectionKey] {
			t.Fatalf("section %s progress moved backward: %d after %d",
				ev.SectionKey, *ev.Progress, last[ev.SectionKey])
		}
		last[ev.SectionKey] = *ev.Progress
	}
}

func TestRunOnNonSubmittedJobIsNoop(t *testing.T) {
	env := newTestEnv(t, generate.Static{})
	ctx := context.Background()

	job := domain.Job{ID: "job-1", Topic: "t", Depth: 1,
		Status: domain.StatusCompleted, CreatedAt: "2026-09-01T10:00:00Z"}
	if err := env.Store.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	sink := &recordSink{}
	env.Bus.Subscribe(job.ID, sink)

	if err := env.Orch.Run(ctx, job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	if events := sink.all(); len(events) != 1 {
		t.Fatalf("noop run published events: %+v", events[1:])
	}
	got, _ := env.Store.GetJob(ctx, job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status changed to %q", got.Status)
	}
}

func TestSectionGenerationFailureFallsBack(t *testing.T) {
	env := newTestEnv(t, scriptedGen{failTitle: "Detailed Analysis"})
	ctx := context.Background()

	job := domain.Job{ID: "job-1", Topic: "Zero trust adoption", Depth: 4,
		Status: domain.StatusSubmitted, CreatedAt: "2026-09-01T10:00:00Z"}
	if err := env.Store.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	sink := &recordSink{}
	env.Bus.Subscribe(job.ID, sink)

	if err := env.Orch.Run(ctx, job.ID); err != nil {
		t.Fatalf("run: %v", err)
	}
	got, _ := env.Store.GetJob(ctx, job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status = %q, want completed despite one failed section", got.Status)
	}

	workerErrors := sink.byKind(domain.KindWorkerError)
	if len(workerErrors) != 1 || workerErrors[0].SectionKey != "detailed_analysis" {
		t.Fatalf("worker_error events = %+v, want one for detailed_analysis", workerErrors)
	}
	// The failed worker still completes with fallback content.
	if got := len(sink.byKind(domain.KindWorkerComplete)); got != len(domain.DefaultPlan()) {
		t.Fatalf("worker_complete events = %d, want %d", got, len(domain.DefaultPlan()))
	}

	sections, err := env.Store.SectionsByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("sections: %v", err)
	}
	fallbacks := 0
	for _, s := range sections {
		if strings.Contains(s.Content, "Fallback content") {
			fallbacks++
			if s.Key != "detailed_analysis" {
				t.Errorf("unexpected fallback in section %s", s.Key)
			}
		}
	}
	if fallbacks != 1 {
		t.Fatalf("fallback sections = %d, want 1", fallbacks)
	}
}

func TestCancelMidRunThenResume(t *testing.T) {
	gen := &gatedGen{started: make(chan struct{}, 16), release: make(chan struct{})}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	job, err := env.Orch.Submit(ctx, "Post-quantum migration", 3)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-gen.started:
	case <-time.After(10 * time.Second):
		t.Fatal("no worker reached generation")
	}

	cancelled, err := env.Orch.Cancel(ctx, job.ID)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != domain.StatusCancelled {
		t.Fatalf("cancel returned status %q", cancelled.Status)
	}
	waitSettled(t, env, job.ID)

	got, _ := env.Store.GetJob(ctx, job.ID)
	if got.Status != domain.StatusCancelled {
		t.Fatalf("status = %q, want cancelled (run must not overwrite it)", got.Status)
	}
	// Every started worker still persisted exactly one section.
	before, err := env.Store.SectionsByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("sections: %v", err)
	}
	if len(before) != len(domain.DefaultPlan()) {
		t.Fatalf("sections after cancel = %d, want %d", len(before), len(domain.DefaultPlan()))
	}

	close(gen.release)
	resumed, err := env.Orch.Resume(ctx, job.ID)
	if err != nil {
		t.Fatalf("resume: %v", err)
	}
	if resumed.Status != domain.StatusSubmitted {
		t.Fatalf("resume returned status %q", resumed.Status)
	}
	waitSettled(t, env, job.ID)

	got, _ = env.Store.GetJob(ctx, job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status after resume = %q, want completed", got.Status)
	}
	after, err := env.Store.SectionsByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("sections: %v", err)
	}
	if len(after) != len(domain.DefaultPlan()) {
		t.Fatalf("sections after resume = %d, want %d (replaced, not appended)", len(after), len(domain.DefaultPlan()))
	}
	for _, s := range after {
		if !strings.Contains(s.Content, "gated content") {
			t.Errorf("section %s not regenerated: %q", s.Key, s.Content)
		}
	}
	artifacts, err := env.Store.ArtifactsByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	if len(artifacts) != len(domain.DefaultPlan()) {
		t.Fatalf("artifacts after resume = %d, want %d (replaced, not appended)", len(artifacts), len(domain.DefaultPlan()))
	}
}

func TestResumeJoinsCancelledRunBeforeRestart(t *testing.T) {
	gen := &stubbornGen{started: make(chan struct{}, 16), release: make(chan struct{})}
	env := newTestEnv(t, gen)
	ctx := context.Background()

	job, err := env.Orch.Submit(ctx, "Credential stuffing", 3)
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	select {
	case <-gen.started:
	case <-time.After(10 * time.Second):
		t.Fatal("no worker reached generation")
	}
	if _, err := env.Orch.Cancel(ctx, job.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}

	// The cancelled run's workers are still blocked in generation. Resume
	// must not clear state and relaunch underneath them.
	resumeErr := make(chan error, 1)
	go func() {
		_, err := env.Orch.Resume(ctx, job.ID)
		resumeErr <- err
	}()
	select {
	case err := <-resumeErr:
		t.Fatalf("resume returned before the prior run settled: %v", err)
	case <-time.After(200 * time.Millisecond):
	}

	close(gen.release)
	if err := <-resumeErr; err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitSettled(t, env, job.ID)

	got, _ := env.Store.GetJob(ctx, job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status after resume = %q, want completed", got.Status)
	}
	sections, err := env.Store.SectionsByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("sections: %v", err)
	}
	if len(sections) != len(domain.DefaultPlan()) {
		t.Fatalf("sections after resume = %d, want %d", len(sections), len(domain.DefaultPlan()))
	}
	perKey := map[string]int{}
	for _, s := range sections {
		perKey[s.Key]++
	}
	for key, n := range perKey {
		if n != 1 {
			t.Errorf("section %s has %d rows, want exactly 1", key, n)
		}
	}
	artifacts, err := env.Store.ArtifactsByJob(ctx, job.ID)
	if err != nil {
		t.Fatalf("artifacts: %v", err)
	}
	if len(artifacts) != len(domain.DefaultPlan()) {
		t.Fatalf("artifacts after resume = %d, want %d", len(artifacts), len(domain.DefaultPlan()))
	}
}

func TestResumeRejectsNonResumableStatus(t *testing.T) {
	env := newTestEnv(t, generate.Static{})
	ctx := context.Background()

	for _, status := range []string{domain.StatusSubmitted, domain.StatusRunning, domain.StatusCompleted} {
		job := domain.Job{ID: "job-" + status, Topic: "t", Depth: 1,
			Status: status, CreatedAt: "2026-09-01T10:00:00Z"}
		if err := env.Store.CreateJob(ctx, job); err != nil {
			t.Fatalf("create job: %v", err)
		}
		if _, err := env.Orch.Resume(ctx, job.ID); !errors.Is(err, orchestrator.ErrNotResumable) {
			t.Errorf("resume from %s: err = %v, want ErrNotResumable", status, err)
		}
	}

	if _, err := env.Orch.Resume(ctx, "missing"); !errors.Is(err, store.ErrNotFound) {
		t.Errorf("resume missing job: err = %v, want ErrNotFound", err)
	}
}

// flakyStore fails section listing on demand to force the finalize path
// into the job-level error branch.
type flakyStore struct {
	store.Store
	mu          sync.Mutex
	failListing bool
}

func (f *flakyStore) setFailListing(v bool) {
	f.mu.Lock()
	f.failListing = v
	f.mu.Unlock()
}

func (f *flakyStore) SectionsByJob(ctx context.Context, jobID string) ([]domain.Section, error) {
	f.mu.Lock()
	fail := f.failListing
	f.mu.Unlock()
	if fail {
		return nil, errors.New("disk on fire")
	}
	return f.Store.SectionsByJob(ctx, jobID)
}

func TestFinalizeFailureMarksErrorThenResumes(t *testing.T) {
	env := newTestEnv(t, generate.Static{})
	ctx := context.Background()

	flaky := &flakyStore{Store: env.Store, failListing: true}
	env.Orch.Store = flaky

	job := domain.Job{ID: "job-1", Topic: "t", Depth: 1,
		Status: domain.StatusSubmitted, CreatedAt: "2026-09-01T10:00:00Z"}
	if err := flaky.CreateJob(ctx, job); err != nil {
		t.Fatalf("create job: %v", err)
	}
	sink := &recordSink{}
	env.Bus.Subscribe(job.ID, sink)

	if err := env.Orch.Run(ctx, job.ID); err == nil {
		t.Fatal("run succeeded with failing section listing")
	}
	got, _ := flaky.GetJob(ctx, job.ID)
	if got.Status != domain.StatusError {
		t.Fatalf("status = %q, want error", got.Status)
	}
	if len(sink.byKind(domain.KindError)) != 1 {
		t.Fatal("no error event published")
	}

	flaky.setFailListing(false)
	if _, err := env.Orch.Resume(ctx, job.ID); err != nil {
		t.Fatalf("resume: %v", err)
	}
	waitSettled(t, env, job.ID)
	got, _ = flaky.GetJob(ctx, job.ID)
	if got.Status != domain.StatusCompleted {
		t.Fatalf("status after resume = %q, want completed", got.Status)
	}
}
