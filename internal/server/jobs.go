package server

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"briefline/internal/domain"
	"briefline/internal/orchestrator"
)

type submitInput struct {
	Body struct {
		Topic string `json:"topic" minLength:"1" doc:"Research topic"`
		Depth int    `json:"depth" minimum:"1" maximum:"5" doc:"Research depth, 1=basic 5=expert"`
	}
}

type jobOutput struct {
	Body domain.Job
}

type jobIDInput struct {
	JobID string `path:"jobID" doc:"Job identifier"`
}

type jobListOutput struct {
	Body []domain.Job
}

type sectionListOutput struct {
	Body []domain.Section
}

type artifactListOutput struct {
	Body []domain.Artifact
}

type loadOutput struct {
	Body struct {
		Job       domain.Job        `json:"job"`
		Sections  []domain.Section  `json:"sections"`
		Artifacts []domain.Artifact `json:"artifacts"`
	}
}

func (s *server) registerJobs(group *huma.Group) {
	orch := s.cfg.Orchestrator

	huma.Register(group, huma.Operation{
		OperationID: "submit-job",
		Method:      http.MethodPost,
		Path:        "/submit",
		Summary:     "Submit a research job",
		Description: "Creates the job record and starts processing in the background. The response returns as soon as the record exists.",
	}, func(ctx context.Context, input *submitInput) (*jobOutput, error) {
		job, err := orch.Submit(ctx, input.Body.Topic, input.Body.Depth)
		if err != nil {
			if errors.Is(err, orchestrator.ErrEmptyTopic) || errors.Is(err, orchestrator.ErrDepthOutOfRange) {
				return nil, huma.Error400BadRequest(err.Error())
			}
			return nil, err
		}
		return &jobOutput{Body: job}, nil
	})

	huma.Register(group, huma.Operation{
		OperationID: "job-history",
		Method:      http.MethodGet,
		Path:        "/history",
		Summary:     "List all jobs, newest first",
	}, func(ctx context.Context, _ *struct{}) (*jobListOutput, error) {
		jobs, err := s.cfg.Store.JobHistory(ctx)
		if err != nil {
			return nil, err
		}
		if jobs == nil {
			jobs = []domain.Job{}
		}
		return &jobListOutput{Body: jobs}, nil
	})

	huma.Register(group, huma.Operation{
		OperationID: "job-status",
		Method:      http.MethodGet,
		Path:        "/jobs/{jobID}/status",
		Summary:     "Get a job's current status",
	}, func(ctx context.Context, input *jobIDInput) (*jobOutput, error) {
		job, err := s.cfg.Store.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, mapStoreErr(err, "job")
		}
		return &jobOutput{Body: job}, nil
	})

	huma.Register(group, huma.Operation{
		OperationID: "job-sections",
		Method:      http.MethodGet,
		Path:        "/jobs/{jobID}/sections",
		Summary:     "List a job's sections in creation order",
	}, func(ctx context.Context, input *jobIDInput) (*sectionListOutput, error) {
		if _, err := s.cfg.Store.GetJob(ctx, input.JobID); err != nil {
			return nil, mapStoreErr(err, "job")
		}
		sections, err := s.cfg.Store.SectionsByJob(ctx, input.JobID)
		if err != nil {
			return nil, err
		}
		if sections == nil {
			sections = []domain.Section{}
		}
		return &sectionListOutput{Body: sections}, nil
	})

	huma.Register(group, huma.Operation{
		OperationID: "job-load",
		Method:      http.MethodGet,
		Path:        "/jobs/{jobID}/load",
		Summary:     "Load a job with its sections",
		Description: "The recovery path for observers that missed stream events: full durable state in one response.",
	}, func(ctx context.Context, input *jobIDInput) (*loadOutput, error) {
		job, err := s.cfg.Store.GetJob(ctx, input.JobID)
		if err != nil {
			return nil, mapStoreErr(err, "job")
		}
		sections, err := s.cfg.Store.SectionsByJob(ctx, input.JobID)
		if err != nil {
			return nil, err
		}
		if sections == nil {
			sections = []domain.Section{}
		}
		artifacts, err := s.cfg.Store.ArtifactsByJob(ctx, input.JobID)
		if err != nil {
			return nil, err
		}
		if artifacts == nil {
			artifacts = []domain.Artifact{}
		}
		out := &loadOutput{}
		out.Body.Job = job
		out.Body.Sections = sections
		out.Body.Artifacts = artifacts
		return out, nil
	})

	huma.Register(group, huma.Operation{
		OperationID: "job-artifacts",
		Method:      http.MethodGet,
		Path:        "/jobs/{jobID}/artifacts",
		Summary:     "List a job's artifacts in creation order",
		Description: "Artifacts are supplementary section records, currently citation lists.",
	}, func(ctx context.Context, input *jobIDInput) (*artifactListOutput, error) {
		if _, err := s.cfg.Store.GetJob(ctx, input.JobID); err != nil {
			return nil, mapStoreErr(err, "job")
		}
		artifacts, err := s.cfg.Store.ArtifactsByJob(ctx, input.JobID)
		if err != nil {
			return nil, err
		}
		if artifacts == nil {
			artifacts = []domain.Artifact{}
		}
		return &artifactListOutput{Body: artifacts}, nil
	})

	huma.Register(group, huma.Operation{
		OperationID: "cancel-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{jobID}/cancel",
		Summary:     "Cancel a job",
	}, func(ctx context.Context, input *jobIDInput) (*jobOutput, error) {
		job, err := orch.Cancel(ctx, input.JobID)
		if err != nil {
			return nil, mapStoreErr(err, "job")
		}
		return &jobOutput{Body: job}, nil
	})

	huma.Register(group, huma.Operation{
		OperationID: "resume-job",
		Method:      http.MethodPost,
		Path:        "/jobs/{jobID}/resume",
		Summary:     "Resume a cancelled or failed job",
		Description: "Restarts every section from scratch. Sections from the previous run are replaced.",
	}, func(ctx context.Context, input *jobIDInput) (*jobOutput, error) {
		job, err := orch.Resume(ctx, input.JobID)
		if err != nil {
			if errors.Is(err, orchestrator.ErrNotResumable) {
				return nil, huma.Error409Conflict(err.Error())
			}
			return nil, mapStoreErr(err, "job")
		}
		return &jobOutput{Body: job}, nil
	})
}
