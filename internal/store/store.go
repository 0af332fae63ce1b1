package store

import (
	"context"
	"errors"
	"strings"

	"briefline/internal/domain"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence contract for jobs and their sections. Two
// implementations exist, selected at construction time: SQLite for
// workspace-local use and Postgres for shared deployments.
type Store interface {
	CreateJob(ctx context.Context, job domain.Job) error
	GetJob(ctx context.Context, id string) (domain.Job, error)
	UpdateJobStatus(ctx context.Context, id, status string) error
	// JobHistory returns all jobs, newest first.
	JobHistory(ctx context.Context) ([]domain.Job, error)

	CreateSection(ctx context.Context, s domain.Section) error
	// SectionsByJob returns a job's sections in creation order.
	SectionsByJob(ctx context.Context, jobID string) ([]domain.Section, error)
	// DeleteSectionsByJob removes a job's sections. Only the resume path
	// uses this; sections are otherwise immutable once written.
	DeleteSectionsByJob(ctx context.Context, jobID string) error

	CreateArtifact(ctx context.Context, a domain.Artifact) error
	// ArtifactsByJob returns a job's artifacts in creation order.
	ArtifactsByJob(ctx context.Context, jobID string) ([]domain.Artifact, error)
	// ArtifactsBySection returns a section's artifacts in creation order.
	ArtifactsBySection(ctx context.Context, jobID, sectionKey string) ([]domain.Artifact, error)
	// DeleteArtifactsByJob removes a job's artifacts. Resume path only,
	// alongside DeleteSectionsByJob.
	DeleteArtifactsByJob(ctx context.Context, jobID string) error

	Close() error
}

// Open selects a backend from the DSN. Postgres DSNs get the pgx-backed
// store; anything else (including empty) opens SQLite in the workspace.
func Open(ctx context.Context, dsn, workspace string) (Store, error) {
	if IsPostgres(dsn) {
		return OpenPostgres(ctx, dsn)
	}
	return OpenSQLite(workspace)
}

// IsPostgres reports whether the DSN names a Postgres database.
func IsPostgres(dsn string) bool {
	return strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://")
}
