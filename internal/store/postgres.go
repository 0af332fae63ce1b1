package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"briefline/internal/domain"
)

// Postgres is the shared-deployment backend over pgx.
type Postgres struct {
	Pool *pgxpool.Pool
}

// OpenPostgres connects a pool and bootstraps the schema.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	p := &Postgres{Pool: pool}
	if err := p.initSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return p, nil
}

func (p *Postgres) initSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id TEXT PRIMARY KEY,
			topic TEXT NOT NULL,
			depth INTEGER NOT NULL,
			status TEXT NOT NULL DEFAULT 'submitted',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sections (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			key TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			id TEXT PRIMARY KEY,
			job_id TEXT NOT NULL REFERENCES jobs(id),
			section_key TEXT NOT NULL,
			kind TEXT NOT NULL,
			title TEXT NOT NULL,
			content TEXT NOT NULL DEFAULT '',
			created_at TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_sections_job ON sections (job_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_job ON artifacts (job_id, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_artifacts_section ON artifacts (job_id, section_key)`,
	}
	for _, stmt := range stmts {
		if _, err := p.Pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

func (p *Postgres) CreateJob(ctx context.Context, j domain.Job) error {
	_, err := p.Pool.Exec(ctx, `INSERT INTO jobs(id,topic,depth,status,created_at) VALUES ($1,$2,$3,$4,$5)`,
		j.ID, j.Topic, j.Depth, j.Status, j.CreatedAt)
	return err
}

func (p *Postgres) GetJob(ctx context.Context, id string) (domain.Job, error) {
	var j domain.Job
	err := p.Pool.QueryRow(ctx, `SELECT id,topic,depth,status,created_at FROM jobs WHERE id=$1`, id).
		Scan(&j.ID, &j.Topic, &j.Depth, &j.Status, &j.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return j, ErrNotFound
	}
	return j, err
}

func (p *Postgres) UpdateJobStatus(ctx context.Context, id, status string) error {
	tag, err := p.Pool.Exec(ctx, `UPDATE jobs SET status=$1 WHERE id=$2`, status, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *Postgres) JobHistory(ctx context.Context) ([]domain.Job, error) {
	rows, err := p.Pool.Query(ctx, `SELECT id,topic,depth,status,created_at FROM jobs ORDER BY created_at DESC, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Job
	for rows.Next() {
		var j domain.Job
		if err := rows.Scan(&j.ID, &j.Topic, &j.Depth, &j.Status, &j.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, j)
	}
	return res, rows.Err()
}

func (p *Postgres) CreateSection(ctx context.Context, sec domain.Section) error {
	_, err := p.Pool.Exec(ctx, `INSERT INTO sections(id,job_id,key,title,content,created_at) VALUES ($1,$2,$3,$4,$5,$6)`,
		sec.ID, sec.JobID, sec.Key, sec.Title, sec.Content, sec.CreatedAt)
	return err
}

func (p *Postgres) SectionsByJob(ctx context.Context, jobID string) ([]domain.Section, error) {
	rows, err := p.Pool.Query(ctx, `SELECT id,job_id,key,title,content,created_at FROM sections WHERE job_id=$1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Section
	for rows.Next() {
		var sec domain.Section
		if err := rows.Scan(&sec.ID, &sec.JobID, &sec.Key, &sec.Title, &sec.Content, &sec.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, sec)
	}
	return res, rows.Err()
}

func (p *Postgres) DeleteSectionsByJob(ctx context.Context, jobID string) error {
	_, err := p.Pool.Exec(ctx, `DELETE FROM sections WHERE job_id=$1`, jobID)
	return err
}

func (p *Postgres) CreateArtifact(ctx context.Context, a domain.Artifact) error {
	_, err := p.Pool.Exec(ctx, `INSERT INTO artifacts(id,job_id,section_key,kind,title,content,created_at) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		a.ID, a.JobID, a.SectionKey, a.Kind, a.Title, a.Content, a.CreatedAt)
	return err
}

func (p *Postgres) ArtifactsByJob(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	rows, err := p.Pool.Query(ctx, `SELECT id,job_id,section_key,kind,title,content,created_at FROM artifacts WHERE job_id=$1 ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

func (p *Postgres) ArtifactsBySection(ctx context.Context, jobID, sectionKey string) ([]domain.Artifact, error) {
	rows, err := p.Pool.Query(ctx, `SELECT id,job_id,section_key,kind,title,content,created_at FROM artifacts WHERE job_id=$1 AND section_key=$2 ORDER BY created_at, id`, jobID, sectionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectArtifacts(rows)
}

func (p *Postgres) DeleteArtifactsByJob(ctx context.Context, jobID string) error {
	_, err := p.Pool.Exec(ctx, `DELETE FROM artifacts WHERE job_id=$1`, jobID)
	return err
}

func collectArtifacts(rows pgx.Rows) ([]domain.Artifact, error) {
	var res []domain.Artifact
	for rows.Next() {
		var a domain.Artifact
		if err := rows.Scan(&a.ID, &a.JobID, &a.SectionKey, &a.Kind, &a.Title, &a.Content, &a.CreatedAt); err != nil {
			return nil, err
		}
		res = append(res, a)
	}
	return res, rows.Err()
}

func (p *Postgres) Close() error {
	p.Pool.Close()
	return nil
}
