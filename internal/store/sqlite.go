package store

import (
	"context"
	"database/sql"

	"briefline/internal/db"
	"briefline/internal/domain"
	"briefline/internal/migrate"
)

// SQLite is the workspace-local backend over modernc.org/sqlite.
type SQLite struct {
	DB *sql.DB
}

// OpenSQLite opens the workspace database and applies migrations.
func OpenSQLite(workspace string) (*SQLite, error) {
	conn, err := db.Open(db.Config{Workspace: workspace})
	if err != nil {
		return nil, err
	}
	if err := migrate.Migrate(conn); err != nil {
		conn.Close()
		return nil, err
	}
	return &SQLite{DB: conn}, nil
}

func (s *SQLite) CreateJob(ctx context.Context, j domain.Job) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO jobs(id,topic,depth,status,created_at) VALUES (?,?,?,?,?)`,
		j.ID, j.Topic, j.Depth, j.Status, j.CreatedAt)
	return err
}

func (s *SQLite) GetJob(ctx context.Context, id string) (domain.Job, error) {
	return scanJob(s.DB.QueryRowContext(ctx, `SELECT id,topic,depth,status,created_at FROM jobs WHERE id=?`, id))
}

func (s *SQLite) UpdateJobStatus(ctx context.Context, id, status string) error {
	res, err := s.DB.ExecContext(ctx, `UPDATE jobs SET status=? WHERE id=?`, status, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SQLite) JobHistory(ctx context.Context) ([]domain.Job, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,topic,depth,status,created_at FROM jobs ORDER BY created_at DESC, id`)
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

func (s *SQLite) CreateSection(ctx context.Context, sec domain.Section) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO sections(id,job_id,key,title,content,created_at) VALUES (?,?,?,?,?,?)`,
		sec.ID, sec.JobID, sec.Key, sec.Title, sec.Content, sec.CreatedAt)
	return err
}

func (s *SQLite) SectionsByJob(ctx context.Context, jobID string) ([]domain.Section, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,job_id,key,title,content,created_at FROM sections WHERE job_id=? ORDER BY created_at, id`, jobID)
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

func (s *SQLite) DeleteSectionsByJob(ctx context.Context, jobID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM sections WHERE job_id=?`, jobID)
	return err
}

func (s *SQLite) CreateArtifact(ctx context.Context, a domain.Artifact) error {
	_, err := s.DB.ExecContext(ctx, `INSERT INTO artifacts(id,job_id,section_key,kind,title,content,created_at) VALUES (?,?,?,?,?,?,?)`,
		a.ID, a.JobID, a.SectionKey, a.Kind, a.Title, a.Content, a.CreatedAt)
	return err
}

func (s *SQLite) ArtifactsByJob(ctx context.Context, jobID string) ([]domain.Artifact, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,job_id,section_key,kind,title,content,created_at FROM artifacts WHERE job_id=? ORDER BY created_at, id`, jobID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

func (s *SQLite) ArtifactsBySection(ctx context.Context, jobID, sectionKey string) ([]domain.Artifact, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id,job_id,section_key,kind,title,content,created_at FROM artifacts WHERE job_id=? AND section_key=? ORDER BY created_at, id`, jobID, sectionKey)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanArtifacts(rows)
}

func (s *SQLite) DeleteArtifactsByJob(ctx context.Context, jobID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM artifacts WHERE job_id=?`, jobID)
	return err
}

func (s *SQLite) Close() error { return s.DB.Close() }

func scanArtifacts(rows *sql.Rows) ([]domain.Artifact, error) {
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

func scanJob(row *sql.Row) (domain.Job, error) {
	var j domain.Job
	err := row.Scan(&j.ID, &j.Topic, &j.Depth, &j.Status, &j.CreatedAt)
	if err == sql.ErrNoRows {
		return j, ErrNotFound
	}
	return j, err
}
