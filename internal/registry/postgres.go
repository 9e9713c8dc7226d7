package registry

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/XSAM/otelsql"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/galinamarkova/beeswax-api/internal/models"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Postgres is the experiment registry: runs, the remote jobs they
// submitted and the feature descriptors they produced.
type Postgres struct {
	DB *sql.DB
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS pipeline_runs (
    id TEXT PRIMARY KEY,
    stage TEXT NOT NULL DEFAULT '',
    status TEXT NOT NULL,
    error TEXT NOT NULL DEFAULT '',
    data_uri TEXT NOT NULL DEFAULT '',
    started_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_jobs (
    name TEXT PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES pipeline_runs(id),
    kind TEXT NOT NULL,
    status TEXT NOT NULL,
    artifact_uri TEXT NOT NULL DEFAULT '',
    failure_reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS feature_descriptors (
    id SERIAL PRIMARY KEY,
    run_id TEXT NOT NULL REFERENCES pipeline_runs(id),
    features TEXT[] NOT NULL,
    endpoint TEXT NOT NULL DEFAULT '',
    model_job TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pipeline_jobs_run_id ON pipeline_jobs (run_id);
CREATE INDEX IF NOT EXISTS idx_feature_descriptors_created_at ON feature_descriptors (created_at DESC);
`

// InitPostgres connects to Postgres with connection pooling configuration
// and creates the registry tables.
func InitPostgres(ctx context.Context, dsn string, maxOpenConns, maxIdleConns int, connMaxLifetime, connMaxIdleTime time.Duration) (*Postgres, error) {
	driverName, err := otelsql.Register("postgres",
		otelsql.WithAttributes(
			attribute.String("db.system", "postgresql"),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("register otelsql: %w", err)
	}

	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres open: %w", err)
	}
	db.SetMaxOpenConns(maxOpenConns)
	db.SetMaxIdleConns(maxIdleConns)
	db.SetConnMaxLifetime(connMaxLifetime)
	db.SetConnMaxIdleTime(connMaxIdleTime)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("postgres ping: %w", err)
	}
	p := &Postgres{DB: db}
	if _, err := p.DB.ExecContext(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	zap.L().Info("Connected to experiment registry",
		zap.Int("max_open_conns", maxOpenConns),
		zap.Int("max_idle_conns", maxIdleConns))
	return p, nil
}

// Close terminates the Postgres connection.
func (p *Postgres) Close() {
	if p != nil && p.DB != nil {
		if err := p.DB.Close(); err != nil {
			zap.L().Error("postgres close", zap.Error(err))
		}
	}
}

// RecordRun inserts or updates a run.
func (p *Postgres) RecordRun(ctx context.Context, run models.Run) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO pipeline_runs (id, stage, status, error, data_uri, started_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO UPDATE SET stage=EXCLUDED.stage, status=EXCLUDED.status, error=EXCLUDED.error,
    data_uri=CASE WHEN EXCLUDED.data_uri = '' THEN pipeline_runs.data_uri ELSE EXCLUDED.data_uri END,
    updated_at=EXCLUDED.updated_at`,
		run.ID, run.Stage, string(run.Status), run.Error, run.DataURI, run.StartedAt, run.UpdatedAt)
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.ID, err)
	}
	return nil
}

// GetRun loads a run by id.
func (p *Postgres) GetRun(ctx context.Context, id string) (models.Run, error) {
	var run models.Run
	var status string
	err := p.DB.QueryRowContext(ctx, `SELECT id, stage, status, error, data_uri, started_at, updated_at FROM pipeline_runs WHERE id=$1`, id).
		Scan(&run.ID, &run.Stage, &status, &run.Error, &run.DataURI, &run.StartedAt, &run.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return run, fmt.Errorf("run %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return run, fmt.Errorf("get run %s: %w", id, err)
	}
	run.Status = models.RunStatus(status)
	return run, nil
}

// RecordJob registers a submitted job under runID.
func (p *Postgres) RecordJob(ctx context.Context, runID string, job models.Job) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO pipeline_jobs (name, run_id, kind, status, artifact_uri, failure_reason, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
ON CONFLICT (name) DO UPDATE SET status=EXCLUDED.status, artifact_uri=EXCLUDED.artifact_uri,
    failure_reason=EXCLUDED.failure_reason, updated_at=EXCLUDED.updated_at`,
		job.Name, runID, string(job.Kind), string(job.Status), job.ArtifactURI, job.FailureReason, job.CreatedAt, job.UpdatedAt)
	if err != nil {
		return fmt.Errorf("record job %s: %w", job.Name, err)
	}
	return nil
}

// UpdateJobStatus stores the latest observed state of a recorded job.
func (p *Postgres) UpdateJobStatus(ctx context.Context, job models.Job) error {
	res, err := p.DB.ExecContext(ctx, `UPDATE pipeline_jobs SET status=$1, artifact_uri=COALESCE(NULLIF($2,''), artifact_uri), failure_reason=$3, updated_at=$4 WHERE name=$5`,
		string(job.Status), job.ArtifactURI, job.FailureReason, job.UpdatedAt, job.Name)
	if err != nil {
		return fmt.Errorf("update job %s: %w", job.Name, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("job %s: %w", job.Name, ErrNotFound)
	}
	return nil
}

// GetJob loads a job by name.
func (p *Postgres) GetJob(ctx context.Context, name string) (models.Job, error) {
	row := p.DB.QueryRowContext(ctx, `SELECT name, kind, status, artifact_uri, failure_reason, created_at, updated_at FROM pipeline_jobs WHERE name=$1`, name)
	job, err := scanJob(row)
	if errors.Is(err, sql.ErrNoRows) {
		return job, fmt.Errorf("job %s: %w", name, ErrNotFound)
	}
	if err != nil {
		return job, fmt.Errorf("get job %s: %w", name, err)
	}
	return job, nil
}

// ListJobs returns the most recent jobs, optionally limited to one run.
func (p *Postgres) ListJobs(ctx context.Context, runID string, limit int) ([]models.Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := p.DB.QueryContext(ctx, `SELECT name, kind, status, artifact_uri, failure_reason, created_at, updated_at
FROM pipeline_jobs WHERE ($1 = '' OR run_id = $1) ORDER BY created_at DESC LIMIT $2`, runID, limit)
	if err != nil {
		return nil, fmt.Errorf("query jobs: %w", err)
	}
	defer func() {
		_ = rows.Close()
	}()

	var jobs []models.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// SaveDescriptor stores a feature descriptor.
func (p *Postgres) SaveDescriptor(ctx context.Context, d models.Descriptor) error {
	_, err := p.DB.ExecContext(ctx, `INSERT INTO feature_descriptors (run_id, features, endpoint, model_job, created_at) VALUES ($1,$2,$3,$4,$5)`,
		d.RunID, pq.Array(d.Features), d.Endpoint, d.ModelJob, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("save descriptor for run %s: %w", d.RunID, err)
	}
	return nil
}

// LatestDescriptor returns the most recently saved descriptor.
func (p *Postgres) LatestDescriptor(ctx context.Context) (*models.Descriptor, error) {
	var d models.Descriptor
	err := p.DB.QueryRowContext(ctx, `SELECT run_id, features, endpoint, model_job, created_at FROM feature_descriptors ORDER BY created_at DESC, id DESC LIMIT 1`).
		Scan(&d.RunID, pq.Array(&d.Features), &d.Endpoint, &d.ModelJob, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("descriptor: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("latest descriptor: %w", err)
	}
	return &d, nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s scanner) (models.Job, error) {
	var job models.Job
	var kind, status string
	if err := s.Scan(&job.Name, &kind, &status, &job.ArtifactURI, &job.FailureReason, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return job, err
	}
	job.Kind = models.JobKind(kind)
	job.Status = models.JobStatus(status)
	return job, nil
}
