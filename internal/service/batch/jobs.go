package batch

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// JobStatus is the lifecycle state of a background job.
type JobStatus string

const (
	JobQueued     JobStatus = "queued"
	JobProcessing JobStatus = "processing"
	JobSucceeded  JobStatus = "succeeded"
	JobFailed     JobStatus = "failed"
)

// Active reports whether the job has not reached a terminal state.
func (s JobStatus) Active() bool {
	return s == JobQueued || s == JobProcessing
}

// Job tracks one background upload.
type Job struct {
	ID                string    `json:"job_id"`
	InteractionID     string    `json:"interaction_id"`
	TenantID          string    `json:"tenant_id"`
	UserID            string    `json:"user_id"`
	FileName          string    `json:"file_name"`
	Status            JobStatus `json:"status"`
	ErrorCode         string    `json:"error_code,omitempty"`
	ErrorMessage      string    `json:"error_message,omitempty"`
	RawTranscript     string    `json:"raw_transcript,omitempty"`
	CleanedTranscript string    `json:"cleaned_transcript,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// JobStore persists jobs.
type JobStore interface {
	Save(ctx context.Context, j Job) error
	// Get returns ErrJobNotFound for unknown IDs.
	Get(ctx context.Context, id string) (Job, error)
	// Stale lists active jobs last updated before cutoff.
	Stale(ctx context.Context, cutoff time.Time) ([]Job, error)
}

// Submit validates an upload, records a queued job and processes it in the
// background.
func (s *Service) Submit(ctx context.Context, up Upload) (Job, error) {
	if s.jobs == nil {
		return Job{}, ErrJobsDisabled
	}
	mt, err := s.Validate(up)
	if err != nil {
		return Job{}, err
	}

	now := s.now()
	job := Job{
		ID:            uuid.NewString(),
		InteractionID: uuid.NewString(),
		TenantID:      up.TenantID,
		UserID:        up.UserID,
		FileName:      up.FileName,
		Status:        JobQueued,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	// mu orders wg.Add against Close.
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return Job{}, ErrShuttingDown
	}
	if err := s.jobs.Save(ctx, job); err != nil {
		return Job{}, fmt.Errorf("save job: %w", err)
	}
	s.wg.Add(1)
	go s.work(job, up, mt)

	l := jobLogger(job)
	l.Info().Str("fileName", up.FileName).Int("audioBytes", len(up.Audio)).Msg("Batch job queued")
	return job, nil
}

// Job returns a job owned by tenantID. Jobs of other tenants are reported as
// not found.
func (s *Service) Job(ctx context.Context, tenantID, id string) (Job, error) {
	if s.jobs == nil {
		return Job{}, ErrJobsDisabled
	}
	j, err := s.jobs.Get(ctx, id)
	if err != nil {
		return Job{}, err
	}
	if j.TenantID != tenantID {
		return Job{}, ErrJobNotFound
	}
	return j, nil
}

func (s *Service) work(job Job, up Upload, mimeType string) {
	defer s.wg.Done()
	logger := jobLogger(job)
	start := time.Now()

	if err := s.sem.Acquire(s.ctx, 1); err != nil {
		s.finish(job, Result{}, errInterrupted, start)
		return
	}
	defer s.sem.Release(1)

	job.Status = JobProcessing
	job.UpdatedAt = s.now()
	s.save(job)
	logger.Info().Msg("Batch job processing")

	res, err := s.run(s.ctx, job.InteractionID, job.ID, up, mimeType)
	if err != nil && s.ctx.Err() != nil {
		err = fmt.Errorf("%w: %w", errInterrupted, err)
	}
	s.finish(job, res, err, start)
}

func (s *Service) finish(job Job, res Result, err error, start time.Time) {
	job.UpdatedAt = s.now()
	if err != nil {
		job.Status = JobFailed
		job.ErrorCode = errorCode(err)
		job.ErrorMessage = err.Error()
		l := jobLogger(job)
		l.Error().Err(err).Str("errorCode", job.ErrorCode).Msg("Batch job failed")
	} else {
		job.Status = JobSucceeded
		job.RawTranscript = res.RawTranscript
		job.CleanedTranscript = res.CleanedTranscript
		l := jobLogger(job)
		l.Info().Dur("elapsed", time.Since(start)).Msg("Batch job succeeded")
	}
	s.save(job)
	s.metrics.RecordBatch("job", resultLabel(err), time.Since(start).Seconds())
}

// save records a transition. It runs even after shutdown has canceled the
// job so the final state is not lost.
func (s *Service) save(job Job) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(s.ctx), s.cfg.StoreTimeout)
	defer cancel()
	if err := s.jobs.Save(ctx, job); err != nil {
		l := jobLogger(job)
		l.Error().Err(err).Str("status", string(job.Status)).Msg("Failed to save batch job")
	}
}

// Reap fails every job that has been queued or processing for longer than
// StuckAfter and returns how many it failed.
func (s *Service) Reap(ctx context.Context) (int, error) {
	if s.jobs == nil {
		return 0, nil
	}
	stale, err := s.jobs.Stale(ctx, s.now().Add(-s.cfg.StuckAfter))
	if err != nil {
		return 0, fmt.Errorf("list stale jobs: %w", err)
	}
	for _, j := range stale {
		j.Status = JobFailed
		j.ErrorCode = "STUCK"
		j.ErrorMessage = fmt.Sprintf("job did not finish within %s", s.cfg.StuckAfter)
		j.UpdatedAt = s.now()
		if err := s.jobs.Save(ctx, j); err != nil {
			return 0, fmt.Errorf("fail stuck job %s: %w", j.ID, err)
		}
		l := jobLogger(j)
		l.Warn().Msg("Reaped stuck batch job")
	}
	return len(stale), nil
}

// RunReaper calls Reap every interval until ctx is done.
func (s *Service) RunReaper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Reap(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Warn().Err(err).Msg("Batch job reaper failed")
			}
		}
	}
}

// Close stops accepting jobs and waits for running ones. Jobs still running
// after DrainTimeout are canceled and recorded as interrupted.
func (s *Service) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	timer := time.NewTimer(s.cfg.DrainTimeout)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		log.Warn().Dur("timeout", s.cfg.DrainTimeout).Msg("Batch jobs did not drain in time, canceling")
		s.cancel()
		<-done
	}
	s.cancel()
	return nil
}

// MemoryJobs is a JobStore for a single instance.
type MemoryJobs struct {
	mu   sync.Mutex
	jobs map[string]Job
}

// NewMemoryJobs creates an empty store.
func NewMemoryJobs() *MemoryJobs {
	return &MemoryJobs{jobs: make(map[string]Job)}
}

func (m *MemoryJobs) Save(_ context.Context, j Job) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[j.ID] = j
	return nil
}

func (m *MemoryJobs) Get(_ context.Context, id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrJobNotFound
	}
	return j, nil
}

func (m *MemoryJobs) Stale(_ context.Context, cutoff time.Time) ([]Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Job
	for _, j := range m.jobs {
		if j.Status.Active() && j.UpdatedAt.Before(cutoff) {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(a, b int) bool { return out[a].UpdatedAt.Before(out[b].UpdatedAt) })
	return out, nil
}
