// Package jobs implements the Job Manager spec.md §4.10 describes: CRUD
// over a Job's lifecycle, persisted whole on every update through the
// artifact store. Grounded on original_source's
// services/job_manager.py — same operations, same merge semantics for
// results/errors/step_timings — but constructed as an explicit value
// rather than a package-level singleton, per spec.md §9's Design Notes
// ("a faithful reimplementation should use explicit injection").
package jobs

import (
	"sort"
	"time"

	"csa-margin-engine/pkg/core/apierr"
	"csa-margin-engine/pkg/core/store"
	"csa-margin-engine/pkg/models"
)

// Manager wraps a Store for job CRUD. It carries no mutable state of its
// own — every read/write round-trips through the store, matching the
// Python source's file-per-job persistence.
type Manager struct {
	store *store.Store
}

// New returns a job Manager backed by s.
func New(s *store.Store) *Manager {
	return &Manager{store: s}
}

// CreateJob persists a new job in PENDING state for documentID.
func (m *Manager) CreateJob(jobID, documentID string, options map[string]interface{}) (models.Job, error) {
	now := time.Now().UTC()
	job := models.Job{
		JobID:       jobID,
		DocumentID:  documentID,
		Status:      models.JobPending,
		Progress:    0,
		CreatedAt:   now,
		UpdatedAt:   now,
		Options:     options,
		Results:     map[string]interface{}{},
		Errors:      nil,
		StepTimings: map[string]float64{},
	}
	if job.Options == nil {
		job.Options = map[string]interface{}{}
	}
	if err := m.store.Save(store.KindJobs, jobID, job); err != nil {
		return models.Job{}, apierr.ExternalService(err)
	}
	return job, nil
}

// Update is the merge-patch spec.md §4.10 describes: any nil/zero field is
// left untouched; Results and StepTimings are merged key-by-key, not
// replaced; Error, when set, is appended with a server-stamped timestamp.
type Update struct {
	Status      *models.JobStatus
	CurrentStep *models.JobStep
	Progress    *int
	Results     map[string]interface{}
	Error       *models.JobError
	StepTiming  map[string]float64
}

// UpdateJob applies upd to the persisted job and re-saves it.
func (m *Manager) UpdateJob(jobID string, upd Update) (models.Job, error) {
	job, found, err := m.GetJob(jobID)
	if err != nil {
		return models.Job{}, err
	}
	if !found {
		return models.Job{}, apierr.MissingArtifact("job", jobID, "create the job before updating it")
	}

	now := time.Now().UTC()

	if upd.Status != nil {
		job.Status = *upd.Status
		switch *upd.Status {
		case models.JobProcessing:
			if job.StartedAt == nil {
				job.StartedAt = &now
			}
		case models.JobCompleted, models.JobFailed:
			job.CompletedAt = &now
		}
	}

	if upd.CurrentStep != nil {
		job.CurrentStep = *upd.CurrentStep
	}

	if upd.Progress != nil {
		job.Progress = *upd.Progress
	}

	if upd.Results != nil {
		if job.Results == nil {
			job.Results = map[string]interface{}{}
		}
		for k, v := range upd.Results {
			job.Results[k] = v
		}
	}

	if upd.Error != nil {
		e := *upd.Error
		e.Timestamp = now
		job.Errors = append(job.Errors, e)
	}

	if upd.StepTiming != nil {
		if job.StepTimings == nil {
			job.StepTimings = map[string]float64{}
		}
		for k, v := range upd.StepTiming {
			job.StepTimings[k] = v
		}
	}

	job.UpdatedAt = now

	if err := m.store.Save(store.KindJobs, jobID, job); err != nil {
		return models.Job{}, apierr.ExternalService(err)
	}
	return job, nil
}

// GetJob loads a job by id. found is false if no such job was persisted.
func (m *Manager) GetJob(jobID string) (job models.Job, found bool, err error) {
	found, err = m.store.Load(store.KindJobs, jobID, &job)
	if err != nil {
		return models.Job{}, false, apierr.ExternalService(err)
	}
	return job, found, nil
}

// ListFilter narrows ListJobs' result set.
type ListFilter struct {
	DocumentID string
	Status     models.JobStatus
	Limit      int
}

// ListJobs returns jobs matching filter, newest created_at first.
func (m *Manager) ListJobs(filter ListFilter) ([]models.Job, error) {
	ids, err := m.store.List(store.KindJobs)
	if err != nil {
		return nil, apierr.ExternalService(err)
	}

	jobs := make([]models.Job, 0, len(ids))
	for _, id := range ids {
		var job models.Job
		found, err := m.store.Load(store.KindJobs, id, &job)
		if err != nil || !found {
			continue
		}
		if filter.DocumentID != "" && job.DocumentID != filter.DocumentID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		jobs = append(jobs, job)
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	if len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// DeleteJob removes a job; it reports whether one existed.
func (m *Manager) DeleteJob(jobID string) (bool, error) {
	existed := m.store.Exists(store.KindJobs, jobID)
	if err := m.store.Delete(store.KindJobs, jobID); err != nil {
		return existed, apierr.ExternalService(err)
	}
	return existed, nil
}

// CancelJob marks a job CANCELLED if it is still PENDING or PROCESSING;
// otherwise it returns the job unchanged (matching the Python source's
// no-op-on-terminal-state behavior).
func (m *Manager) CancelJob(jobID string) (models.Job, error) {
	job, found, err := m.GetJob(jobID)
	if err != nil {
		return models.Job{}, err
	}
	if !found {
		return models.Job{}, apierr.MissingArtifact("job", jobID, "")
	}
	if job.Status != models.JobPending && job.Status != models.JobProcessing {
		return job, nil
	}

	cancelled := models.JobCancelled
	step := string(job.CurrentStep)
	if step == "" {
		step = "unknown"
	}
	return m.UpdateJob(jobID, Update{
		Status: &cancelled,
		Error:  &models.JobError{Step: step, Message: "Job cancelled by user"},
	})
}

// CleanupOldJobs deletes every job whose CreatedAt is older than days ago,
// returning the number deleted.
func (m *Manager) CleanupOldJobs(days int) (int, error) {
	ids, err := m.store.List(store.KindJobs)
	if err != nil {
		return 0, apierr.ExternalService(err)
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	deleted := 0
	for _, id := range ids {
		var job models.Job
		found, err := m.store.Load(store.KindJobs, id, &job)
		if err != nil || !found {
			continue
		}
		if job.CreatedAt.Before(cutoff) {
			if err := m.store.Delete(store.KindJobs, id); err != nil {
				return deleted, apierr.ExternalService(err)
			}
			deleted++
		}
	}
	return deleted, nil
}
