package models

import "time"

// JobStatus is the job's lifecycle state (spec.md §4.10).
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
	JobCancelled  JobStatus = "cancelled"
)

// JobStep traverses PARSE -> EXTRACT -> NORMALIZE -> MAP -> [CALCULATE] -> DONE.
type JobStep string

const (
	StepParse     JobStep = "parse"
	StepExtract   JobStep = "extract"
	StepNormalize JobStep = "normalize"
	StepMap       JobStep = "map"
	StepCalculate JobStep = "calculate"
	StepDone      JobStep = "done"
)

// ProgressForStep is the fixed checkpoint spec.md §4.10 assigns each step.
// [CALCULATE] is optional and carries no checkpoint of its own: it advances
// straight from Map's 90 to Done's 100, same as the source pipeline.
var ProgressForStep = map[JobStep]int{
	StepParse:     20,
	StepExtract:   40,
	StepNormalize: 70,
	StepMap:       90,
	StepDone:      100,
}

// JobError is one timestamped failure record appended to a job's error list.
type JobError struct {
	Step      string    `json:"step"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Job is the only mutable entity in the system; it is persisted whole on
// every update (spec.md §5, §4.10).
type Job struct {
	JobID        string                 `json:"job_id"`
	DocumentID   string                 `json:"document_id"`
	Status       JobStatus              `json:"status"`
	CurrentStep  JobStep                `json:"current_step,omitempty"`
	Progress     int                    `json:"progress"`
	CreatedAt    time.Time              `json:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at"`
	StartedAt    *time.Time             `json:"started_at,omitempty"`
	CompletedAt  *time.Time             `json:"completed_at,omitempty"`
	Options      map[string]interface{} `json:"options"`
	Results      map[string]interface{} `json:"results"`
	Errors       []JobError             `json:"errors"`
	StepTimings  map[string]float64     `json:"step_timings"`
}
