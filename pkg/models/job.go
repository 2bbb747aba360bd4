package models

import (
	"time"
)

// JobState is a conversion job's position in the pipeline
type JobState string

// JobState constants
const (
	JobStateDiscovered       JobState = "discovered"
	JobStateSkipped          JobState = "skipped"
	JobStateDownloading      JobState = "downloading"
	JobStateEncoding         JobState = "encoding"
	JobStateManifestBuilding JobState = "manifest_building"
	JobStateUploading        JobState = "uploading"
	JobStateCleaningUp       JobState = "cleaning_up"
	JobStateDone             JobState = "done"
	JobStateFailed           JobState = "failed"
)

// IsTerminal reports whether no further transition can follow
func (s JobState) IsTerminal() bool {
	return s == JobStateSkipped || s == JobStateDone || s == JobStateFailed
}

// ConversionJob pairs one source video with the ladder it is converted into
type ConversionJob struct {
	ID         string          `json:"id"`
	Source     SourceVideo     `json:"source"`
	Ladder     []RenditionSpec `json:"ladder"`
	Prefix     string          `json:"prefix"`
	State      JobState        `json:"state"`
	ErrorMsg   string          `json:"error_msg,omitempty"`
	MasterURL  string          `json:"master_url,omitempty"`
	StartedAt  time.Time       `json:"started_at"`
	UpdatedAt  time.Time       `json:"updated_at"`
	FinishedAt *time.Time      `json:"finished_at,omitempty"`
}

// Transition moves the job to the given state
func (j *ConversionJob) Transition(state JobState) {
	now := time.Now()
	j.State = state
	j.UpdatedAt = now
	if state.IsTerminal() {
		j.FinishedAt = &now
	}
}

// Fail moves the job to the failed state and records the error
func (j *ConversionJob) Fail(err error) {
	if err != nil {
		j.ErrorMsg = err.Error()
	}
	j.Transition(JobStateFailed)
}
