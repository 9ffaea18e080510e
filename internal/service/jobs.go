package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/JonMunkholm/amrglass/internal/core"
)

// Job kinds handled by the service.
const (
	JobPipeline  = "pipeline"
	JobInterpret = "interpret"
)

// JobDataset is a dataset in positional form for job payloads.
type JobDataset struct {
	Columns []string   `json:"columns"`
	Rows    [][]string `json:"rows"`
}

// NewJobDataset flattens ds for a job payload.
func NewJobDataset(ds core.Dataset) JobDataset {
	return JobDataset{Columns: ds.Columns, Rows: ds.Records()}
}

// Dataset rebuilds the core dataset.
func (j JobDataset) Dataset() core.Dataset {
	return core.NewDataset(j.Columns, j.Rows)
}

// PipelineJob is the payload of a JobPipeline or JobInterpret job.
type PipelineJob struct {
	Data           JobDataset        `json:"data"`
	Source         string            `json:"source,omitempty"`
	Standard       string            `json:"standard,omitempty"`
	Version        string            `json:"version,omitempty"`
	OrganismColumn string            `json:"organism_column,omitempty"`
	Deduplicate    bool              `json:"deduplicate,omitempty"`
	PatientColumn  string            `json:"patient_column,omitempty"`
	DateColumn     string            `json:"date_column,omitempty"`
	WindowDays     int               `json:"window_days,omitempty"`
	MarkOnly       bool              `json:"mark_only,omitempty"`
	Mapping        core.FieldMapping `json:"mapping,omitempty"`
}

// InterpretJobResult is the stored result of a JobInterpret job.
type InterpretJobResult struct {
	Summary core.InterpretSummary `json:"summary"`
	Data    JobDataset            `json:"data"`
}

func decodeJob(payload json.RawMessage) (PipelineJob, error) {
	var job PipelineJob
	if err := json.Unmarshal(payload, &job); err != nil {
		return job, fmt.Errorf("invalid json: job payload: %w", err)
	}
	if len(job.Data.Columns) == 0 {
		return job, fmt.Errorf("invalid request: job has no columns")
	}
	return job, nil
}

// HandlePipelineJob runs a full pipeline for a queued job.
func (s *Service) HandlePipelineJob(ctx context.Context, payload json.RawMessage) (any, error) {
	job, err := decodeJob(payload)
	if err != nil {
		return nil, err
	}
	source := job.Source
	if source == "" {
		source = "job"
	}
	return s.Run(ctx, PipelineRequest{
		Dataset:        job.Data.Dataset(),
		Source:         source,
		Standard:       job.Standard,
		Version:        job.Version,
		OrganismColumn: job.OrganismColumn,
		Deduplicate:    job.Deduplicate,
		Dedup: DedupRequest{
			PatientColumn:  job.PatientColumn,
			OrganismColumn: job.OrganismColumn,
			DateColumn:     job.DateColumn,
			WindowDays:     job.WindowDays,
			MarkOnly:       job.MarkOnly,
		},
		Mapping: job.Mapping,
	})
}

// HandleInterpretJob interprets measurement columns for a queued job.
func (s *Service) HandleInterpretJob(ctx context.Context, payload json.RawMessage) (any, error) {
	job, err := decodeJob(payload)
	if err != nil {
		return nil, err
	}
	out, summary, err := s.Interpret(ctx, core.CleanDataset(job.Data.Dataset()), InterpretRequest{
		Standard:       job.Standard,
		Version:        job.Version,
		OrganismColumn: job.OrganismColumn,
	})
	if err != nil {
		return nil, err
	}
	return InterpretJobResult{Summary: summary, Data: NewJobDataset(out)}, nil
}
