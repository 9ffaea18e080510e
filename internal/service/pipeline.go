package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/JonMunkholm/amrglass/internal/audit"
	"github.com/JonMunkholm/amrglass/internal/core"
	"github.com/JonMunkholm/amrglass/internal/logging"
	"github.com/JonMunkholm/amrglass/internal/store"
)

// PipelineRequest is one end-to-end standardization of a wide dataset.
type PipelineRequest struct {
	Dataset core.Dataset

	// Source names the input for run history (file name, "api", "job").
	Source string

	Standard       string
	Version        string
	OrganismColumn string

	// Deduplicate runs the episode filter before interpretation.
	Deduplicate bool
	Dedup       DedupRequest

	// Mapping overrides the export column names.
	Mapping core.FieldMapping
}

// PipelineResult is the outcome of Run.
type PipelineResult struct {
	RunID          string                `json:"run_id"`
	Standard       string                `json:"standard"`
	Version        string                `json:"version"`
	InputRows      int                   `json:"input_rows"`
	Duplicates     int                   `json:"duplicates"`
	Interpretation core.InterpretSummary `json:"interpretation"`
	Records        []core.GlassRecord    `json:"records"`
	Report         core.ValidationReport `json:"report"`
	Persisted      bool                  `json:"persisted"`
	Duration       time.Duration         `json:"duration_ns"`
}

// Run cleans, deduplicates, interprets, exports and validates a dataset.
// Each stage records an audit event. When a store is configured the run and
// its records are persisted; a failed save fails the run.
func (s *Service) Run(ctx context.Context, req PipelineRequest) (*PipelineResult, error) {
	engine, err := s.Engine(req.Standard, req.Version)
	if err != nil {
		return nil, err
	}

	if err := s.limiter.Acquire(ctx); err != nil {
		return nil, err
	}
	defer s.limiter.Release()

	if s.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.Timeout)
		defer cancel()
	}

	start := s.now()
	std, ver := engine.Standard()
	result := &PipelineResult{
		RunID:     uuid.NewString(),
		Standard:  std,
		Version:   ver,
		InputRows: req.Dataset.Len(),
	}
	ctx = logging.WithRunID(ctx, result.RunID)
	logger := logging.FromContext(ctx)

	logger.Info("pipeline started",
		slog.String("source", req.Source),
		slog.String("standard", std),
		slog.String("version", ver),
		slog.Int("rows", result.InputRows),
	)
	s.recorder.Record(ctx, audit.EventRunStarted, result.RunID, map[string]any{
		"source":   req.Source,
		"standard": std,
		"version":  ver,
		"rows":     result.InputRows,
	})

	if s.store != nil {
		err := s.store.CreateRun(ctx, store.Run{
			ID:        result.RunID,
			Source:    req.Source,
			Standard:  std,
			Version:   ver,
			InputRows: result.InputRows,
			CreatedAt: start.UTC(),
		})
		if err != nil {
			return nil, s.fail(ctx, result, "create run", err)
		}
	}

	ds := core.CleanDataset(req.Dataset)

	if req.Deduplicate {
		ds, result.Duplicates = s.Deduplicate(ctx, ds, req.Dedup)
		s.recorder.Record(ctx, audit.EventDeduplicated, result.RunID, map[string]any{
			"duplicates": result.Duplicates,
			"remaining":  ds.Len(),
		})
	}
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, result, "deduplicate", err)
	}

	ds, result.Interpretation = engine.InterpretDataset(ds, core.BatchOptions{
		OrganismColumn: s.organismColumn(ds, req.OrganismColumn),
		Resolver:       s.resolver,
	})
	s.recorder.Record(ctx, audit.EventInterpreted, result.RunID, map[string]any{
		"columns":        result.Interpretation.Columns,
		"interpreted":    result.Interpretation.Interpreted,
		"not_tested":     result.Interpretation.NotTested,
		"no_breakpoints": result.Interpretation.NoBreakpoints,
	})
	if err := ctx.Err(); err != nil {
		return nil, s.fail(ctx, result, "interpret", err)
	}

	result.Records = s.Export(ds, req.Mapping)
	s.recorder.Record(ctx, audit.EventExported, result.RunID, map[string]any{
		"records": len(result.Records),
	})

	result.Report = s.ValidateRecords(result.Records)
	s.recorder.Record(ctx, audit.EventValidated, result.RunID, map[string]any{
		"passed":   result.Report.Passed,
		"errors":   result.Report.ErrorCount,
		"warnings": result.Report.WarningCount,
	})

	if s.store != nil {
		if err := s.store.SaveResult(ctx, result.RunID, result.Records, result.Report.Issues); err != nil {
			return nil, s.fail(ctx, result, "save result", err)
		}
		err := s.store.FinishRun(ctx, result.RunID, store.RunOutcome{
			Status:        store.RunCompleted,
			Duplicates:    result.Duplicates,
			OutputRecords: len(result.Records),
			Report:        result.Report,
		})
		if err != nil {
			return nil, s.fail(ctx, result, "finish run", err)
		}
		result.Persisted = true
	}

	result.Duration = s.now().Sub(start)
	s.recorder.Record(ctx, audit.EventRunCompleted, result.RunID, map[string]any{
		"records":     len(result.Records),
		"passed":      result.Report.Passed,
		"duration_ms": result.Duration.Milliseconds(),
	})
	logger.Info("pipeline completed",
		slog.Int("duplicates", result.Duplicates),
		slog.Int("records", len(result.Records)),
		slog.Bool("passed", result.Report.Passed),
		slog.Int("errors", result.Report.ErrorCount),
		slog.Int("warnings", result.Report.WarningCount),
		slog.Duration("duration", result.Duration),
	)
	return result, nil
}

// fail records a failed run and returns err wrapped with its stage.
func (s *Service) fail(ctx context.Context, result *PipelineResult, stage string, err error) error {
	wrapped := fmt.Errorf("%s: %w", stage, err)

	logging.FromContext(ctx).Error("pipeline failed",
		slog.String("stage", stage),
		slog.String("error", err.Error()),
	)
	s.recorder.Record(ctx, audit.EventRunFailed, result.RunID, map[string]any{
		"stage": stage,
		"error": err.Error(),
	})

	if s.store != nil && stage != "create run" {
		// The run context may already be done; the status update gets its own.
		finishCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		ferr := s.store.FinishRun(finishCtx, result.RunID, store.RunOutcome{
			Status:     store.RunFailed,
			Duplicates: result.Duplicates,
			Error:      core.FormatUserError(err),
		})
		if ferr != nil {
			logging.FromContext(ctx).Warn("failed to mark run as failed", slog.String("error", ferr.Error()))
		}
	}
	return wrapped
}
