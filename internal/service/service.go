// Package service runs the standardization pipeline on top of the pure core.
//
// The core package never logs, persists or schedules. Service adds those
// concerns: it caches vocabulary lookups, bounds concurrent runs, records
// audit events for each stage and persists finished runs when a store is
// configured.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/JonMunkholm/amrglass/internal/audit"
	"github.com/JonMunkholm/amrglass/internal/config"
	"github.com/JonMunkholm/amrglass/internal/core"
	"github.com/JonMunkholm/amrglass/internal/logging"
	"github.com/JonMunkholm/amrglass/internal/store"
)

var (
	// ErrUnknownStandard is returned when no breakpoints exist for a
	// standard and version.
	ErrUnknownStandard = errors.New("unknown standard")

	// ErrPersistenceDisabled is returned by run lookups when no store is
	// configured.
	ErrPersistenceDisabled = errors.New("run not found: persistence is disabled")
)

// PatientColumnCandidates are the header spellings tried for the patient
// identifier when a request does not name one.
var PatientColumnCandidates = []string{"PatientID", "Patient ID", "patient_id", "PATIENT_ID", "Identification number"}

// RunStore is the persistence used by the pipeline. *store.Store satisfies it.
type RunStore interface {
	CreateRun(ctx context.Context, run store.Run) error
	FinishRun(ctx context.Context, id string, out store.RunOutcome) error
	SaveResult(ctx context.Context, runID string, records []core.GlassRecord, issues []core.ValidationIssue) error
	GetRun(ctx context.Context, id string) (*store.Run, error)
	PurgeRunsOlderThan(ctx context.Context, days int) (int64, error)
}

// Deps are the collaborators of a Service. Store and Recorder are optional.
type Deps struct {
	Registry   *core.Registry
	Vocabulary *core.Vocabulary
	Store      RunStore
	Recorder   *audit.Recorder
	Config     config.PipelineConfig
	Now        func() time.Time
}

// Service is safe for concurrent use.
type Service struct {
	registry  *core.Registry
	vocab     *core.Vocabulary
	resolver  *CachedResolver
	store     RunStore
	recorder  *audit.Recorder
	limiter   *RunLimiter
	validator *core.Validator
	cfg       config.PipelineConfig
	now       func() time.Time
}

// New builds a Service from its dependencies.
func New(deps Deps) (*Service, error) {
	if deps.Registry == nil {
		return nil, errors.New("service: registry is required")
	}
	if deps.Vocabulary == nil {
		return nil, errors.New("service: vocabulary is required")
	}
	resolver, err := NewCachedResolver(deps.Vocabulary, deps.Config.ResolverCacheSize)
	if err != nil {
		return nil, fmt.Errorf("service: resolver cache: %w", err)
	}
	now := deps.Now
	if now == nil {
		now = time.Now
	}
	cfg := deps.Config
	if cfg.Standard == "" {
		cfg.Standard = "CLSI"
	}
	if cfg.Version == "" {
		cfg.Version = "2024"
	}
	return &Service{
		registry:  deps.Registry,
		vocab:     deps.Vocabulary,
		resolver:  resolver,
		store:     deps.Store,
		recorder:  deps.Recorder,
		limiter:   NewRunLimiter(cfg.MaxConcurrent, cfg.MaxWaitTime),
		validator: core.NewValidator(core.WithClock(now)),
		cfg:       cfg,
		now:       now,
	}, nil
}

// Limiter exposes the run limiter for health reporting and shutdown.
func (s *Service) Limiter() *RunLimiter { return s.limiter }

// Resolver returns the cached vocabulary resolver.
func (s *Service) Resolver() core.Resolver { return s.resolver }

// Persistent reports whether runs are stored.
func (s *Service) Persistent() bool { return s.store != nil }

// Standards lists the standards with at least one breakpoint.
func (s *Service) Standards() []string { return s.registry.Standards() }

// Versions lists the versions of standard and their entry counts.
func (s *Service) Versions(standard string) map[string]int {
	return s.registry.Versions(standard)
}

// Engine returns an interpretation engine for standard and version, falling
// back to the configured defaults for blank values. A pair without any
// breakpoints is rejected so that typos do not silently yield
// "No Breakpoints" for every cell.
func (s *Service) Engine(standard, version string) (*core.Engine, error) {
	standard = strings.ToUpper(strings.TrimSpace(standard))
	version = strings.TrimSpace(version)
	if standard == "" {
		standard = strings.ToUpper(s.cfg.Standard)
	}
	if version == "" {
		version = s.cfg.Version
	}
	if s.registry.Versions(standard)[version] == 0 {
		return nil, fmt.Errorf("%w %s/%s", ErrUnknownStandard, standard, version)
	}
	return core.NewEngine(s.registry, standard, version), nil
}

// RecordTablesLoaded records which breakpoint and vocabulary tables the
// service was built with.
func (s *Service) RecordTablesLoaded(ctx context.Context) {
	s.recorder.Record(ctx, audit.EventTablesLoaded, "", map[string]any{
		"breakpoints":      s.registry.Len(),
		"standards":        s.registry.Standards(),
		"organisms":        len(s.vocab.Organisms()),
		"antibiotics":      len(s.vocab.Antibiotics()),
		"breakpoints_file": s.cfg.BreakpointsFile,
		"vocabulary_file":  s.cfg.VocabularyFile,
	})
}

// InterpretRequest selects the breakpoints used by Interpret.
type InterpretRequest struct {
	Standard       string
	Version        string
	OrganismColumn string
}

// Interpret adds an interpretation column for every measurement column of ds.
func (s *Service) Interpret(ctx context.Context, ds core.Dataset, req InterpretRequest) (core.Dataset, core.InterpretSummary, error) {
	engine, err := s.Engine(req.Standard, req.Version)
	if err != nil {
		return core.Dataset{}, core.InterpretSummary{}, err
	}
	orgCol := s.organismColumn(ds, req.OrganismColumn)
	out, summary := engine.InterpretDataset(ds, core.BatchOptions{
		OrganismColumn: orgCol,
		Resolver:       s.resolver,
	})

	std, ver := engine.Standard()
	logging.FromContext(ctx).Debug("interpreted dataset",
		slog.String("standard", std),
		slog.String("version", ver),
		slog.Int("columns", summary.Columns),
		slog.Int("interpreted", summary.Interpreted),
		slog.Int("no_breakpoints", summary.NoBreakpoints),
	)
	return out, summary, nil
}

// Export converts an interpreted wide dataset to GLASS long records. Field
// overrides take precedence over the default column names.
func (s *Service) Export(ds core.Dataset, overrides core.FieldMapping) []core.GlassRecord {
	mapping := core.DefaultFieldMapping().Prefer(overrides)
	return core.NewExporter(s.resolver, mapping).Export(ds)
}

// Validate checks a GLASS long dataset.
func (s *Service) Validate(ds core.Dataset) core.ValidationReport {
	return s.validator.Validate(ds)
}

// ValidateRecords checks exported GLASS records.
func (s *Service) ValidateRecords(records []core.GlassRecord) core.ValidationReport {
	return s.validator.ValidateRecords(records)
}

// DedupRequest configures Deduplicate. Blank column names are looked up
// among the usual header spellings; WindowDays <= 0 uses the configured
// default.
type DedupRequest struct {
	PatientColumn  string
	OrganismColumn string
	DateColumn     string
	WindowDays     int
	MarkOnly       bool
}

// Deduplicate removes or flags repeat isolates. When one of the episode
// columns cannot be found the dataset is returned unchanged.
func (s *Service) Deduplicate(ctx context.Context, ds core.Dataset, req DedupRequest) (core.Dataset, int) {
	opts := s.dedupOptions(ds, req)
	if !ds.HasColumn(opts.PatientColumn) || !ds.HasColumn(opts.OrganismColumn) || !ds.HasColumn(opts.DateColumn) {
		logging.FromContext(ctx).Warn("deduplication skipped: episode columns not found",
			slog.String("patient_column", opts.PatientColumn),
			slog.String("organism_column", opts.OrganismColumn),
			slog.String("date_column", opts.DateColumn),
		)
	}
	return core.Deduplicate(ds, opts)
}

func (s *Service) dedupOptions(ds core.Dataset, req DedupRequest) core.DedupOptions {
	mapping := core.DefaultFieldMapping()
	window := req.WindowDays
	if window <= 0 {
		window = s.cfg.DedupWindowDays
	}
	return core.DedupOptions{
		PatientColumn:  pickColumn(ds, req.PatientColumn, PatientColumnCandidates),
		OrganismColumn: pickColumn(ds, req.OrganismColumn, mapping.Organism),
		DateColumn:     pickColumn(ds, req.DateColumn, mapping.SpecimenDate),
		WindowDays:     window,
		MarkOnly:       req.MarkOnly,
	}
}

func (s *Service) organismColumn(ds core.Dataset, requested string) string {
	return pickColumn(ds, requested, core.DefaultFieldMapping().Organism)
}

// pickColumn returns the dataset's spelling of requested, or of the first
// matching candidate when requested is blank. Unknown names are returned
// as given.
func pickColumn(ds core.Dataset, requested string, candidates []string) string {
	if requested != "" {
		if col, ok := ds.FindColumn(requested); ok {
			return col
		}
		return requested
	}
	if col, ok := ds.FindColumn(candidates...); ok {
		return col
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}

// GetRun returns a persisted run.
func (s *Service) GetRun(ctx context.Context, id string) (*store.Run, error) {
	if s.store == nil {
		return nil, ErrPersistenceDisabled
	}
	return s.store.GetRun(ctx, id)
}
