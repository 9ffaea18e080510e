package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/JonMunkholm/amrglass/internal/audit"
	"github.com/JonMunkholm/amrglass/internal/config"
	"github.com/JonMunkholm/amrglass/internal/core"
	"github.com/JonMunkholm/amrglass/internal/store"
	"github.com/JonMunkholm/amrglass/internal/tables"
)

var testNow = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

type memoryStore struct {
	mu       sync.Mutex
	runs     map[string]*store.Run
	records  map[string][]core.GlassRecord
	saveErr  error
	purged   int
	purgeArg int
}

func newMemoryStore() *memoryStore {
	return &memoryStore{runs: map[string]*store.Run{}, records: map[string][]core.GlassRecord{}}
}

func (m *memoryStore) CreateRun(_ context.Context, run store.Run) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run.Status = store.RunRunning
	m.runs[run.ID] = &run
	return nil
}

func (m *memoryStore) FinishRun(_ context.Context, id string, out store.RunOutcome) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return store.ErrRunNotFound
	}
	run.Status = out.Status
	run.Duplicates = out.Duplicates
	run.OutputRecords = out.OutputRecords
	run.Passed = out.Report.Passed
	run.Error = out.Error
	return nil
}

func (m *memoryStore) SaveResult(_ context.Context, runID string, records []core.GlassRecord, _ []core.ValidationIssue) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.saveErr != nil {
		return m.saveErr
	}
	m.records[runID] = records
	return nil
}

func (m *memoryStore) GetRun(_ context.Context, id string) (*store.Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[id]
	if !ok {
		return nil, store.ErrRunNotFound
	}
	cp := *run
	return &cp, nil
}

func (m *memoryStore) PurgeRunsOlderThan(_ context.Context, days int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.purgeArg = days
	m.purged++
	return 3, nil
}

type eventLog struct {
	mu     sync.Mutex
	events []audit.Event
}

func (l *eventLog) Publish(_ context.Context, e audit.Event) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, e)
	return nil
}

func (l *eventLog) types() []audit.EventType {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]audit.EventType, len(l.events))
	for i, e := range l.events {
		out[i] = e.Type
	}
	return out
}

func newTestService(t *testing.T, st RunStore, sink audit.Sink) *Service {
	t.Helper()
	reg, err := tables.NewRegistry("")
	if err != nil {
		t.Fatal(err)
	}
	vocab, err := tables.NewVocabulary("")
	if err != nil {
		t.Fatal(err)
	}
	svc, err := New(Deps{
		Registry:   reg,
		Vocabulary: vocab,
		Store:      st,
		Recorder:   audit.NewRecorder(sink),
		Config: config.PipelineConfig{
			Standard:        "CLSI",
			Version:         "2024",
			DedupWindowDays: 30,
			MaxConcurrent:   2,
			MaxWaitTime:     time.Second,
			Timeout:         time.Minute,
		},
		Now: func() time.Time { return testNow },
	})
	if err != nil {
		t.Fatal(err)
	}
	return svc
}

func labExport() core.Dataset {
	return core.NewDataset(
		[]string{"PatientID", "Country", "Specimen date", "Specimen type", "Organism", "Age in years", "Gender", "Location type", "CIP_NM"},
		[][]string{
			{"P1", "KE", "2024-01-01", "Blood", "E. coli", "34", "F", "Inpatient", "0.5"},
			{"P1", "KE", "2024-01-10", "Blood", "E. coli", "34", "F", "Inpatient", "4"},
			{"P1", "KE", "2024-03-01", "Blood", "E. coli", "34", "F", "Inpatient", "4"},
			{"P2", "KE", "2024-02-01", "Blood", "E. coli", "61", "M", "Outpatient", ""},
		},
	)
}

// ----------------------------------------------------------------------------
// Construction
// ----------------------------------------------------------------------------

func TestNew_RequiresTables(t *testing.T) {
	if _, err := New(Deps{}); err == nil {
		t.Error("expected error without registry")
	}
	reg, _ := tables.NewRegistry("")
	if _, err := New(Deps{Registry: reg}); err == nil {
		t.Error("expected error without vocabulary")
	}
}

// ----------------------------------------------------------------------------
// Stages
// ----------------------------------------------------------------------------

func TestRecordTablesLoaded(t *testing.T) {
	events := &eventLog{}
	svc := newTestService(t, nil, events)

	svc.RecordTablesLoaded(context.Background())

	if len(events.events) != 1 || events.events[0].Type != audit.EventTablesLoaded {
		t.Fatalf("events = %v", events.types())
	}
	payload := events.events[0].Payload
	if payload["breakpoints"] != svc.registry.Len() {
		t.Errorf("breakpoints = %v, want %d", payload["breakpoints"], svc.registry.Len())
	}
	if standards, ok := payload["standards"].([]string); !ok || len(standards) == 0 {
		t.Errorf("standards = %v", payload["standards"])
	}
}

func TestEngine_UnknownStandard(t *testing.T) {
	svc := newTestService(t, nil, nil)

	tests := []struct {
		name     string
		standard string
		version  string
		wantErr  bool
	}{
		{"defaults", "", "", false},
		{"case-insensitive", "eucast", "2024", false},
		{"unknown version", "CLSI", "1999", true},
		{"unknown standard", "SFM", "2024", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Engine(tt.standard, tt.version)
			if tt.wantErr {
				if !errors.Is(err, ErrUnknownStandard) {
					t.Fatalf("error = %v, want ErrUnknownStandard", err)
				}
				if code := core.MapError(err).Code; code != "BP002" {
					t.Errorf("code = %s, want BP002", code)
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestInterpret(t *testing.T) {
	svc := newTestService(t, nil, nil)

	out, summary, err := svc.Interpret(context.Background(), labExport(), InterpretRequest{})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"S", "R", "R", "Not Tested"}
	for i, w := range want {
		if got := out.Rows[i].Value("CIP_INTERPRETATION"); got != w {
			t.Errorf("row %d = %q, want %q", i, got, w)
		}
	}
	if summary.Interpreted != 3 || summary.NotTested != 1 {
		t.Errorf("summary = %+v", summary)
	}

	out, _, err = svc.Interpret(context.Background(), labExport(), InterpretRequest{Standard: "EUCAST", Version: "2024"})
	if err != nil {
		t.Fatal(err)
	}
	if got := out.Rows[0].Value("CIP_INTERPRETATION"); got != "S" {
		t.Errorf("EUCAST row 0 = %q, want S", got)
	}
}

func TestDeduplicate_FindsColumns(t *testing.T) {
	svc := newTestService(t, nil, nil)

	out, dups := svc.Deduplicate(context.Background(), labExport(), DedupRequest{})
	if dups != 1 || out.Len() != 3 {
		t.Errorf("dups = %d, rows = %d; want 1, 3", dups, out.Len())
	}

	// A longer window also swallows the March isolate.
	_, dups = svc.Deduplicate(context.Background(), labExport(), DedupRequest{WindowDays: 90})
	if dups != 2 {
		t.Errorf("90-day window dups = %d, want 2", dups)
	}

	ds := core.NewDataset([]string{"Organism"}, [][]string{{"E. coli"}})
	out, dups = svc.Deduplicate(context.Background(), ds, DedupRequest{})
	if dups != 0 || out.Len() != 1 {
		t.Error("dataset without episode columns should be unchanged")
	}
}

func TestExport_Overrides(t *testing.T) {
	svc := newTestService(t, nil, nil)
	ds := core.NewDataset(
		[]string{"Bug", "Organism", "CIP_INTERPRETATION"},
		[][]string{{"K. pneumoniae", "E. coli", "R"}},
	)

	recs := svc.Export(ds, core.FieldMapping{Organism: []string{"Bug"}})
	if len(recs) != 1 || recs[0].Organism != "KPN" {
		t.Errorf("records = %+v, want organism from Bug column", recs)
	}
}

// ----------------------------------------------------------------------------
// Pipeline
// ----------------------------------------------------------------------------

func TestRun_EndToEnd(t *testing.T) {
	st := newMemoryStore()
	events := &eventLog{}
	svc := newTestService(t, st, events)

	res, err := svc.Run(context.Background(), PipelineRequest{
		Dataset:     labExport(),
		Source:      "lab.csv",
		Deduplicate: true,
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if res.InputRows != 4 || res.Duplicates != 1 {
		t.Errorf("input = %d, duplicates = %d", res.InputRows, res.Duplicates)
	}
	if len(res.Records) != 2 {
		t.Fatalf("records = %d, want 2: %+v", len(res.Records), res.Records)
	}
	if res.Records[0].Interpretation != core.Susceptible || res.Records[1].Interpretation != core.Resistant {
		t.Errorf("calls = %s, %s", res.Records[0].Interpretation, res.Records[1].Interpretation)
	}
	if r := res.Records[0]; r.Organism != "ECO" || r.Antibiotic != "CIP" || r.Specimen != "BL" || r.PatientType != "IN" {
		t.Errorf("record = %+v", r)
	}
	if !res.Report.Passed {
		t.Errorf("report = %+v", res.Report)
	}
	if !res.Persisted {
		t.Error("Persisted = false with a store")
	}

	run, err := svc.GetRun(context.Background(), res.RunID)
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != store.RunCompleted || run.OutputRecords != 2 || run.Duplicates != 1 || run.Source != "lab.csv" {
		t.Errorf("run = %+v", run)
	}
	if len(st.records[res.RunID]) != 2 {
		t.Errorf("stored records = %d", len(st.records[res.RunID]))
	}

	want := []audit.EventType{
		audit.EventRunStarted, audit.EventDeduplicated, audit.EventInterpreted,
		audit.EventExported, audit.EventValidated, audit.EventRunCompleted,
	}
	got := events.types()
	if len(got) != len(want) {
		t.Fatalf("events = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("event %d = %s, want %s", i, got[i], want[i])
		}
	}
	for _, e := range events.events {
		if e.RunID != res.RunID {
			t.Errorf("event %s has run id %q", e.Type, e.RunID)
		}
	}
}

func TestRun_WithoutStore(t *testing.T) {
	svc := newTestService(t, nil, nil)

	res, err := svc.Run(context.Background(), PipelineRequest{Dataset: labExport()})
	if err != nil {
		t.Fatal(err)
	}
	if res.Persisted || res.Duplicates != 0 || len(res.Records) != 3 {
		t.Errorf("result = %+v", res)
	}
	if _, err := svc.GetRun(context.Background(), res.RunID); !errors.Is(err, ErrPersistenceDisabled) {
		t.Errorf("GetRun error = %v", err)
	}
}

func TestRun_SaveFailureMarksRunFailed(t *testing.T) {
	st := newMemoryStore()
	st.saveErr = errors.New("connection refused")
	events := &eventLog{}
	svc := newTestService(t, st, events)

	_, err := svc.Run(context.Background(), PipelineRequest{Dataset: labExport()})
	if !errors.Is(err, st.saveErr) {
		t.Fatalf("error = %v, want wrapped save error", err)
	}

	types := events.types()
	if types[len(types)-1] != audit.EventRunFailed {
		t.Errorf("last event = %s, want %s", types[len(types)-1], audit.EventRunFailed)
	}
	for _, run := range st.runs {
		if run.Status != store.RunFailed || run.Error == "" {
			t.Errorf("run = %+v, want failed with message", run)
		}
	}
}

func TestRun_UnknownStandardRejectedBeforeWork(t *testing.T) {
	st := newMemoryStore()
	svc := newTestService(t, st, nil)

	_, err := svc.Run(context.Background(), PipelineRequest{Dataset: labExport(), Version: "2031"})
	if !errors.Is(err, ErrUnknownStandard) {
		t.Fatalf("error = %v", err)
	}
	if len(st.runs) != 0 {
		t.Error("no run should be created for an unknown standard")
	}
}

func TestRun_CanceledContext(t *testing.T) {
	svc := newTestService(t, newMemoryStore(), nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.Run(ctx, PipelineRequest{Dataset: labExport()})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
}

// ----------------------------------------------------------------------------
// Retention
// ----------------------------------------------------------------------------

func TestPurgeRuns(t *testing.T) {
	st := newMemoryStore()
	events := &eventLog{}
	svc := newTestService(t, st, events)

	n, err := svc.PurgeRuns(context.Background(), 90)
	if err != nil || n != 3 {
		t.Fatalf("PurgeRuns = %d, %v", n, err)
	}
	if st.purgeArg != 90 {
		t.Errorf("purge days = %d", st.purgeArg)
	}
	if got := events.types(); len(got) != 1 || got[0] != audit.EventRunsPurged {
		t.Errorf("events = %v", got)
	}

	if _, err := newTestService(t, nil, nil).PurgeRuns(context.Background(), 90); !errors.Is(err, ErrPersistenceDisabled) {
		t.Errorf("PurgeRuns without store = %v", err)
	}
}

func TestStartRetentionScheduler(t *testing.T) {
	svc := newTestService(t, newMemoryStore(), nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := svc.StartRetentionScheduler(ctx, config.RetentionConfig{Enabled: true, Schedule: "not a cron", RunDays: 30}); err == nil {
		t.Error("expected error for invalid schedule")
	}
	if err := svc.StartRetentionScheduler(ctx, config.RetentionConfig{Enabled: true, Schedule: "0 3 * * *", RunDays: 30}); err != nil {
		t.Errorf("valid schedule: %v", err)
	}
	if err := newTestService(t, nil, nil).StartRetentionScheduler(ctx, config.RetentionConfig{Enabled: true, Schedule: "bad"}); err != nil {
		t.Errorf("scheduler without store should be a no-op, got %v", err)
	}
}

// ----------------------------------------------------------------------------
// Resolver cache
// ----------------------------------------------------------------------------

type countingResolver struct {
	core.Resolver
	calls int
}

func (c *countingResolver) ResolveOrganism(text string) core.Resolution {
	c.calls++
	return c.Resolver.ResolveOrganism(text)
}

func TestCachedResolver(t *testing.T) {
	vocab, err := tables.NewVocabulary("")
	if err != nil {
		t.Fatal(err)
	}
	counting := &countingResolver{Resolver: vocab}
	cached, err := NewCachedResolver(counting, 2)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 5; i++ {
		if code, _ := cached.ResolveOrganism("E. coli").Code(); code != "ECO" {
			t.Fatalf("code = %q", code)
		}
	}
	if counting.calls != 1 {
		t.Errorf("underlying calls = %d, want 1", counting.calls)
	}

	cached.ResolveOrganism("K. pneumoniae")
	cached.ResolveOrganism("S. aureus")
	if orgs, _ := cached.Len(); orgs != 2 {
		t.Errorf("cache size = %d, want 2 (bounded)", orgs)
	}
	if code, _ := cached.ResolveAntibiotic("Ciprofloxacin").Code(); code != "CIP" {
		t.Errorf("antibiotic = %q", code)
	}
}

// ----------------------------------------------------------------------------
// Job handlers
// ----------------------------------------------------------------------------

func TestHandlePipelineJob(t *testing.T) {
	svc := newTestService(t, nil, nil)
	payload, err := json.Marshal(PipelineJob{Data: NewJobDataset(labExport()), Deduplicate: true})
	if err != nil {
		t.Fatal(err)
	}

	out, err := svc.HandlePipelineJob(context.Background(), payload)
	if err != nil {
		t.Fatalf("HandlePipelineJob() error = %v", err)
	}
	res, ok := out.(*PipelineResult)
	if !ok {
		t.Fatalf("result type %T", out)
	}
	if res.Duplicates != 1 || len(res.Records) != 2 {
		t.Errorf("result = %+v", res)
	}
}

func TestHandlePipelineJob_DedupColumns(t *testing.T) {
	svc := newTestService(t, nil, nil)
	ds := core.NewDataset(
		[]string{"MRN", "Country", "Specimen date", "Organism", "CIP_NM"},
		[][]string{
			{"M-17", "KE", "2024-05-01", "E. coli", "0.5"},
			{"M-17", "KE", "2024-05-05", "E. coli", "4"},
		},
	)
	payload, err := json.Marshal(PipelineJob{
		Data:          NewJobDataset(ds),
		Deduplicate:   true,
		PatientColumn: "MRN",
		DateColumn:    "Specimen date",
	})
	if err != nil {
		t.Fatal(err)
	}

	out, err := svc.HandlePipelineJob(context.Background(), payload)
	if err != nil {
		t.Fatalf("HandlePipelineJob() error = %v", err)
	}
	res := out.(*PipelineResult)
	if res.Duplicates != 1 || len(res.Records) != 1 {
		t.Errorf("duplicates = %d, records = %d; want 1, 1", res.Duplicates, len(res.Records))
	}

	direct, err := svc.Run(context.Background(), PipelineRequest{
		Dataset:     ds,
		Deduplicate: true,
		Dedup:       DedupRequest{PatientColumn: "MRN"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if direct.Duplicates != res.Duplicates {
		t.Errorf("job duplicates = %d, direct run = %d", res.Duplicates, direct.Duplicates)
	}
}

func TestHandleInterpretJob(t *testing.T) {
	svc := newTestService(t, nil, nil)
	payload, _ := json.Marshal(PipelineJob{Data: NewJobDataset(labExport())})

	out, err := svc.HandleInterpretJob(context.Background(), payload)
	if err != nil {
		t.Fatal(err)
	}
	res := out.(InterpretJobResult)
	last := res.Data.Columns[len(res.Data.Columns)-1]
	if last != "CIP_INTERPRETATION" || res.Data.Rows[0][len(res.Data.Columns)-1] != "S" {
		t.Errorf("data = %+v", res.Data)
	}
}

func TestHandleJob_BadPayload(t *testing.T) {
	svc := newTestService(t, nil, nil)

	tests := []struct {
		name    string
		payload string
		code    string
	}{
		{"not json", `{`, "VAL005"},
		{"no columns", `{"data": {"rows": []}}`, "VAL005"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.HandlePipelineJob(context.Background(), json.RawMessage(tt.payload))
			if got := core.MapError(err).Code; got != tt.code {
				t.Errorf("code = %s, want %s (%v)", got, tt.code, err)
			}
		})
	}
}
