package web

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/amrglass/internal/core"
	"github.com/JonMunkholm/amrglass/internal/ingest"
	"github.com/JonMunkholm/amrglass/internal/service"
)

// DatasetResponse is the JSON form of a wide dataset.
type DatasetResponse struct {
	Columns    []string               `json:"columns"`
	Rows       []map[string]string    `json:"rows"`
	Summary    *core.InterpretSummary `json:"summary,omitempty"`
	Duplicates *int                   `json:"duplicates,omitempty"`
}

// readDataset decodes the request body as CSV (Content-Type text/csv) or as
// JSON records.
func (s *Server) readDataset(r *http.Request) (core.Dataset, error) {
	limit := s.cfg.Server.MaxBodySize
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	switch mediaType {
	case "text/csv", "application/csv":
		return ingest.ReadCSV(r.Body, limit)
	default:
		return ingest.ReadJSON(r.Body, limit)
	}
}

func datasetResponse(ds core.Dataset) DatasetResponse {
	return DatasetResponse{Columns: ds.Columns, Rows: ingest.DatasetRecords(ds)}
}

// writeCSV sends body as an attachment named filename.
func writeCSV(w http.ResponseWriter, filename string, write func(io.Writer) error) error {
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", filename))
	return write(w)
}

// ----------------------------------------------------------------------------
// Health and tables
// ----------------------------------------------------------------------------

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"status":     "ok",
		"runs":       s.service.Limiter().Status(),
		"persistent": s.service.Persistent(),
		"jobs":       s.queue != nil,
		"standards":  s.service.Standards(),
	})
}

func (s *Server) handleListStandards(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"standards": s.service.Standards()})
}

func (s *Server) handleListVersions(w http.ResponseWriter, r *http.Request) {
	standard := strings.ToUpper(chi.URLParam(r, "standard"))
	versions := s.service.Versions(standard)
	if len(versions) == 0 {
		respondError(w, r, fmt.Errorf("%w %s", service.ErrUnknownStandard, standard))
		return
	}
	writeJSON(w, map[string]any{"standard": standard, "versions": versions})
}

// ----------------------------------------------------------------------------
// Single stages
// ----------------------------------------------------------------------------

func (s *Server) handleInterpret(w http.ResponseWriter, r *http.Request) {
	ds, err := s.readDataset(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	q := r.URL.Query()
	out, summary, err := s.service.Interpret(r.Context(), core.CleanDataset(ds), service.InterpretRequest{
		Standard:       q.Get("standard"),
		Version:        q.Get("version"),
		OrganismColumn: q.Get("organism_column"),
	})
	if err != nil {
		respondError(w, r, err)
		return
	}

	if wantsCSV(r) {
		writeCSV(w, "interpreted.csv", func(wr io.Writer) error { return ingest.WriteDatasetCSV(wr, out) })
		return
	}
	resp := datasetResponse(out)
	resp.Summary = &summary
	writeJSON(w, resp)
}

func (s *Server) handleDeduplicate(w http.ResponseWriter, r *http.Request) {
	ds, err := s.readDataset(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	out, dups := s.service.Deduplicate(r.Context(), core.CleanDataset(ds), dedupFromParams(r.URL.Query()))

	if wantsCSV(r) {
		w.Header().Set("X-Duplicates", fmt.Sprint(dups))
		writeCSV(w, "deduplicated.csv", func(wr io.Writer) error { return ingest.WriteDatasetCSV(wr, out) })
		return
	}
	resp := datasetResponse(out)
	resp.Duplicates = &dups
	writeJSON(w, resp)
}

func (s *Server) handleExportGlass(w http.ResponseWriter, r *http.Request) {
	ds, err := s.readDataset(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	records := s.service.Export(core.CleanDataset(ds), mappingFromParams(r.URL.Query()))

	if wantsCSV(r) {
		writeCSV(w, "glass.csv", func(wr io.Writer) error { return ingest.WriteGlassCSV(wr, records) })
		return
	}
	if records == nil {
		records = []core.GlassRecord{}
	}
	writeJSON(w, map[string]any{"count": len(records), "records": records})
}

func (s *Server) handleExportWhonet(w http.ResponseWriter, r *http.Request) {
	ds, err := s.readDataset(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	wide := core.WhonetWide(core.DatasetToRecords(core.CleanDataset(ds)))

	if wantsCSV(r) {
		writeCSV(w, "whonet.csv", func(wr io.Writer) error { return ingest.WriteDatasetCSV(wr, wide) })
		return
	}
	writeJSON(w, datasetResponse(wide))
}

func (s *Server) handleValidateGlass(w http.ResponseWriter, r *http.Request) {
	ds, err := s.readDataset(r)
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, s.service.Validate(ds))
}

// SuggestRequest is the body of /mappings/suggest.
type SuggestRequest struct {
	Headers   []string `json:"headers"`
	Targets   []string `json:"targets,omitempty"`
	Threshold float64  `json:"threshold,omitempty"`
}

func (s *Server) handleSuggestMappings(w http.ResponseWriter, r *http.Request) {
	var req SuggestRequest
	body := ingest.NewLimitedReader(r.Body, s.cfg.Server.MaxBodySize)
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		if errors.Is(err, ingest.ErrFileTooLarge) {
			respondError(w, r, err)
			return
		}
		respondError(w, r, fmt.Errorf("invalid json: %w", err))
		return
	}
	if len(req.Headers) == 0 {
		respondError(w, r, errors.New("invalid request: headers must not be empty"))
		return
	}

	suggestions := core.SuggestMappings(req.Headers, req.Targets, req.Threshold)
	if suggestions == nil {
		suggestions = []core.MappingSuggestion{}
	}
	writeJSON(w, map[string]any{"mappings": suggestions})
}

// ----------------------------------------------------------------------------
// Full runs
// ----------------------------------------------------------------------------

func (s *Server) handlePipeline(w http.ResponseWriter, r *http.Request) {
	ds, err := s.readDataset(r)
	if err != nil {
		respondError(w, r, err)
		return
	}

	req := pipelineFromParams(r.URL.Query(), "api")
	req.Dataset = ds
	s.runPipeline(w, r, req)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Pipeline.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) || strings.Contains(err.Error(), "request body too large") {
			respondError(w, r, ingest.ErrFileTooLarge)
			return
		}
		respondError(w, r, fmt.Errorf("invalid request: %w", err))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		respondError(w, r, ingest.ErrNoFile)
		return
	}
	defer file.Close()

	ds, err := ingest.ReadCSV(file, maxSize)
	if err != nil {
		respondError(w, r, err)
		return
	}

	req := pipelineFromParams(formValues{form: r.MultipartForm.Value, query: r.URL.Query()}, header.Filename)
	req.Dataset = ds
	s.runPipeline(w, r, req)
}

func (s *Server) runPipeline(w http.ResponseWriter, r *http.Request, req service.PipelineRequest) {
	res, err := s.service.Run(r.Context(), req)
	if err != nil {
		respondError(w, r, err)
		return
	}

	w.Header().Set("X-Run-ID", res.RunID)
	if wantsCSV(r) {
		writeCSV(w, "glass_"+res.RunID+".csv", func(wr io.Writer) error { return ingest.WriteGlassCSV(wr, res.Records) })
		return
	}
	if res.Records == nil {
		res.Records = []core.GlassRecord{}
	}
	writeJSON(w, res)
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.service.GetRun(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, run)
}

// ----------------------------------------------------------------------------
// Background jobs
// ----------------------------------------------------------------------------

func (s *Server) handleEnqueueJob(kind string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.queue == nil {
			respondError(w, r, errNoQueue)
			return
		}
		ds, err := s.readDataset(r)
		if err != nil {
			respondError(w, r, err)
			return
		}

		q := r.URL.Query()
		// Reject unknown standards now rather than in the worker.
		if _, err := s.service.Engine(q.Get("standard"), q.Get("version")); err != nil {
			respondError(w, r, err)
			return
		}

		dedup := dedupFromParams(q)
		id, err := s.queue.Enqueue(r.Context(), kind, service.PipelineJob{
			Data:           service.NewJobDataset(ds),
			Source:         "api",
			Standard:       q.Get("standard"),
			Version:        q.Get("version"),
			OrganismColumn: q.Get("organism_column"),
			Deduplicate:    parseBoolParam(q, "deduplicate"),
			PatientColumn:  dedup.PatientColumn,
			DateColumn:     dedup.DateColumn,
			WindowDays:     dedup.WindowDays,
			MarkOnly:       dedup.MarkOnly,
			Mapping:        mappingFromParams(q),
		})
		if err != nil {
			respondError(w, r, err)
			return
		}

		w.Header().Set("Location", "/api/v1/jobs/"+id)
		writeJSONStatus(w, http.StatusAccepted, map[string]string{
			"job_id": id,
			"kind":   kind,
			"status": "queued",
		})
	}
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	if s.queue == nil {
		respondError(w, r, errNoQueue)
		return
	}
	job, err := s.queue.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, r, err)
		return
	}
	writeJSON(w, job)
}
