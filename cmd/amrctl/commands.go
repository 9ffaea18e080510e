package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/amrglass/internal/audit"
	"github.com/JonMunkholm/amrglass/internal/config"
	"github.com/JonMunkholm/amrglass/internal/core"
	"github.com/JonMunkholm/amrglass/internal/ingest"
	"github.com/JonMunkholm/amrglass/internal/logging"
	"github.com/JonMunkholm/amrglass/internal/service"
	"github.com/JonMunkholm/amrglass/internal/tables"
)

// errValidationFailed makes validate exit non-zero without repeating the
// report on stderr.
var errValidationFailed = errors.New("validation failed")

type options struct {
	standard    string
	version     string
	breakpoints string
	vocabulary  string
	logLevel    string
	output      string
	format      string
	maxSize     int64
}

func newRootCmd() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "amrctl",
		Short:         "Standardize AMR laboratory exports into GLASS format",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	pf := root.PersistentFlags()
	pf.StringVar(&opts.standard, "standard", "CLSI", "Breakpoint standard (CLSI or EUCAST)")
	pf.StringVar(&opts.version, "bp-version", "2024", "Breakpoint table version")
	pf.StringVar(&opts.breakpoints, "breakpoints", os.Getenv("PIPELINE_BREAKPOINTS_FILE"), "YAML file extending the breakpoint table")
	pf.StringVar(&opts.vocabulary, "vocabulary", os.Getenv("PIPELINE_VOCABULARY_FILE"), "YAML file extending the synonym tables")
	pf.StringVar(&opts.logLevel, "log-level", "warn", "Log level: debug, info, warn, error")
	pf.StringVarP(&opts.output, "out", "o", "-", "Output file, - for stdout")
	pf.StringVar(&opts.format, "format", "csv", "Output format: csv or json")
	pf.Int64Var(&opts.maxSize, "max-size", 100<<20, "Maximum input size in bytes")

	root.AddCommand(runCmd(opts))
	root.AddCommand(interpretCmd(opts))
	root.AddCommand(dedupCmd(opts))
	root.AddCommand(exportCmd(opts))
	root.AddCommand(validateCmd(opts))
	root.AddCommand(whonetCmd(opts))
	root.AddCommand(mappingsCmd(opts))
	root.AddCommand(breakpointsCmd(opts))
	return root
}

// newService builds an offline service: no store, audit events go to the
// logger.
func (o *options) newService(cmd *cobra.Command, windowDays int) (*service.Service, error) {
	logger := logging.New(cmd.ErrOrStderr(), o.logLevel, "text")
	slog.SetDefault(logger)

	reg, err := tables.NewRegistry(o.breakpoints)
	if err != nil {
		return nil, err
	}
	vocab, err := tables.NewVocabulary(o.vocabulary)
	if err != nil {
		return nil, err
	}
	return service.New(service.Deps{
		Registry:   reg,
		Vocabulary: vocab,
		Recorder:   audit.NewRecorder(audit.NewLogSink(logger)),
		Config: config.PipelineConfig{
			Standard:        o.standard,
			Version:         o.version,
			DedupWindowDays: windowDays,
			MaxConcurrent:   1,
		},
	})
}

// readInput loads path as JSON when it ends in .json and as CSV otherwise.
// "-" reads CSV from stdin.
func (o *options) readInput(cmd *cobra.Command, path string) (core.Dataset, error) {
	if path == "-" {
		return ingest.ReadCSV(cmd.InOrStdin(), o.maxSize)
	}
	f, err := os.Open(path)
	if err != nil {
		return core.Dataset{}, err
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".json") {
		return ingest.ReadJSON(f, o.maxSize)
	}
	return ingest.ReadCSV(f, o.maxSize)
}

// writeOutput runs write against the --out destination.
func (o *options) writeOutput(cmd *cobra.Command, write func(io.Writer) error) error {
	if o.output == "" || o.output == "-" {
		return write(cmd.OutOrStdout())
	}
	f, err := os.Create(o.output)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func (o *options) writeDataset(cmd *cobra.Command, ds core.Dataset) error {
	return o.writeOutput(cmd, func(w io.Writer) error {
		if o.format == "json" {
			return writeJSON(w, ingest.DatasetRecords(ds))
		}
		return ingest.WriteDatasetCSV(w, ds)
	})
}

func (o *options) writeRecords(cmd *cobra.Command, records []core.GlassRecord) error {
	return o.writeOutput(cmd, func(w io.Writer) error {
		if o.format == "json" {
			return ingest.WriteGlassJSON(w, records)
		}
		return ingest.WriteGlassCSV(w, records)
	})
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func addDedupFlags(cmd *cobra.Command, req *service.DedupRequest) {
	cmd.Flags().StringVar(&req.PatientColumn, "patient-column", "", "Patient identifier column")
	cmd.Flags().StringVar(&req.DateColumn, "date-column", "", "Specimen date column")
	cmd.Flags().IntVar(&req.WindowDays, "window-days", 30, "Episode window in days")
}

func runCmd(opts *options) *cobra.Command {
	var (
		dedup  bool
		dreq   service.DedupRequest
		orgCol string
		report string
	)
	cmd := &cobra.Command{
		Use:   "run <input>",
		Short: "Deduplicate, interpret, export and validate a laboratory export",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd, dreq.WindowDays)
			if err != nil {
				return err
			}
			ds, err := opts.readInput(cmd, args[0])
			if err != nil {
				return err
			}

			dreq.OrganismColumn = orgCol
			res, err := svc.Run(cmd.Context(), service.PipelineRequest{
				Dataset:        ds,
				Source:         filepath.Base(args[0]),
				OrganismColumn: orgCol,
				Deduplicate:    dedup,
				Dedup:          dreq,
			})
			if err != nil {
				return errors.New(core.FormatUserError(err))
			}
			if err := opts.writeRecords(cmd, res.Records); err != nil {
				return err
			}

			fmt.Fprintf(cmd.ErrOrStderr(), "run %s: %d rows, %d duplicates, %d records, %d errors, %d warnings\n",
				res.RunID, res.InputRows, res.Duplicates, len(res.Records), res.Report.ErrorCount, res.Report.WarningCount)
			if report != "" {
				f, err := os.Create(report)
				if err != nil {
					return err
				}
				defer f.Close()
				return writeJSON(f, res.Report)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dedup, "dedup", false, "Remove repeat isolates before interpretation")
	cmd.Flags().StringVar(&orgCol, "organism-column", "", "Organism column")
	cmd.Flags().StringVar(&report, "report", "", "Write the validation report as JSON to this file")
	addDedupFlags(cmd, &dreq)
	return cmd
}

func interpretCmd(opts *options) *cobra.Command {
	var orgCol string
	cmd := &cobra.Command{
		Use:   "interpret <input>",
		Short: "Add S/I/R columns for every measurement column",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd, 0)
			if err != nil {
				return err
			}
			ds, err := opts.readInput(cmd, args[0])
			if err != nil {
				return err
			}
			out, summary, err := svc.Interpret(cmd.Context(), core.CleanDataset(ds), service.InterpretRequest{OrganismColumn: orgCol})
			if err != nil {
				return errors.New(core.FormatUserError(err))
			}
			fmt.Fprintf(cmd.ErrOrStderr(), "%d columns, %d interpreted, %d not tested, %d without breakpoints\n",
				summary.Columns, summary.Interpreted, summary.NotTested, summary.NoBreakpoints)
			return opts.writeDataset(cmd, out)
		},
	}
	cmd.Flags().StringVar(&orgCol, "organism-column", "", "Organism column")
	return cmd
}

func dedupCmd(opts *options) *cobra.Command {
	var dreq service.DedupRequest
	cmd := &cobra.Command{
		Use:   "dedup <input>",
		Short: "Keep the first isolate per patient and organism episode",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd, dreq.WindowDays)
			if err != nil {
				return err
			}
			ds, err := opts.readInput(cmd, args[0])
			if err != nil {
				return err
			}
			out, dups := svc.Deduplicate(cmd.Context(), core.CleanDataset(ds), dreq)
			fmt.Fprintf(cmd.ErrOrStderr(), "%d duplicates\n", dups)
			return opts.writeDataset(cmd, out)
		},
	}
	addDedupFlags(cmd, &dreq)
	cmd.Flags().StringVar(&dreq.OrganismColumn, "organism-column", "", "Organism column")
	cmd.Flags().BoolVar(&dreq.MarkOnly, "mark-only", false, "Flag duplicates in a Deduplicated column instead of dropping them")
	return cmd
}

func exportCmd(opts *options) *cobra.Command {
	var orgCol, dateCol string
	cmd := &cobra.Command{
		Use:   "export <input>",
		Short: "Convert an interpreted wide file to GLASS records",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd, 0)
			if err != nil {
				return err
			}
			ds, err := opts.readInput(cmd, args[0])
			if err != nil {
				return err
			}
			var overrides core.FieldMapping
			if orgCol != "" {
				overrides.Organism = []string{orgCol}
			}
			if dateCol != "" {
				overrides.SpecimenDate = []string{dateCol}
			}
			return opts.writeRecords(cmd, svc.Export(core.CleanDataset(ds), overrides))
		},
	}
	cmd.Flags().StringVar(&orgCol, "organism-column", "", "Organism column")
	cmd.Flags().StringVar(&dateCol, "date-column", "", "Specimen date column")
	return cmd
}

func validateCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "validate <input>",
		Short: "Check a GLASS file and print the report as JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd, 0)
			if err != nil {
				return err
			}
			ds, err := opts.readInput(cmd, args[0])
			if err != nil {
				return err
			}
			report := svc.Validate(ds)
			if err := opts.writeOutput(cmd, func(w io.Writer) error { return writeJSON(w, report) }); err != nil {
				return err
			}
			if !report.Passed {
				return fmt.Errorf("%w: %d errors", errValidationFailed, report.ErrorCount)
			}
			return nil
		},
	}
}

func whonetCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whonet <input>",
		Short: "Pivot a GLASS file into WHONET wide format",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := opts.readInput(cmd, args[0])
			if err != nil {
				return err
			}
			return opts.writeDataset(cmd, core.WhonetWide(core.DatasetToRecords(core.CleanDataset(ds))))
		},
	}
}

func mappingsCmd(opts *options) *cobra.Command {
	var threshold float64
	cmd := &cobra.Command{
		Use:   "mappings <input>",
		Short: "Suggest which input columns hold the standard fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ds, err := opts.readInput(cmd, args[0])
			if err != nil {
				return err
			}
			suggestions := core.SuggestMappings(ds.Columns, nil, threshold)
			return opts.writeOutput(cmd, func(w io.Writer) error {
				for _, s := range suggestions {
					fmt.Fprintf(w, "%-16s <- %-24s %.3f\n", s.Target, s.Source, s.Confidence)
				}
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&threshold, "threshold", core.DefaultMappingThreshold, "Minimum similarity")
	return cmd
}

func breakpointsCmd(opts *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "breakpoints",
		Short: "Inspect the loaded breakpoint tables",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "versions [standard]",
		Short: "List loaded versions and their entry counts",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := opts.newService(cmd, 0)
			if err != nil {
				return err
			}
			standards := svc.Standards()
			if len(args) == 1 {
				standards = []string{strings.ToUpper(args[0])}
			}
			return opts.writeOutput(cmd, func(w io.Writer) error {
				for _, std := range standards {
					versions := svc.Versions(std)
					if len(versions) == 0 {
						return fmt.Errorf("%w %s", service.ErrUnknownStandard, std)
					}
					keys := make([]string, 0, len(versions))
					for v := range versions {
						keys = append(keys, v)
					}
					sort.Strings(keys)
					for _, v := range keys {
						fmt.Fprintf(w, "%s\t%s\t%d\n", std, v, versions[v])
					}
				}
				return nil
			})
		},
	})
	return cmd
}
