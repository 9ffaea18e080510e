// Package core provides the interpretation and standardization pipeline for
// antimicrobial susceptibility (AST) data.
//
// This package is the heart of the standardizer, containing all domain logic
// independent of any transport, storage or job layer. It performs no I/O and
// never logs: every operation takes an in-memory dataset and returns a new
// value. Web handlers, queue workers, the CLI and tests all call it unchanged.
//
// # Components
//
// The package is organized around five components, leaf-first:
//
//   - Vocabulary: maps free-text organism/antibiotic names to short codes
//     using ordered synonym tables ([Vocabulary.ResolveOrganism]).
//   - Registry: versioned clinical breakpoints keyed by (standard, version,
//     organism, antibiotic, method) ([Registry.Get]).
//   - Engine: turns MIC / zone measurements into S/I/R calls
//     ([Engine.Interpret], [Engine.InterpretDataset]).
//   - Exporter: wide rows to GLASS long records, one per tested antibiotic
//     ([Exporter.Export]).
//   - Validator: structural, format and range checks over GLASS long data
//     ([Validator.Validate]).
//
// [Deduplicate] removes (or flags) repeat isolates per patient and organism
// inside a day window and is usually run before interpretation.
//
// # Data flow
//
//	wide Dataset -> Deduplicate -> Engine.InterpretDataset -> Exporter.Export
//	             -> []GlassRecord -> Validator.ValidateRecords -> ValidationReport
//
// # Sentinels
//
// Data-quality problems never produce errors. Unresolved organisms carry the
// "XXX" sentinel inside a [Resolution], blank measurements are [NotTested],
// and unknown breakpoints are [NoBreakpoints]. Only malformed configuration
// tables are reported as errors, at seeding time.
//
// # Concurrency
//
// Registry and Vocabulary are read-only once built and safe for concurrent
// readers. Seeding (Upsert, Extend) must finish before concurrent reads start;
// the package does not lock.
//
// # Error Handling
//
// Technical errors from the host layers are mapped to user-friendly messages
// with [MapError]. Each category has a code for support reference:
//
//   - BP001-BP003: breakpoint table errors
//   - VOC001: vocabulary table errors
//   - VAL001-VAL006: request and format errors
//   - FILE001-FILE005: ingest errors
//   - JOB001-JOB004: job queue and run errors
//   - DB001-DB007: database errors
//   - REQ001-REQ002, RATE001: request lifecycle and throttling
package core
