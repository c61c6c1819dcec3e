// Package export provides portable snapshot files.
//
// # Overview
//
// A stored snapshot can be written out as a self-describing JSON document and
// read back into any store, or flattened to a CSV value table for analysis in
// external tools.
//
// # Supported Formats
//
// JSON Format:
//   - Three tables: time_series, operations, results
//   - Pending cells are omitted; a missing result reads back as Pending
//   - Undefined values are null, infinities are "+Inf" and "-Inf"
//   - Can be re-imported
//
// CSV Format:
//   - One line per time series, one column per operation
//   - Good cells hold the value, Error cells "error", Pending cells nothing
//   - Cannot be re-imported (export-only)
//
// # Schema
//
// Time series and operation records have a fixed schema. Fields outside it
// (leftovers from other tools) are dropped on import and listed in
// ImportResult.Warnings instead of failing the import. Everything else is
// strict: unknown ids in results, duplicate results or cells whose value and
// quality disagree fail with ErrInvalidDocument.
//
// # HTTP API
//
// Export endpoint: GET /v1/snapshots/{handle}/export?format=json|csv
//
//	curl "http://localhost:8080/v1/snapshots/01J.../export?format=csv" -o values.csv
//
// Import endpoint: POST /v1/import (Content-Type: application/json)
//
//	curl -X POST -H "Content-Type: application/json" \
//	  --data-binary @snapshot.json http://localhost:8080/v1/import
package export
