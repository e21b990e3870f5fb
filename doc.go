// Package nebulasheets is a resilient bridge from an ordered record stream to
// Google Sheets.
//
// Records arrive as JSON objects from a stream source (stdin, a file, a Kafka
// consumer group or a NATS JetStream durable consumer) and each one is
// appended to a spreadsheet range with the Sheets API values.append call.
// The connector keeps running through network outages, expired credentials
// and malformed input:
//
//   - connect failures are retried with deterministic exponential backoff
//     (1s doubling to a 24h ceiling by default)
//   - a record that does not decode is logged, acknowledged and skipped
//   - a record the API rejects is logged with a reason and skipped
//   - the source cursor only advances after an outcome is known
//
// # Layout
//
//	cmd/sheets-connector         CLI: run, validate, list, version
//	internal/pipeline            the connector loop state machine
//	pkg/connector/core           Source, Sink and Connection contracts
//	pkg/connector/base           reconnect backoff policy
//	pkg/connector/sources/...    jsonl (stdin, file), kafka, jetstream
//	pkg/connector/destinations/sheets
//	                             Google Sheets sink (OAuth2 JWT service account)
//	pkg/connector/registry       type name to factory mapping
//	pkg/models                   the Record wire format and decoder
//	pkg/config                   YAML configuration and lazily resolved secrets
//	pkg/clients                  HTTP transport, rate limiting, instrumentation
//	pkg/metrics                  Prometheus metrics and the /metrics server
//	pkg/observability            OpenTelemetry tracing
//	pkg/errors, pkg/logger       structured errors and zap logging
//
// # Quick Start
//
//	sheets-connector validate --config connector.yaml
//	cat records.jsonl | sheets-connector run --config connector.yaml
//
// A record looks like:
//
//	{"range":"Sheet1!A1","values":[["2024-05-01",42]],"major_dimension":"ROWS","spreadsheet_id":"1AbC..."}
package nebulasheets
