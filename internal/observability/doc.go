// Package observability provides event logging, metrics calculation,
// alerting and metric export for ralph runs. Events are persisted as JSON
// Lines and metrics are derived on demand from the event log.
package observability
