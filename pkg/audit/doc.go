// Package audit records security events: logins, refreshes, logouts, token
// mismatches, denied requests and permission table changes.
//
// Loggers:
//
//   - DBLogger writes to the security_events table
//   - FileLogger appends newline-delimited JSON
//   - MultiLogger fans out to several loggers
//   - NoOpLogger discards events
//
// Callers go through Record, which fills the request id from the context.
// Audit failures are logged by the caller and never fail the request.
package audit
