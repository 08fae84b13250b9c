// Package feed defines the tagged envelope protocol spoken with the
// monitoring backend and the Message Router that dispatches inbound
// envelopes to registered handlers.
//
// The router:
//   - Routes each envelope to exactly one handler, selected by type
//   - Replaces handlers on re-registration (last wins)
//   - Logs and drops unknown types and malformed payloads
package feed
