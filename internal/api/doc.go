// Package api provides a client for the dashboard backend REST API:
// queue discovery, the current metrics snapshot used by the fallback
// poller, and the system overview. Requests retry on 5xx/429 with
// jittered exponential backoff.
package api
