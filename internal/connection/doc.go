// Package connection implements the Connection Controller component.
//
// The Connection Controller:
//   - Maintains one WebSocket channel to the monitoring backend
//   - Handles reconnection with capped exponential backoff
//   - Stops retrying after a bounded number of failures (exhaustion)
//   - Sends liveness probes and tracks the heartbeat window
//   - Forwards inbound envelopes to the Message Router
package connection
