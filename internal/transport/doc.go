// Package transport implements the Transport Coordinator component.
//
// The Transport Coordinator:
//   - Owns one Connection Controller and one Fallback Poller
//   - Keeps the two mutually exclusive by policy
//   - Replays the subscription set after reconnects
//   - Exposes a single updates feed and status API to consumers
package transport
