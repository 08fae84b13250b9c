// Package poller implements the Fallback Poller component.
//
// The Fallback Poller:
//   - Substitutes for the live channel with periodic REST fetches
//   - Fetches once immediately on start, then on a fixed interval
//   - Keeps retrying through failures, with no backoff
//   - Feeds results through the same update path as live envelopes
package poller
