// Package model defines the domain types shared across the feed pipeline:
// queue metadata, metrics samples, and backend alerts. Wire formats live
// next to the components that speak them (internal/api for REST,
// internal/feed for WebSocket payloads).
package model
