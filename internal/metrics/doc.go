// Package metrics exports session activity to Prometheus.
//
// Counters are driven by session events:
//   - Connections opened and closed, by cleanliness
//   - Reconnect attempts and errors by kind
//   - Inbound frames by type and heartbeats sent
//
// Gauges are read from Session.Stats at scrape time.
package metrics
