// Package connection implements the resilient WebSocket session.
//
// A Session:
//   - Owns at most one transport handle at a time
//   - Optionally authenticates with a token handshake before becoming ready
//   - Reconnects with capped exponential backoff until the attempt budget runs out
//   - Sends keep-alive heartbeats while ready
//   - Correlates requests and responses through a generated message id
//   - Buffers outbound messages in a bounded cache while disconnected and
//     replays them after the next successful connect
//
// All state transitions, timer firings and inbound frames are serialized on
// one goroutine per Session. Listener callbacks run on a separate dispatch
// goroutine in emission order, so they may call back into the Session.
package connection
