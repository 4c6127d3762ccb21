// Package queue provides the ring buffers used by the session engine.
//
//   - Growable is unbounded and doubles its capacity when full. Receive
//     blocks, which makes it a fit for ordered hand-off between goroutines.
//   - Bounded never grows. Pushing into a full buffer evicts the oldest
//     item, so it holds only the most recent entries.
package queue
