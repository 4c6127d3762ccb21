// Package recorder persists session lifecycle events to PostgreSQL.
//
// Events are buffered in memory and written in batches with pgx.Batch,
// either when the batch fills or on the flush interval.
package recorder
