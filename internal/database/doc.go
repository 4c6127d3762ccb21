// Package database opens the PostgreSQL pool used by the session event
// recorder.
package database
