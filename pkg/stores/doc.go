// Package stores provides persistence layer implementations for OpenFroyo.
// It includes SQLite-based storage with WAL mode, connection pooling,
// and comprehensive CRUD operations for runs, plan units, events,
// resource state, facts, and audit logs.
package stores
