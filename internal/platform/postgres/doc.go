// Package postgres implements the persistence interfaces (dedup store,
// scheduled job store, dead letter store) using PostgreSQL.
package postgres
