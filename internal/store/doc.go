// Package store defines persistence and collaborator interfaces along with
// their shared error types. Concrete implementations live under
// internal/platform.
package store
