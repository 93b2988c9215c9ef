// Package recurrence parses recurrence rules and computes next occurrence
// times. It is a pure function library with no external dependencies.
package recurrence
