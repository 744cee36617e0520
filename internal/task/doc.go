// Package task defines the task record, its lifecycle state machine, and the
// registry that owns all task mutations.
package task
