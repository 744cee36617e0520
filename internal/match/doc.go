// Package match scores textual similarity between task labels and download
// event names, and binds events to tasks under the acceptance threshold
// policy.
package match
