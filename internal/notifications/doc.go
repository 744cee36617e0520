// Package notifications pushes task lifecycle notifications to an ntfy topic
// when one is configured.
package notifications
