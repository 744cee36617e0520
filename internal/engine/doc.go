// Package engine runs the single-threaded core loop that owns the task
// registry, the event matcher, and the monitored set. Everything outside the
// loop (IPC commands, webhook events, poller results, maintenance jobs)
// enters through one channel as a closed set of message variants.
package engine
