// Package poller periodically queries the origin agent for per-task progress
// snapshots and classifies them into progress hints. Terminal completion is
// never inferred here; only the download subsystem's own terminal
// notification is authoritative.
package poller
