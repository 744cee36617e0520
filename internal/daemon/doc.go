// Package daemon assembles the engine, poller, persistence, maintenance
// jobs, and the webhook API into a single-instance background process.
package daemon
