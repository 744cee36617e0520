// Package store persists task records in SQLite. The registry is repopulated
// from it once at startup; terminal transitions are written synchronously and
// everything else arrives through coalesced flushes.
package store
