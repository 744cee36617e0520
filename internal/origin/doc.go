// Package origin talks to the origin agent, the HTTP sidecar that issues
// download triggers and answers progress queries for origin references.
package origin
