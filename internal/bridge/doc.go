// Package bridge routes named operation requests from a UI layer to the
// external proof engine. Every call is decoded into a typed operation, run on
// the shared worker pool and answered with exactly one Outcome on the
// caller's side.
package bridge
