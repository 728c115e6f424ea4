// Package reminder holds the engine's domain model: reminder configuration,
// cycle snapshots, the nominal event calendar, and eligibility matching.
//
// Everything here is pure; I/O lives in store, gamedata, and dispatch.
package reminder
