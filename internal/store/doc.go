// Package store persists the engine's own state: reminder configuration and
// the dispatch ledger. Cycles are never stored; they are fetched live each
// tick by gamedata.
package store
