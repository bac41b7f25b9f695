// Package store provides durable persistence for sessions, their message
// timelines, and workspace records.
//
// The Store interface is the contract the coordinator consumes: create,
// load, list, and delete sessions; apply partial metadata updates; and
// snapshot message timelines. SQLiteStore is the production implementation
// (modernc.org/sqlite, WAL mode, schema auto-creation). MockStore is an
// in-memory implementation for tests.
//
// The coordinator treats storage as a collaborator, never the authority for
// an in-flight conversation: the in-memory timeline is written through to the
// store after each completed turn, and a storage failure degrades to a logged
// error rather than failing the turn.
package store
