// Package rop defines the core interfaces, types, and helpers used across the
// ROP codebase. It provides entity metadata, the database connection contract,
// change-set vocabulary, identifier handling, and shared error codes. The
// persistence engine itself lives in the common subpackage, while concrete
// database backends live in insqlite and inpg and the database subpackage
// offers one-call opening of either.
//
// ROP (Relational Objects Persistence) keeps a graph of plain Go objects in
// sync with relational rows. An entity manager tracks objects in units of
// work: loading a row yields exactly one in-memory object per identity,
// mutations are detected by comparing against snapshots, and a flush writes
// the pending inserts, updates and deletes in dependency order inside the
// caller's transaction. Units of work nest over database savepoints, so a
// subtask's writes can be committed or discarded as a group without touching
// the outer transaction.
//
// Entity types stay free of persistence concerns: they implement the one
// method Entity interface and register an EntityMapping describing their
// table, identifier strategy, fields and associations. Field access goes
// through explicit accessor functions (see Access, AccessRef and friends)
// rather than reflection.
package rop

// Error model
//
// Failures that callers are expected to branch on are wrapped in Error with a
// shared ErrorCode: identity conflicts, unresolvable insert cycles, misuse of
// transaction control, savepoint problems and plain database failures. The
// engine propagates backend errors unmodified, so errors.Is and errors.As see
// through to the driver error underneath. Everything else is a plain wrapped
// error built with fmt.Errorf and %w.
