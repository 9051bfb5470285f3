/*
Package storage provides the pluggable storage abstraction for room usage periods.

# Storage Interface

Backends implement Store:
  - memory: in-memory storage for testing and ephemeral workloads
  - badger: BadgerDB for local persistent storage
  - postgres: PostgreSQL (pgx) for hosted deployments

A store holds two tables: rooms (id, user, name) and usage periods
(row id, user, room, start, end, value). Periods are only ever inserted
and deleted; an extended period is deleted and re-inserted with its new end.

# Range Reads

Stores cap the number of rows a single request may return, so reads go
through QueryRange with inclusive row positions. FetchAll drives the
pagination package over it:

	rows, err := storage.FetchAll(ctx, store, storage.Query{
	    UserID:     "u1",
	    Descending: true, // most recent end first
	}, pagination.Options{})

The ordering is fixed for the duration of a read: end time, then row id.
Concurrent writers can still shift rows between pages; the upload service
serializes writes per user to keep its own reads stable.

# Atomic Writes

Backends that also implement Replacer delete the extended rows and insert
the new intervals in one transaction. Without it the caller deletes first
and inserts second, and an insert failure loses the deleted rows until the
same upload is retried.

# Best Practices

 1. Always call Close() when done to flush pending writes
 2. Use context.WithTimeout() to bound slow reads
 3. Prefer FetchAll over hand-written page loops
*/
package storage
