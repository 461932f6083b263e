// Package session holds the live server-side state of connected clients.
//
// The session package implements:
//   - Session: identity, space membership and a serialized outbound sink
//   - Registry: the shared table of live sessions keyed by identity
//   - Atomic first-wins registration of identities
//   - Point-in-time snapshots of the sessions in one space
//
// Core Types:
//
// Session is created by a connection handler after a successful handshake.
// It owns the write side of that one connection. Any goroutine may call
// Send; writes to the same session are serialized, writes to different
// sessions are not.
//
// Registry is the only structure mutated by more than one connection. All
// mutation and snapshotting happens under a single lock whose critical
// sections touch the maps only. No network I/O ever happens while the lock
// is held; callers snapshot first, then write.
//
// Lifecycle:
//
//	sess := session.New(identity, spaceID, sink)
//	if err := registry.Register(sess); err != nil {
//		// errors.Is(err, session.ErrDuplicateIdentity)
//		return err
//	}
//	defer registry.Release(sess)
//
//	for _, peer := range registry.SnapshotForSpace(spaceID) {
//		_ = peer.Send(data)
//	}
//
// Release removes a session only if the registry still maps its identity to
// that same session, so a late cleanup cannot evict a newer connection that
// re-used the identity. Remove is the identity-keyed variant; both are
// idempotent.
package session
