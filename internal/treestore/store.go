// Package treestore abstracts the remote hierarchical key-value store
// the budget documents and rooms live in. The store is the sole source
// of truth: every local structure is a cache subordinate to it and must
// be fully replaceable by a fresh pull at any time.
package treestore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
)

// Sentinel errors shared by all implementations. Callers match with
// errors.Is; implementations wrap these with path context.
var (
	// ErrPermissionDenied means the store rejected the operation for
	// this identity. On a path the user just voluntarily left this is
	// expected noise; anywhere else it signals forced membership loss.
	ErrPermissionDenied = errors.New("treestore: permission denied")

	// ErrConflict is returned by Transact when a concurrent write
	// invalidated the update. Retrying is the caller's responsibility.
	ErrConflict = errors.New("treestore: transaction conflict")

	// ErrUnavailable means the store cannot be reached at all.
	ErrUnavailable = errors.New("treestore: store unavailable")
)

// UpdateFn computes the next value of a node inside a transaction.
// current is the node's JSON snapshot, nil if the node is absent.
// Returning (nil, nil) deletes the node; returning an error aborts the
// transaction without writing.
type UpdateFn func(current json.RawMessage) (next any, err error)

// Store is one logical client connection to the remote tree.
//
// Paths are slash-separated ("rooms/ABC-123/members/u1"). Values cross
// the boundary as JSON: Set/Transact marshal what they are given, Get
// unmarshals into the caller's destination. Writing a value that
// serializes to null, or an empty object, deletes the node, matching
// the backing store's semantics.
type Store interface {
	// Get reads the node at path into v and reports whether it exists.
	// When the node is absent v is left untouched.
	Get(ctx context.Context, path string, v any) (bool, error)

	// Set overwrites the node at path.
	Set(ctx context.Context, path string, value any) error

	// Remove deletes the node at path. Removing an absent node is a
	// no-op.
	Remove(ctx context.Context, path string) error

	// Transact atomically applies fn to the node at path. The
	// read-modify-write is a single unit against the store; concurrent
	// modification surfaces as ErrConflict.
	Transact(ctx context.Context, path string, fn UpdateFn) error

	// Subscribe registers a push listener on path. onChange receives
	// the node's JSON snapshot (nil when absent), starting with an
	// immediate initial snapshot, then again after every write that
	// touches the subtree. onError receives subscription failures such
	// as permission loss. The returned cancel function is idempotent.
	Subscribe(path string, onChange func(snapshot json.RawMessage), onError func(err error)) (cancel func(), err error)

	// OnDisconnectSet registers a deferred write the store commits
	// when this connection is detected as lost. The returned cancel
	// function withdraws the registration (used on clean leave).
	OnDisconnectSet(path string, value any) (cancel func(), err error)

	// Disconnect commits this connection's pending disconnect writes
	// and drops its subscriptions, simulating or acknowledging a lost
	// connection. After Disconnect the handle must not be reused.
	Disconnect(ctx context.Context) error

	// Handle returns a sibling connection over the same tree with its
	// own subscriptions and disconnect set. Each user session gets its
	// own handle so one session's disconnect never fires another's
	// deferred writes.
	Handle() Store
}

// ServerTimestamp returns the store's server-assigned-time sentinel.
// The Realtime Database resolves it at commit time; the in-memory
// store substitutes its own clock during write normalization.
func ServerTimestamp() any {
	return map[string]any{".sv": "timestamp"}
}

// SplitPath breaks a slash-separated path into segments, dropping
// empty ones so "rooms//x/" and "rooms/x" address the same node.
func SplitPath(path string) []string {
	parts := strings.Split(path, "/")
	out := parts[:0]
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
