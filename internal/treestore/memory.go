package treestore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"
)

// MemoryStore is an in-process Store with full semantics: subscription
// fan-out, transactional updates, per-handle disconnect writes, and the
// backing store's quirk of pruning empty nodes (a node whose value
// serializes to null, {} or [] does not exist). It backs tests and the
// local development mode.
//
// All handles returned by Handle share one tree; each handle owns its
// subscriptions and deferred disconnect writes.
type MemoryStore struct {
	t *memTree

	mu           sync.Mutex
	deferred     []*deferredWrite
	subIDs       []int
	disconnected bool
}

type deferredWrite struct {
	path     string
	value    any
	canceled bool
}

type memTree struct {
	mu        sync.Mutex
	root      any
	subs      map[int]*memSub
	nextSubID int
	denied    []string
	conflicts int
	now       func() int64
}

type memSub struct {
	path     []string
	onChange func(json.RawMessage)
	onError  func(error)
	closed   bool
}

// NewMemory creates an empty in-memory store.
func NewMemory() *MemoryStore {
	return &MemoryStore{t: &memTree{
		subs: make(map[int]*memSub),
		now:  func() int64 { return time.Now().UnixMilli() },
	}}
}

// Handle returns a sibling connection over the same tree.
func (s *MemoryStore) Handle() Store {
	return &MemoryStore{t: s.t}
}

func (s *MemoryStore) Get(ctx context.Context, path string, v any) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	t := s.t
	t.mu.Lock()
	if err := t.checkDenied(path); err != nil {
		t.mu.Unlock()
		return false, err
	}
	node := t.getAt(SplitPath(path))
	var raw []byte
	if node != nil {
		raw, _ = json.Marshal(node)
	}
	t.mu.Unlock()

	if raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("treestore: decode %q: %w", path, err)
	}
	return true, nil
}

func (s *MemoryStore) Set(ctx context.Context, path string, value any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := s.t
	t.mu.Lock()
	if err := t.checkDenied(path); err != nil {
		t.mu.Unlock()
		return err
	}
	notify, err := t.writeLocked(path, value)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	notify()
	return nil
}

func (s *MemoryStore) Remove(ctx context.Context, path string) error {
	return s.Set(ctx, path, nil)
}

// Transact applies fn to the node at path as one atomic unit. fn runs
// with the tree locked and must not call back into the store.
func (s *MemoryStore) Transact(ctx context.Context, path string, fn UpdateFn) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	t := s.t
	t.mu.Lock()
	if err := t.checkDenied(path); err != nil {
		t.mu.Unlock()
		return err
	}
	if t.conflicts > 0 {
		t.conflicts--
		t.mu.Unlock()
		return fmt.Errorf("transact %q: %w", path, ErrConflict)
	}

	var current json.RawMessage
	if node := t.getAt(SplitPath(path)); node != nil {
		current, _ = json.Marshal(node)
	}
	next, err := fn(current)
	if err != nil {
		t.mu.Unlock()
		return err
	}
	notify, err := t.writeLocked(path, next)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	notify()
	return nil
}

func (s *MemoryStore) Subscribe(path string, onChange func(json.RawMessage), onError func(error)) (func(), error) {
	t := s.t
	t.mu.Lock()
	if err := t.checkDenied(path); err != nil {
		t.mu.Unlock()
		return nil, err
	}
	id := t.nextSubID
	t.nextSubID++
	sub := &memSub{path: SplitPath(path), onChange: onChange, onError: onError}
	t.subs[id] = sub
	var initial json.RawMessage
	if node := t.getAt(sub.path); node != nil {
		initial, _ = json.Marshal(node)
	}
	t.mu.Unlock()

	s.mu.Lock()
	s.subIDs = append(s.subIDs, id)
	s.mu.Unlock()

	// Initial snapshot, delivered before any subsequent change.
	onChange(initial)

	cancel := func() {
		t.mu.Lock()
		if sb, ok := t.subs[id]; ok {
			sb.closed = true
			delete(t.subs, id)
		}
		t.mu.Unlock()
	}
	return cancel, nil
}

func (s *MemoryStore) OnDisconnectSet(path string, value any) (func(), error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.disconnected {
		return nil, fmt.Errorf("on-disconnect %q: %w", path, ErrUnavailable)
	}
	dw := &deferredWrite{path: path, value: value}
	s.deferred = append(s.deferred, dw)
	cancel := func() {
		s.mu.Lock()
		dw.canceled = true
		s.mu.Unlock()
	}
	return cancel, nil
}

// Disconnect commits this handle's pending disconnect writes and drops
// its subscriptions.
func (s *MemoryStore) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return nil
	}
	s.disconnected = true
	pending := s.deferred
	s.deferred = nil
	subIDs := s.subIDs
	s.subIDs = nil
	s.mu.Unlock()

	t := s.t
	t.mu.Lock()
	for _, id := range subIDs {
		if sb, ok := t.subs[id]; ok {
			sb.closed = true
			delete(t.subs, id)
		}
	}
	t.mu.Unlock()

	for _, dw := range pending {
		if dw.canceled {
			continue
		}
		t.mu.Lock()
		notify, err := t.writeLocked(dw.path, dw.value)
		t.mu.Unlock()
		if err != nil {
			return err
		}
		notify()
	}
	return nil
}

// FailTransactions makes the next n calls to Transact (on any handle)
// fail with ErrConflict. Test hook for the caller-side retry path.
func (s *MemoryStore) FailTransactions(n int) {
	s.t.mu.Lock()
	s.t.conflicts = n
	s.t.mu.Unlock()
}

// DenyPath makes every operation under prefix fail with
// ErrPermissionDenied and cancels overlapping subscriptions with the
// same error. Test hook for forced membership loss.
func (s *MemoryStore) DenyPath(prefix string) {
	t := s.t
	t.mu.Lock()
	t.denied = append(t.denied, prefix)
	segs := SplitPath(prefix)
	var failed []*memSub
	for id, sub := range t.subs {
		if pathsOverlap(segs, sub.path) {
			sub.closed = true
			delete(t.subs, id)
			failed = append(failed, sub)
		}
	}
	t.mu.Unlock()

	for _, sub := range failed {
		if sub.onError != nil {
			sub.onError(ErrPermissionDenied)
		}
	}
}

func (t *memTree) checkDenied(path string) error {
	segs := SplitPath(path)
	for _, d := range t.denied {
		if pathsOverlap(SplitPath(d), segs) {
			return fmt.Errorf("%q: %w", path, ErrPermissionDenied)
		}
	}
	return nil
}

// writeLocked stores value at path (nil deletes) and returns a closure
// delivering snapshots to affected subscribers. The closure must be
// invoked after the tree lock is released so callbacks can re-enter
// the store.
func (t *memTree) writeLocked(path string, value any) (func(), error) {
	node, err := t.normalize(value)
	if err != nil {
		return nil, fmt.Errorf("treestore: encode %q: %w", path, err)
	}

	segs := SplitPath(path)
	if node == nil {
		t.root = removeAt(t.root, segs)
	} else {
		t.root = setAt(t.root, segs, node)
	}

	var calls []func()
	for _, sub := range t.subs {
		if sub.closed || !pathsOverlap(segs, sub.path) {
			continue
		}
		var snap json.RawMessage
		if n := t.getAt(sub.path); n != nil {
			snap, _ = json.Marshal(n)
		}
		cb, arg := sub.onChange, snap
		calls = append(calls, func() { cb(arg) })
	}
	return func() {
		for _, c := range calls {
			c()
		}
	}, nil
}

// normalize round-trips value through JSON, resolves server-timestamp
// sentinels, and prunes nulls and empty containers the way the backing
// store does. Returns nil when the whole value prunes away.
func (t *memTree) normalize(value any) (any, error) {
	if value == nil {
		return nil, nil
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}
	var node any
	if err := json.Unmarshal(raw, &node); err != nil {
		return nil, err
	}
	return t.prune(node), nil
}

func (t *memTree) prune(node any) any {
	switch v := node.(type) {
	case map[string]any:
		if sv, ok := v[".sv"]; ok && len(v) == 1 && sv == "timestamp" {
			return float64(t.now())
		}
		for k, child := range v {
			if c := t.prune(child); c == nil {
				delete(v, k)
			} else {
				v[k] = c
			}
		}
		if len(v) == 0 {
			return nil
		}
		return v
	case []any:
		out := make([]any, 0, len(v))
		for _, child := range v {
			if c := t.prune(child); c != nil {
				out = append(out, c)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return v
	}
}

func (t *memTree) getAt(segs []string) any {
	node := t.root
	for _, seg := range segs {
		m, ok := node.(map[string]any)
		if !ok {
			return nil
		}
		node = m[seg]
	}
	return node
}

func setAt(root any, segs []string, value any) any {
	if len(segs) == 0 {
		return value
	}
	m, ok := root.(map[string]any)
	if !ok {
		m = make(map[string]any)
	}
	m[segs[0]] = setAt(m[segs[0]], segs[1:], value)
	return m
}

func removeAt(root any, segs []string) any {
	if len(segs) == 0 {
		return nil
	}
	m, ok := root.(map[string]any)
	if !ok {
		return root
	}
	if child := removeAt(m[segs[0]], segs[1:]); child == nil {
		delete(m, segs[0])
	} else {
		m[segs[0]] = child
	}
	if len(m) == 0 {
		return nil
	}
	return m
}

// pathsOverlap reports whether one path is an ancestor of (or equal
// to) the other, i.e. a write at one is visible at the other.
func pathsOverlap(a, b []string) bool {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

var _ Store = (*MemoryStore)(nil)

// String helps debugging test failures; not used by production code.
func (s *MemoryStore) String() string {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	raw, _ := json.Marshal(s.t.root)
	return "memorystore " + strings.TrimSpace(string(raw))
}
