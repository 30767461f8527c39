package treestore

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"firebase.google.com/go/v4/db"
	"firebase.google.com/go/v4/errorutils"
)

// FirebaseStore adapts the Realtime Database Admin client to the Store
// interface.
//
// Two primitives need emulation because the Admin SDK does not expose
// them: Subscribe is a polling watcher (the SDK has no streaming
// listener), and OnDisconnectSet keeps the deferred writes locally and
// commits them when Disconnect is called. The session registry calls
// Disconnect when a client session expires, which is the
// heartbeat-expiry fallback for native on-disconnect semantics.
type FirebaseStore struct {
	client       *db.Client
	pollInterval time.Duration

	mu           sync.Mutex
	deferred     []*deferredWrite
	watchers     []func()
	disconnected bool
}

// NewFirebase wraps an initialized Realtime Database client.
// pollInterval controls how often subscriptions re-read their path;
// zero selects a 2s default.
func NewFirebase(client *db.Client, pollInterval time.Duration) *FirebaseStore {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &FirebaseStore{client: client, pollInterval: pollInterval}
}

// Handle returns a sibling connection with its own subscriptions and
// disconnect set.
func (s *FirebaseStore) Handle() Store {
	return &FirebaseStore{client: s.client, pollInterval: s.pollInterval}
}

func (s *FirebaseStore) Get(ctx context.Context, path string, v any) (bool, error) {
	var node any
	if err := s.client.NewRef(path).Get(ctx, &node); err != nil {
		return false, classify("get", path, err)
	}
	if node == nil {
		return false, nil
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return false, fmt.Errorf("treestore: encode %q: %w", path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return false, fmt.Errorf("treestore: decode %q: %w", path, err)
	}
	return true, nil
}

func (s *FirebaseStore) Set(ctx context.Context, path string, value any) error {
	if err := s.client.NewRef(path).Set(ctx, value); err != nil {
		return classify("set", path, err)
	}
	return nil
}

func (s *FirebaseStore) Remove(ctx context.Context, path string) error {
	if err := s.client.NewRef(path).Delete(ctx); err != nil {
		return classify("remove", path, err)
	}
	return nil
}

func (s *FirebaseStore) Transact(ctx context.Context, path string, fn UpdateFn) error {
	err := s.client.NewRef(path).Transaction(ctx, func(node db.TransactionNode) (any, error) {
		var cur any
		if err := node.Unmarshal(&cur); err != nil {
			return nil, err
		}
		var raw json.RawMessage
		if cur != nil {
			b, err := json.Marshal(cur)
			if err != nil {
				return nil, err
			}
			raw = b
		}
		return fn(raw)
	})
	if err != nil {
		return classify("transact", path, err)
	}
	return nil
}

// Subscribe polls the path and pushes a snapshot whenever its JSON
// changes. The initial snapshot is delivered before Subscribe returns.
func (s *FirebaseStore) Subscribe(path string, onChange func(json.RawMessage), onError func(error)) (func(), error) {
	initCtx, cancelInit := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelInit()
	last, err := s.snapshot(initCtx, path)
	if err != nil {
		return nil, err
	}
	onChange(last)

	stop := make(chan struct{})
	var once sync.Once
	cancel := func() { once.Do(func() { close(stop) }) }

	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return nil, fmt.Errorf("subscribe %q: %w", path, ErrUnavailable)
	}
	s.watchers = append(s.watchers, cancel)
	s.mu.Unlock()

	go func() {
		ticker := time.NewTicker(s.pollInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
			}
			ctx, cancel := context.WithTimeout(context.Background(), s.pollInterval)
			snap, err := s.snapshot(ctx, path)
			cancel()
			if err != nil {
				if onError != nil {
					onError(err)
				}
				if isPermissionDenied(err) {
					return // listener is dead, same as a server-side cancel
				}
				continue
			}
			if !bytes.Equal(snap, last) {
				last = snap
				onChange(snap)
			}
		}
	}()

	return cancel, nil
}

func (s *FirebaseStore) snapshot(ctx context.Context, path string) (json.RawMessage, error) {
	var node any
	if err := s.client.NewRef(path).Get(ctx, &node); err != nil {
		return nil, classify("get", path, err)
	}
	if node == nil {
		return nil, nil
	}
	raw, err := json.Marshal(node)
	if err != nil {
		return nil, fmt.Errorf("treestore: encode %q: %w", path, err)
	}
	return raw, nil
}

func (s *FirebaseStore) OnDisconnectSet(path string, value any) (func(), error) {
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

func (s *FirebaseStore) Disconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.disconnected {
		s.mu.Unlock()
		return nil
	}
	s.disconnected = true
	pending := s.deferred
	s.deferred = nil
	watchers := s.watchers
	s.watchers = nil
	s.mu.Unlock()

	for _, cancel := range watchers {
		cancel()
	}

	var firstErr error
	for _, dw := range pending {
		if dw.canceled {
			continue
		}
		if err := s.Set(ctx, dw.path, dw.value); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func classify(op, path string, err error) error {
	switch {
	case errorutils.IsPermissionDenied(err) || errorutils.IsUnauthenticated(err):
		return fmt.Errorf("%s %q: %w", op, path, ErrPermissionDenied)
	case errorutils.IsUnavailable(err) || errorutils.IsDeadlineExceeded(err):
		return fmt.Errorf("%s %q: %w", op, path, ErrUnavailable)
	case errorutils.IsAborted(err):
		return fmt.Errorf("%s %q: %w", op, path, ErrConflict)
	default:
		return fmt.Errorf("%s %q: %w", op, path, err)
	}
}

func isPermissionDenied(err error) bool {
	return errors.Is(err, ErrPermissionDenied)
}

var _ Store = (*FirebaseStore)(nil)
