package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// Value is a typed handle on one setting. It caches the current value,
// falls back to a default that is never written to storage, and notifies
// subscribers after every successful write.
//
// Writes go to storage first and update the cache only on success, so the
// cached value never gets ahead of what is persisted.
type Value[T any] struct {
	store *Store
	key   string
	def   T

	mu      sync.RWMutex
	data    T
	loaded  bool
	loading bool
	subs    map[int]func(T)
	nextSub int
}

// NewValue creates a handle on key with the given default. Call Load
// before reading Data, or use MustLoad at startup.
func NewValue[T any](store *Store, key string, def T) *Value[T] {
	return &Value[T]{
		store: store,
		key:   key,
		def:   def,
		data:  def,
		subs:  map[int]func(T){},
	}
}

// Load reads the setting from storage. An absent key leaves the default
// in place without persisting it. A stored value that no longer decodes
// into T (written by an older version, or by hand) is treated the same
// way, so a stale value cannot brick startup.
func (v *Value[T]) Load(ctx context.Context) error {
	v.mu.Lock()
	v.loading = true
	v.mu.Unlock()

	var data T
	found, err := v.store.Get(ctx, v.key, &data)
	if errors.Is(err, ErrMalformedValue) {
		found, err = false, nil
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	v.loading = false
	if err != nil {
		return err
	}
	if found {
		v.data = data
	} else {
		v.data = v.def
	}
	v.loaded = true
	return nil
}

// MustLoad is Load for startup paths where a read failure is fatal.
func (v *Value[T]) MustLoad(ctx context.Context) {
	if err := v.Load(ctx); err != nil {
		panic(fmt.Sprintf("settings: load %q: %v", v.key, err))
	}
}

// Data returns the cached value, or the default before the first Load.
func (v *Value[T]) Data() T {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.data
}

// Loading reports whether a Load is in flight.
func (v *Value[T]) Loading() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loading
}

// Loaded reports whether the value has been read from storage at least
// once.
func (v *Value[T]) Loaded() bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.loaded
}

// Set persists data and then updates the cache and notifies subscribers.
// On a write failure the cache keeps its previous value.
func (v *Value[T]) Set(ctx context.Context, data T) error {
	if err := v.store.Set(ctx, v.key, data); err != nil {
		return err
	}

	v.mu.Lock()
	v.data = data
	v.loaded = true
	subs := make([]func(T), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		fn(data)
	}
	return nil
}

// Update applies fn to the current value and persists the result.
func (v *Value[T]) Update(ctx context.Context, fn func(T) T) error {
	return v.Set(ctx, fn(v.Data()))
}

// Reset deletes the stored value and restores the default.
func (v *Value[T]) Reset(ctx context.Context) error {
	if err := v.store.Delete(ctx, v.key); err != nil {
		return err
	}

	v.mu.Lock()
	v.data = v.def
	subs := make([]func(T), 0, len(v.subs))
	for _, fn := range v.subs {
		subs = append(subs, fn)
	}
	v.mu.Unlock()

	for _, fn := range subs {
		fn(v.def)
	}
	return nil
}

// Subscribe registers fn to run after every successful Set or Reset. The
// returned function unsubscribes.
func (v *Value[T]) Subscribe(fn func(T)) func() {
	v.mu.Lock()
	id := v.nextSub
	v.nextSub++
	v.subs[id] = fn
	v.mu.Unlock()

	return func() {
		v.mu.Lock()
		delete(v.subs, id)
		v.mu.Unlock()
	}
}
