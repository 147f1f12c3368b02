package com

import (
	"errors"
	"sync"
)

// Map defines a concurrent-safe map structure.
type Map[K comparable, V any] struct {
	m  map[K]V
	mu sync.Mutex
}

var ErrNotFound = errors.New("not found")

func NewMap[K comparable, V any]() Map[K, V] { return Map[K, V]{m: make(map[K]V, 10)} }

func (m *Map[K, _]) Has(key K) bool    { _, err := m.Find(key); return err == nil }
func (m *Map[_, _]) IsEmpty() bool     { m.mu.Lock(); defer m.mu.Unlock(); return len(m.m) == 0 }
func (m *Map[_, _]) Len() int          { m.mu.Lock(); defer m.mu.Unlock(); return len(m.m) }
func (m *Map[K, T]) Put(key K, v T)    { m.mu.Lock(); m.m[key] = v; m.mu.Unlock() }
func (m *Map[K, _]) RemoveByKey(key K) { m.mu.Lock(); delete(m.m, key); m.mu.Unlock() }

// GetOrPut returns the value under the key or inserts the one made by
// fn, holding the lock across the check and the insert. The second
// result reports whether a new value was inserted.
func (m *Map[K, T]) GetOrPut(key K, fn func() T) (T, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.m[key]; ok {
		return v, false
	}
	v := fn()
	m.m[key] = v
	return v, true
}

// Find searches for the first match by a specified key value,
// returns ErrNotFound otherwise.
func (m *Map[K, T]) Find(key K) (v T, err error) {
	var empty K
	if key == empty {
		return v, ErrNotFound
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.m[key]; ok {
		return c, nil
	}
	return v, ErrNotFound
}

// FindBy searches the first key-value with the provided predicate function.
func (m *Map[K, T]) FindBy(fn func(v T) bool) (v T, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.m {
		if fn(w) {
			return w, nil
		}
	}
	return v, ErrNotFound
}

// ForEach processes every element with the provided callback function.
func (m *Map[K, T]) ForEach(fn func(v T)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, w := range m.m {
		fn(w)
	}
}
