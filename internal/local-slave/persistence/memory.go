// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

// MemoryStorage is a no-op storage (non-persistent).
type MemoryStorage struct{}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

func (ms *MemoryStorage) Load() (*State, error) {
	return mapBytesToState(make([]byte, totalSize)), nil
}

func (ms *MemoryStorage) Save(*State) error {
	return nil
}

func (ms *MemoryStorage) Close() error {
	return nil
}
