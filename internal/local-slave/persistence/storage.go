// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"fmt"
	"log/slog"

	"github.com/ffutop/modbus-iomodule/internal/config"
)

// Storage defines the interface for persisting the retained I/O state.
type Storage interface {
	// Load maps the stored state. A medium that was never written returns
	// a State whose Valid reports false.
	Load() (*State, error)

	// Save makes the current contents of s durable.
	Save(s *State) error

	Close() error
}

// Open creates and loads the storage selected by cfg. If the medium cannot be
// loaded it falls back to memory so the module still starts.
func Open(cfg config.PersistenceConfig) (Storage, *State, error) {
	var storage Storage
	switch cfg.Type {
	case "file":
		slog.Info("Retaining I/O state with file persistence", "path", cfg.Path)
		storage = NewFileStorage(cfg.Path)
	case "mmap":
		slog.Info("Retaining I/O state with MMAP persistence", "path", cfg.Path)
		storage = NewMmapStorage(cfg.Path)
	case "", "memory":
		slog.Info("I/O state is not retained across restarts")
		storage = NewMemoryStorage()
	default:
		return nil, nil, fmt.Errorf("unknown persistence type %q", cfg.Type)
	}

	state, err := storage.Load()
	if err != nil {
		slog.Error("Failed to load retained state, falling back to memory", "err", err)
		storage = NewMemoryStorage()
		state, _ = storage.Load()
	}
	return storage, state, nil
}
