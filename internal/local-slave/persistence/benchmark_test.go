// Copyright (c) 2026 Li Jinling. All rights reserved.
// This software may be modified and distributed under the terms
// of the BSD-3 Clause License. See the LICENSE file for details.

package persistence

import (
	"path/filepath"
	"testing"
)

func BenchmarkMemoryStorage_OnOutputChange(b *testing.B) {
	ms := NewMemoryStorage()
	state, _ := ms.Load()
	r := NewRetainer(ms, state)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.OnOutputChange(i%8, i%2 == 0)
	}
}

func BenchmarkFileStorage_OnOutputChange(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_file.bin")
	ms := NewFileStorage(path)
	state, err := ms.Load()
	if err != nil {
		b.Fatalf("Failed to load file storage: %v", err)
	}
	defer ms.Close()
	r := NewRetainer(ms, state)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.OnOutputChange(i%8, i%2 == 0)
	}
}

// BenchmarkMmapStorage_OnOutputChange benchmarks the write-through path (msync).
func BenchmarkMmapStorage_OnOutputChange(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_mmap.bin")
	ms := NewMmapStorage(path)
	state, err := ms.Load()
	if err != nil {
		b.Fatalf("Failed to load mmap storage: %v", err)
	}
	defer ms.Close()
	r := NewRetainer(ms, state)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		r.OnOutputChange(i%8, i%2 == 0)
	}
}

// BenchmarkMmapStorage_Load covers file open, fstat and mmap system calls.
func BenchmarkMmapStorage_Load(b *testing.B) {
	path := filepath.Join(b.TempDir(), "bench_mmap_load.bin")

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		ms := NewMmapStorage(path)
		if _, err := ms.Load(); err != nil {
			b.Fatalf("Load failed: %v", err)
		}
		ms.Close()
	}
}
