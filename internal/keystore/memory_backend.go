package keystore

import (
	"context"
	"sync"
)

// MemoryBackend はプロセス内のマップに対応を保持するBackend。
// プロセス終了とともに内容は失われる。
type MemoryBackend struct {
	mu      sync.RWMutex
	entries map[Key]string
}

// NewMemoryBackend は空のMemoryBackendを生成する。
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		entries: make(map[Key]string),
	}
}

// Name はBackendの識別名を返す。
func (b *MemoryBackend) Name() string {
	return BackendMemory
}

// Put はキーにオリジンURLを保存する。
func (b *MemoryBackend) Put(_ context.Context, key Key, originURL string) error {
	b.mu.Lock()
	b.entries[key] = originURL
	b.mu.Unlock()
	return nil
}

// Get はキーに対応するオリジンURLを返す。
func (b *MemoryBackend) Get(_ context.Context, key Key) (string, bool, error) {
	b.mu.RLock()
	originURL, ok := b.entries[key]
	b.mu.RUnlock()
	return originURL, ok, nil
}

// Exists はキーが保存済みかどうかを返す。
func (b *MemoryBackend) Exists(_ context.Context, key Key) (bool, error) {
	b.mu.RLock()
	_, ok := b.entries[key]
	b.mu.RUnlock()
	return ok, nil
}

// Len は保存済みエントリ数を返す。テストおよびメトリクス用。
func (b *MemoryBackend) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.entries)
}

// Close は何もしない。
func (b *MemoryBackend) Close() error {
	return nil
}

// compile-time interface check
var _ Backend = (*MemoryBackend)(nil)
