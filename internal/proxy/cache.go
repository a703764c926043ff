package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/allegro/bigcache/v3"
)

const (
	// cacheShards はbigcacheのシャード数。
	// HardMaxCacheSizeはシャード数で等分されるため、メディア1件が1シャードに収まるよう少なめにする。
	cacheShards = 16
	// typicalEntrySize は初期確保量の見積もりに使うメディア1件の大きさ。
	typicalEntrySize = 64 * 1024
)

// Cache はオリジンから取得したメディア本体を保持するインメモリのバイトキャッシュ。
// キーはキーストアのキー（オリジンURLのハッシュ）で、値はContent-Typeと本体。
type Cache struct {
	bc       *bigcache.BigCache
	maxEntry int
}

// NewCache はCacheを生成する。sizeMBはキャッシュ全体の上限、
// maxEntryはキャッシュする本体の最大バイト数。
func NewCache(ctx context.Context, sizeMB int, ttl time.Duration, maxEntry int) (*Cache, error) {
	if sizeMB <= 0 {
		return nil, fmt.Errorf("cache size must be positive: %d", sizeMB)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}

	cfg := bigcache.DefaultConfig(ttl)
	cfg.Shards = cacheShards
	cfg.HardMaxCacheSize = sizeMB
	cfg.MaxEntriesInWindow = sizeMB * 4
	cfg.MaxEntrySize = typicalEntrySize
	cfg.CleanWindow = ttl / 2
	cfg.Verbose = false

	bc, err := bigcache.New(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("create byte cache: %w", err)
	}
	return &Cache{bc: bc, maxEntry: maxEntry}, nil
}

// Fits はsizeバイトの本体をキャッシュ対象とするかを返す。
func (c *Cache) Fits(size int64) bool {
	return size > 0 && size <= int64(c.maxEntry)
}

// Get はキャッシュされたContent-Typeと本体を返す。
func (c *Cache) Get(key string) (string, []byte, bool) {
	entry, err := c.bc.Get(key)
	if err != nil {
		return "", nil, false
	}
	i := bytes.IndexByte(entry, 0)
	if i < 0 {
		return "", nil, false
	}
	return string(entry[:i]), entry[i+1:], true
}

// Set は本体をキャッシュする。
func (c *Cache) Set(key, contentType string, body []byte) error {
	entry := make([]byte, 0, len(contentType)+1+len(body))
	entry = append(entry, contentType...)
	entry = append(entry, 0)
	entry = append(entry, body...)
	return c.bc.Set(key, entry)
}

// Close はキャッシュのバックグラウンド処理を停止する。
func (c *Cache) Close() error {
	if err := c.bc.Close(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
