package keystore

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound はResolveで参照に対応するエントリが存在しない場合のエラー。
var ErrNotFound = errors.New("keystore: entry not found")

// ErrPruneUnsupported は古いエントリの削除に対応していないBackendでPruneを呼んだ場合のエラー。
var ErrPruneUnsupported = errors.New("keystore: backend does not support pruning")

// Pruner は作成日時を記録し、古いエントリを削除できるBackendが実装する。
// エントリの寿命はBackend側の関心事であり、Keystoreの契約には含めない。
type Pruner interface {
	// Prune はbeforeより前に作成されたエントリを削除し、削除件数を返す。
	Prune(ctx context.Context, before time.Time) (int64, error)
}

// Backend はキーとオリジンURLの対応を保存するストレージのインターフェース。
// 実装はgoroutineセーフでなければならない。
type Backend interface {
	// Name はメトリクスとログに使うBackendの識別名を返す。
	Name() string

	// Put はキーにオリジンURLを保存する。既存キーは黙って上書きする。
	Put(ctx context.Context, key Key, originURL string) error

	// Get はキーに対応するオリジンURLを返す。存在しない場合はfound=falseを返す。
	Get(ctx context.Context, key Key) (originURL string, found bool, err error)

	// Exists はキーが保存済みかどうかを返す。
	Exists(ctx context.Context, key Key) (bool, error)

	// Close はBackendが保持する接続やファイルを解放する。
	Close() error
}

// BackendError は外部Backend（Redis、Badger、PostgreSQL）の接続・I/O失敗を表す。
type BackendError struct {
	Backend string // Backend名
	Op      string // put, get, exists, open, prune
	Key     Key
	Err     error
}

// Error はerrorインターフェースを実装する。
func (e *BackendError) Error() string {
	if e.Key == "" {
		return fmt.Sprintf("%s backend: %s: %v", e.Backend, e.Op, e.Err)
	}
	return fmt.Sprintf("%s backend: %s %s: %v", e.Backend, e.Op, e.Key, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *BackendError) Unwrap() error {
	return e.Err
}
