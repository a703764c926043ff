package keystore

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// DefaultPrefix はローカル参照のデフォルトのプレフィックス。
const DefaultPrefix = "proxy"

// Store/Resolveの結果としてRecorderへ渡す値。
const (
	OutcomeCreated  = "created"
	OutcomeExisting = "existing"
	OutcomeHit      = "hit"
	OutcomeMiss     = "miss"
	OutcomeError    = "error"
)

// Recorder はKeystoreの操作結果を記録するインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordKeystoreStore(backend, outcome string)
	RecordKeystoreResolve(backend, outcome string)
}

// Keystore は起動時に選択された1つのBackendを包むファサード。
// オリジンURLをローカル参照に変換するStoreと、その逆のResolveを提供する。
// 起動時に1つだけ生成し、全リクエストで共有する。
type Keystore struct {
	backend  Backend
	prefix   string
	recorder Recorder
}

// New はBackendとローカル参照のプレフィックスからKeystoreを生成する。
// prefixが空の場合はDefaultPrefixを使用する。recorderはnilでもよい。
func New(backend Backend, prefix string, recorder Recorder) *Keystore {
	prefix = strings.TrimRight(prefix, "/")
	if prefix == "" {
		prefix = DefaultPrefix
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Keystore{
		backend:  backend,
		prefix:   prefix,
		recorder: recorder,
	}
}

// Prefix はローカル参照のプレフィックスを返す。
func (k *Keystore) Prefix() string {
	return k.prefix
}

// BackendName は使用中のBackendの識別名を返す。
func (k *Keystore) BackendName() string {
	return k.backend.Name()
}

// Reference はキーからローカル参照（<prefix>/<key>）を組み立てる。
func (k *Keystore) Reference(key Key) string {
	return k.prefix + "/" + string(key)
}

// Store はオリジンURLを保存し、ローカル参照を返す。
// 同じURLに対する再呼び出しは同じ参照を返し、エントリを重複させない。
// 保存済みのキーはPutを省略する。Backendのエラーはラップして返す。
func (k *Keystore) Store(ctx context.Context, originURL string) (string, error) {
	key := DeriveKey(originURL)

	exists, err := k.backend.Exists(ctx, key)
	if err != nil {
		k.recorder.RecordKeystoreStore(k.backend.Name(), OutcomeError)
		return "", fmt.Errorf("keystore: store %s: %w", key, err)
	}

	if exists {
		k.recorder.RecordKeystoreStore(k.backend.Name(), OutcomeExisting)
		return k.Reference(key), nil
	}

	if err := k.backend.Put(ctx, key, originURL); err != nil {
		k.recorder.RecordKeystoreStore(k.backend.Name(), OutcomeError)
		return "", fmt.Errorf("keystore: store %s: %w", key, err)
	}

	k.recorder.RecordKeystoreStore(k.backend.Name(), OutcomeCreated)
	return k.Reference(key), nil
}

// Resolve はローカル参照からオリジンURLを返す。
// 参照は <prefix>/<key> 形式のほか、キー単体やキーで終わるパスも受け付ける。
// エントリが存在しない場合はErrNotFoundを返す。
func (k *Keystore) Resolve(ctx context.Context, ref string) (string, error) {
	key := KeyFromReference(k.prefix, ref)
	if key == "" {
		k.recorder.RecordKeystoreResolve(k.backend.Name(), OutcomeMiss)
		return "", fmt.Errorf("keystore: resolve %q: %w", ref, ErrNotFound)
	}

	originURL, found, err := k.backend.Get(ctx, key)
	if err != nil {
		k.recorder.RecordKeystoreResolve(k.backend.Name(), OutcomeError)
		return "", fmt.Errorf("keystore: resolve %s: %w", key, err)
	}
	if !found {
		k.recorder.RecordKeystoreResolve(k.backend.Name(), OutcomeMiss)
		return "", fmt.Errorf("keystore: resolve %s: %w", key, ErrNotFound)
	}

	k.recorder.RecordKeystoreResolve(k.backend.Name(), OutcomeHit)
	return originURL, nil
}

// Prune はmaxAgeより前に作成されたエントリを削除する。
// Backendが削除に対応していない場合はErrPruneUnsupportedを返す。
func (k *Keystore) Prune(ctx context.Context, maxAge time.Duration) (int64, error) {
	p, ok := k.backend.(Pruner)
	if !ok {
		return 0, fmt.Errorf("keystore: prune %s: %w", k.backend.Name(), ErrPruneUnsupported)
	}

	deleted, err := p.Prune(ctx, time.Now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("keystore: prune: %w", err)
	}
	return deleted, nil
}

// Close はBackendを閉じる。
func (k *Keystore) Close() error {
	return k.backend.Close()
}

// KeyFromReference はローカル参照からキー部分を取り出す。
func KeyFromReference(prefix, ref string) Key {
	ref = strings.TrimPrefix(ref, prefix+"/")
	if i := strings.LastIndexByte(ref, '/'); i >= 0 {
		ref = ref[i+1:]
	}
	return Key(ref)
}

type nopRecorder struct{}

func (nopRecorder) RecordKeystoreStore(string, string)   {}
func (nopRecorder) RecordKeystoreResolve(string, string) {}
