package keystore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v3"
)

// badgerKeyPrefix はBadger内でエントリのキーに付与する名前空間。
var badgerKeyPrefix = []byte("proxy/")

// BadgerBackend はBadgerDB（組み込みの順序付きKVストア）に対応を保持するBackend。
// 起動時にデータディレクトリを排他的に開き、プロセス終了まで保持する。
// 同じディレクトリを別プロセスが開いている場合、Badgerのディレクトリロックにより起動に失敗する。
type BadgerBackend struct {
	db *badger.DB
}

// NewBadgerBackend は指定パスのBadgerDBを開いてBadgerBackendを生成する。
// ディレクトリが存在しない場合は作成する。
func NewBadgerBackend(path string, logger *slog.Logger) (*BadgerBackend, error) {
	if path == "" {
		return nil, &BackendError{Backend: BackendBadger, Op: "open", Err: errors.New("data path is empty")}
	}

	if err := os.MkdirAll(path, 0700); err != nil {
		return nil, &BackendError{Backend: BackendBadger, Op: "open", Err: fmt.Errorf("create data dir: %w", err)}
	}

	opts := badger.DefaultOptions(path).
		WithLogger(newBadgerLogger(logger)).
		WithNumVersionsToKeep(1)

	// エントリはURL文字列のみで小さいため、キャッシュは控えめにする
	opts.BlockCacheSize = 16 << 20
	opts.IndexCacheSize = 16 << 20

	db, err := badger.Open(opts)
	if err != nil {
		return nil, &BackendError{Backend: BackendBadger, Op: "open", Err: err}
	}

	return &BadgerBackend{db: db}, nil
}

// Name はBackendの識別名を返す。
func (b *BadgerBackend) Name() string {
	return BackendBadger
}

// Put はキーにオリジンURLを保存する。
func (b *BadgerBackend) Put(_ context.Context, key Key, originURL string) error {
	err := b.db.Update(func(txn *badger.Txn) error {
		return txn.Set(badgerKey(key), []byte(originURL))
	})
	if err != nil {
		return &BackendError{Backend: BackendBadger, Op: "put", Key: key, Err: err}
	}
	return nil
}

// Get はキーに対応するオリジンURLを返す。
func (b *BadgerBackend) Get(_ context.Context, key Key) (string, bool, error) {
	var value []byte
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(badgerKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return "", false, nil
		}
		return "", false, &BackendError{Backend: BackendBadger, Op: "get", Key: key, Err: err}
	}
	return string(value), true, nil
}

// Exists はキーが保存済みかどうかを返す。
func (b *BadgerBackend) Exists(_ context.Context, key Key) (bool, error) {
	err := b.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(badgerKey(key))
		return err
	})
	if err != nil {
		if errors.Is(err, badger.ErrKeyNotFound) {
			return false, nil
		}
		return false, &BackendError{Backend: BackendBadger, Op: "exists", Key: key, Err: err}
	}
	return true, nil
}

// Close はBadgerDBを閉じ、ディレクトリロックを解放する。
func (b *BadgerBackend) Close() error {
	return b.db.Close()
}

// badgerKey は名前空間付きのBadgerキーを組み立てる。
func badgerKey(key Key) []byte {
	k := make([]byte, 0, len(badgerKeyPrefix)+len(key))
	k = append(k, badgerKeyPrefix...)
	return append(k, key...)
}

// badgerLogger はBadgerのログ出力をslogへ転送する。
type badgerLogger struct {
	logger *slog.Logger
}

func newBadgerLogger(logger *slog.Logger) *badgerLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &badgerLogger{logger: logger.With(slog.String("component", "badger"))}
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(badgerMessage(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(badgerMessage(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(badgerMessage(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(badgerMessage(format, args...))
}

// badgerMessage はBadgerが付与する末尾の改行を取り除く。
func badgerMessage(format string, args ...interface{}) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}

// compile-time interface check
var (
	_ Backend       = (*BadgerBackend)(nil)
	_ badger.Logger = (*badgerLogger)(nil)
)
