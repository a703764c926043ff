package keystore

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/DVDAndroid/shoelace/internal/database"
)

// Backendの識別名。設定値（PROXY_BACKEND）としても使う。
const (
	BackendMemory   = "memory"
	BackendRedis    = "redis"
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
)

// Options はOpenに渡すBackend選択と構築パラメータ。
// Backendごとに必要な項目だけを参照する。
type Options struct {
	Backend     string
	RedisURL    string // redis
	BadgerPath  string // badger
	DatabaseURL string // postgres
	MaxConns    int    // postgres接続プールの上限。0以下で既定値
	Prefix      string
	Logger      *slog.Logger
	Recorder    Recorder
}

// Open は設定で選択されたBackendを構築し、Keystoreを返す。
// 外部サービスやパスに到達できない場合は起動エラーとして返す。
func Open(ctx context.Context, opts Options) (*Keystore, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var (
		backend Backend
		err     error
	)

	switch opts.Backend {
	case BackendMemory, "":
		backend = NewMemoryBackend()
	case BackendRedis:
		backend, err = NewRedisBackend(ctx, opts.RedisURL)
	case BackendBadger:
		backend, err = NewBadgerBackend(opts.BadgerPath, logger)
	case BackendPostgres:
		backend, err = openPostgres(ctx, opts.DatabaseURL, opts.MaxConns)
	default:
		return nil, fmt.Errorf("keystore: unknown backend %q", opts.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("keystore: open %s backend: %w", opts.Backend, err)
	}

	logger.Info("keystore backend opened",
		slog.String("backend", backend.Name()),
	)

	return New(backend, opts.Prefix, opts.Recorder), nil
}

// openPostgres はデータベース接続を開いてPostgresBackendを生成する。
func openPostgres(ctx context.Context, databaseURL string, maxConns int) (Backend, error) {
	db, err := database.Open(databaseURL, maxConns)
	if err != nil {
		return nil, err
	}

	backend, err := NewPostgresBackend(ctx, db)
	if err != nil {
		db.Close()
		return nil, err
	}
	return backend, nil
}
