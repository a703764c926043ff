package keystore

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresBackend はPostgreSQLのproxy_entriesテーブルに対応を保持するBackend。
// テーブルは database.RunMigrations（migrateサブコマンド）で作成する。
type PostgresBackend struct {
	db *sql.DB
}

// NewPostgresBackend は接続済みの*sql.DBからPostgresBackendを生成する。
// 起動時にPingで疎通を確認し、到達できない場合はエラーを返す。
func NewPostgresBackend(ctx context.Context, db *sql.DB) (*PostgresBackend, error) {
	if err := db.PingContext(ctx); err != nil {
		return nil, &BackendError{Backend: BackendPostgres, Op: "open", Err: err}
	}
	return &PostgresBackend{db: db}, nil
}

// Name はBackendの識別名を返す。
func (b *PostgresBackend) Name() string {
	return BackendPostgres
}

// Put はキーにオリジンURLを保存する。既存キーは上書きする。
func (b *PostgresBackend) Put(ctx context.Context, key Key, originURL string) error {
	query := `
		INSERT INTO proxy_entries (key, origin_url)
		VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET origin_url = EXCLUDED.origin_url`

	if _, err := b.db.ExecContext(ctx, query, string(key), originURL); err != nil {
		return &BackendError{Backend: BackendPostgres, Op: "put", Key: key, Err: err}
	}
	return nil
}

// Get はキーに対応するオリジンURLを返す。
func (b *PostgresBackend) Get(ctx context.Context, key Key) (string, bool, error) {
	query := `SELECT origin_url FROM proxy_entries WHERE key = $1`

	var originURL string
	err := b.db.QueryRowContext(ctx, query, string(key)).Scan(&originURL)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, &BackendError{Backend: BackendPostgres, Op: "get", Key: key, Err: err}
	}
	return originURL, true, nil
}

// Exists はキーが保存済みかどうかを返す。
func (b *PostgresBackend) Exists(ctx context.Context, key Key) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM proxy_entries WHERE key = $1)`

	var exists bool
	if err := b.db.QueryRowContext(ctx, query, string(key)).Scan(&exists); err != nil {
		return false, &BackendError{Backend: BackendPostgres, Op: "exists", Key: key, Err: err}
	}
	return exists, nil
}

// Prune はbeforeより前に作成されたエントリを削除する。
func (b *PostgresBackend) Prune(ctx context.Context, before time.Time) (int64, error) {
	query := `DELETE FROM proxy_entries WHERE created_at < $1`

	result, err := b.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, &BackendError{Backend: BackendPostgres, Op: "prune", Err: err}
	}

	deleted, err := result.RowsAffected()
	if err != nil {
		return 0, &BackendError{Backend: BackendPostgres, Op: "prune", Err: err}
	}
	return deleted, nil
}

// Close はデータベース接続プールを閉じる。
func (b *PostgresBackend) Close() error {
	return b.db.Close()
}

// compile-time interface check
var (
	_ Backend = (*PostgresBackend)(nil)
	_ Pruner  = (*PostgresBackend)(nil)
)
