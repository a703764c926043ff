// Package logger はslogによるJSON構造化ログの初期化を提供する。
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
)

// Setup はJSON構造化ログ出力のslog.Loggerを生成して返す。
func Setup(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	})
	return slog.New(handler)
}

// SetupDefault はINFOレベルのJSON構造化ログをグローバルロガーとして設定する。
// 設定の読み込み前に使い、読み込み後にConfigureで置き換える。
func SetupDefault(w io.Writer) {
	if w == nil {
		w = os.Stdout
	}
	slog.SetDefault(Setup(w, slog.LevelInfo))
}

// ParseLevel はdebug、info、warn、errorのいずれかをslog.Levelに変換する。大文字小文字は区別しない。
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level: %q", s)
}

// Options はConfigureの設定。
type Options struct {
	Level string    // ログレベル
	File  string    // 空でなければwに加えてこのファイルにも追記する
	W     io.Writer // 標準の出力先。nilの場合はos.Stdout
}

// Configure はOptionsに従ってロガーを生成し、グローバルロガーとして設定する。
// 戻り値のcloseはログファイルを閉じる。ファイル出力しない場合も呼んでよい。
func Configure(opts Options) (logger *slog.Logger, closeFn func() error, err error) {
	level, err := ParseLevel(opts.Level)
	if err != nil {
		return nil, nil, err
	}

	w := opts.W
	if w == nil {
		w = os.Stdout
	}
	closeFn = func() error { return nil }

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(opts.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		w = io.MultiWriter(w, f)
		closeFn = f.Close
	}

	logger = Setup(w, level)
	slog.SetDefault(logger)
	return logger, closeFn, nil
}
