// Package handler はHTTPハンドラーとルーティングを提供する。
package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/DVDAndroid/shoelace/internal/keystore"
	"github.com/DVDAndroid/shoelace/internal/model"
	"github.com/DVDAndroid/shoelace/internal/proxy"
	"github.com/DVDAndroid/shoelace/internal/rewrite"
	"github.com/DVDAndroid/shoelace/internal/security"
	"github.com/DVDAndroid/shoelace/internal/threads"
)

// classifyError はサービス層から返されたエラーをHTTPステータスコードとAPIErrorに変換する。
// notFoundはユーザー・投稿・メディアが存在しない場合に返すエラー。
func classifyError(err error, notFound *model.APIError) (int, *model.APIError) {
	var mediaErr *rewrite.MediaError

	switch {
	case errors.Is(err, threads.ErrNotFound), errors.Is(err, keystore.ErrNotFound):
		return http.StatusNotFound, notFound
	case errors.Is(err, threads.ErrUpstream):
		return http.StatusBadGateway, model.NewUpstreamFailedError("プロバイダーから正しい応答がありません")
	case errors.Is(err, security.ErrBlockedOrigin):
		return http.StatusForbidden, model.NewOriginBlockedError()
	case errors.Is(err, proxy.ErrTooLarge):
		return http.StatusBadGateway, model.NewOriginFailedError("サイズの上限を超えています")
	case errors.Is(err, proxy.ErrOrigin):
		return http.StatusBadGateway, model.NewOriginFailedError("オリジンが応答しません")
	case errors.As(err, &mediaErr):
		return http.StatusInternalServerError, model.NewRewriteFailedError()
	default:
		return http.StatusInternalServerError, model.NewInternalError()
	}
}

// logServiceError は5xxに分類されたエラーの詳細をログに記録する。
// ユーザーには一般的なメッセージのみを返す。
func logServiceError(logger *slog.Logger, r *http.Request, status int, err error) {
	if status < http.StatusInternalServerError {
		return
	}
	logger.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", status),
		slog.String("error", err.Error()),
	)
}
