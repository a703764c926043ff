package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/DVDAndroid/shoelace/internal/middleware"
	"github.com/DVDAndroid/shoelace/internal/model"
	"github.com/DVDAndroid/shoelace/internal/proxy"
)

// proxyCacheControl はプロキシ配信のCache-Control。
// キーはオリジンURLから決定的に導出されるため、同じキーの内容は変わらない。
const proxyCacheControl = "public, max-age=31536000, immutable"

// MediaOpener はキーからメディア本体を開くインターフェース。
// proxy.Serviceが実装する。
type MediaOpener interface {
	Open(ctx context.Context, key string) (*proxy.Media, error)
}

// ProxyHandler はローカル参照のメディアを中継するHTTPハンドラー。
type ProxyHandler struct {
	opener MediaOpener
	logger *slog.Logger
}

// NewProxyHandler はProxyHandlerを生成する。
func NewProxyHandler(opener MediaOpener, logger *slog.Logger) *ProxyHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &ProxyHandler{opener: opener, logger: logger}
}

// ServeMedia はキーに対応するオリジンのメディアを中継する。
// GET /proxy/{key}
func (h *ProxyHandler) ServeMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "key")

	media, err := h.opener.Open(r.Context(), key)
	if err != nil {
		status, apiErr := classifyError(err, model.NewMediaNotFoundError(key))
		logServiceError(h.logger, r, status, err)
		middleware.WriteErrorResponse(w, status, apiErr)
		return
	}
	defer media.Body.Close()

	w.Header().Set("Content-Type", media.ContentType)
	if media.Size >= 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(media.Size, 10))
	}
	w.Header().Set("Cache-Control", proxyCacheControl)
	w.WriteHeader(http.StatusOK)

	if r.Method == http.MethodHead {
		return
	}

	// ヘッダー送信後の失敗はステータスを変えられないため、ログのみ残して接続を切る
	if n, err := io.Copy(w, media.Body); err != nil {
		h.logger.Warn("メディアの中継が途中で失敗しました",
			slog.String("key", key),
			slog.Int64("bytes", n),
			slog.String("error", err.Error()),
		)
		panic(http.ErrAbortHandler)
	}
}
