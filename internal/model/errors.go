package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, upstream, proxy, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
	ErrCodePostNotFound      = "POST_NOT_FOUND"
	ErrCodeMediaNotFound     = "MEDIA_NOT_FOUND"
	ErrCodeUpstreamFailed    = "UPSTREAM_FAILED"
	ErrCodeOriginFailed      = "ORIGIN_FAILED"
	ErrCodeOriginBlocked     = "ORIGIN_BLOCKED"
	ErrCodeRewriteFailed     = "REWRITE_FAILED"
	ErrCodeInvalidQuery      = "INVALID_QUERY"
	ErrCodeNotFound          = "NOT_FOUND"
	ErrCodeInternal          = "INTERNAL_ERROR"
	ErrCodeRateLimitExceeded = "RATE_LIMIT_EXCEEDED"
)

// NewUserNotFoundError はユーザー未検出エラーを生成する。
func NewUserNotFoundError(username string) *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  fmt.Sprintf("ユーザーが見つかりません: %s", username),
		Category: "upstream",
		Action:   "ユーザー名を確認してください。",
	}
}

// NewPostNotFoundError は投稿未検出エラーを生成する。
func NewPostNotFoundError(code string) *APIError {
	return &APIError{
		Code:     ErrCodePostNotFound,
		Message:  fmt.Sprintf("投稿が見つかりません: %s", code),
		Category: "upstream",
		Action:   "投稿のURLまたはコードを確認してください。",
	}
}

// NewMediaNotFoundError はプロキシキャッシュに存在しないメディアへのアクセスエラーを生成する。
func NewMediaNotFoundError(key string) *APIError {
	return &APIError{
		Code:     ErrCodeMediaNotFound,
		Message:  fmt.Sprintf("メディアが見つかりません: %s", key),
		Category: "proxy",
		Action:   "ページを再読み込みしてください。",
	}
}

// NewUpstreamFailedError はコンテンツ提供元からの取得失敗エラーを生成する。
func NewUpstreamFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUpstreamFailed,
		Message:  fmt.Sprintf("コンテンツの取得に失敗しました: %s", reason),
		Category: "upstream",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewOriginFailedError はメディアのオリジン取得失敗エラーを生成する。
func NewOriginFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeOriginFailed,
		Message:  fmt.Sprintf("メディアの取得に失敗しました: %s", reason),
		Category: "proxy",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewOriginBlockedError はSSRF防止によりオリジンへのアクセスが拒否された場合のエラーを生成する。
func NewOriginBlockedError() *APIError {
	return &APIError{
		Code:     ErrCodeOriginBlocked,
		Message:  "セキュリティポリシーにより、メディアの取得がブロックされました。",
		Category: "proxy",
		Action:   "管理者に連絡してください。",
	}
}

// NewRewriteFailedError はメディア参照の書き換え失敗エラーを生成する。
func NewRewriteFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeRewriteFailed,
		Message:  "メディアのプロキシ登録に失敗しました。",
		Category: "proxy",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewInvalidQueryError は検索クエリが解釈できない場合のエラーを生成する。
func NewInvalidQueryError(query string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidQuery,
		Message:  fmt.Sprintf("検索クエリを解釈できません: %s", query),
		Category: "validation",
		Action:   "ユーザー名、投稿コード、またはThreadsのURLを入力してください。",
	}
}

// NewNotFoundError は存在しないパスへのアクセスエラーを生成する。
func NewNotFoundError(path string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  fmt.Sprintf("ページが見つかりません: %s", path),
		Category: "validation",
		Action:   "URLを確認してください。",
	}
}

// NewInternalError は内部エラーを生成する。
// 詳細はログのみに記録し、ユーザーには一般的なメッセージを返す。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "内部エラーが発生しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewRateLimitExceededError はレート制限超過エラーを生成する。
func NewRateLimitExceededError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimitExceeded,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-Afterヘッダーの秒数だけ待ってから再度お試しください。",
	}
}
