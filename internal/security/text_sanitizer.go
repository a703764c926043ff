package security

import (
	"html"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizerService は上流プロバイダーから受け取ったテキストを無害化するインターフェース。
// 投稿本文、自己紹介、表示名、代替テキストに使用する。
type TextSanitizerService interface {
	// Sanitize は全てのHTMLタグを除去したプレーンテキストを返す。
	// 結果はHTMLエスケープされていないため、描画側でエスケープすること。
	Sanitize(raw string) string
}

// textSanitizer はTextSanitizerServiceの実装。
// bluemondayのStrictPolicyは並行利用しても安全。
type textSanitizer struct {
	policy *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerServiceの新しいインスタンスを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{policy: bluemonday.StrictPolicy()}
}

// Sanitize はタグを除去し、StrictPolicyがエスケープした文字実体を元に戻す。
func (s *textSanitizer) Sanitize(raw string) string {
	if raw == "" {
		return ""
	}
	return strings.TrimSpace(html.UnescapeString(s.policy.Sanitize(raw)))
}
