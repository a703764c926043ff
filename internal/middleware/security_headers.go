package middleware

import (
	"net/http"
	"net/url"
)

// contentSecurityPolicy はフロントエンドのHTMLに適用するCSPを組み立てる。
// メディアはプロキシ経由でしか読み込まないため、img-srcとmedia-srcには
// 自オリジンとローカル参照のオリジン（BASE_URL）だけを許可する。
func contentSecurityPolicy(mediaOrigin string) string {
	sources := "'self'"
	if mediaOrigin != "" {
		sources += " " + mediaOrigin
	}
	return "default-src 'none'; img-src " + sources + "; media-src " + sources +
		"; style-src 'self' 'unsafe-inline'; form-action 'self'; base-uri 'none'; frame-ancestors 'none'"
}

// originOf はURLのスキームとホスト部分（例: https://shoelace.example）を返す。
// 絶対URLでない場合は空文字列を返す。
func originOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ""
	}
	return u.Scheme + "://" + u.Host
}

// NewSecurityHeadersMiddleware はセキュリティ関連のHTTPレスポンスヘッダーを付与するミドルウェアを返す。
// baseURLはローカル参照の基点で、そのオリジンからのメディア読み込みをCSPで許可する。
func NewSecurityHeadersMiddleware(baseURL string) func(next http.Handler) http.Handler {
	csp := contentSecurityPolicy(originOf(baseURL))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("X-Content-Type-Options", "nosniff")
			w.Header().Set("X-Frame-Options", "DENY")
			w.Header().Set("Referrer-Policy", "no-referrer")
			w.Header().Set("Permissions-Policy", "camera=(), microphone=(), geolocation=(), interest-cohort=()")
			w.Header().Set("Content-Security-Policy", csp)
			next.ServeHTTP(w, r)
		})
	}
}
