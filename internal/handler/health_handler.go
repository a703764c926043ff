package handler

import "net/http"

// healthResponse はヘルスチェックのレスポンス。
type healthResponse struct {
	Status  string `json:"status"`
	Backend string `json:"backend,omitempty"`
	Version string `json:"version,omitempty"`
}

// NewHealthHandler はプロセスの稼働確認用ハンドラーを返す。
// キーストアへの疎通は起動時に確認済みのため、ここでは行わない。
// GET /health
func NewHealthHandler(backend, version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-store")
		writeJSON(w, healthResponse{Status: "ok", Backend: backend, Version: version})
	}
}
