package handler

import (
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"

	"github.com/DVDAndroid/shoelace/internal/threads"
)

// threadsDomains は/findがリンクとして受け付ける登録ドメイン。
var threadsDomains = map[string]bool{
	"threads.net": true,
	"threads.com": true,
}

// resolveQuery は検索クエリをフロントエンドのパスに変換する。
//
// 受け付ける形式:
//   - @username または username → /@username
//   - threads.net / threads.com のリンク（/@user, /@user/post/CODE, /t/CODE）
//   - それ以外でユーザー名として不正なもののうち投稿コードとして正しいもの → /t/CODE
func resolveQuery(q string) (string, bool) {
	q = strings.TrimSpace(q)
	if q == "" {
		return "", false
	}

	if looksLikeLink(q) {
		return resolveLink(q)
	}

	if strings.HasPrefix(q, "@") {
		name := strings.TrimPrefix(q, "@")
		if !threads.ValidUsername(name) {
			return "", false
		}
		return "/@" + name, true
	}

	if threads.ValidUsername(q) {
		return "/@" + q, true
	}
	if threads.ValidCode(q) {
		return "/t/" + q, true
	}
	return "", false
}

// looksLikeLink はクエリがURLとして書かれているかを判定する。
// スキームまたはパスを含むもの、ホスト部がthreadsの登録ドメインに属するものをリンクとみなす。
func looksLikeLink(q string) bool {
	if strings.Contains(q, "://") || strings.Contains(q, "/") {
		return true
	}
	return isThreadsHost(q)
}

func resolveLink(q string) (string, bool) {
	if !strings.Contains(q, "://") {
		q = "https://" + q
	}

	u, err := url.Parse(q)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	if !isThreadsHost(u.Hostname()) {
		return "", false
	}

	segments := strings.FieldsFunc(u.Path, func(r rune) bool { return r == '/' })

	switch {
	case len(segments) == 1 && strings.HasPrefix(segments[0], "@"):
		name := strings.TrimPrefix(segments[0], "@")
		if threads.ValidUsername(name) {
			return "/@" + name, true
		}
	case len(segments) == 3 && strings.HasPrefix(segments[0], "@") && segments[1] == "post":
		name := strings.TrimPrefix(segments[0], "@")
		if threads.ValidUsername(name) && threads.ValidCode(segments[2]) {
			return "/@" + name + "/post/" + segments[2], true
		}
	case len(segments) == 2 && segments[0] == "t":
		if threads.ValidCode(segments[1]) {
			return "/t/" + segments[1], true
		}
	}
	return "", false
}

// isThreadsHost はホストがthreads.net / threads.com またはそのサブドメインかを判定する。
func isThreadsHost(host string) bool {
	host = strings.TrimSuffix(strings.ToLower(host), ".")
	domain, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	return threadsDomains[domain]
}
