// Package keystore はメディアのオリジンURLとローカル参照の対応を保持するキャッシュを提供する。
//
// オリジンURLからキーを決定的に導出し、設定で選択された1つのBackendに保存する。
// 生成されるローカル参照（<prefix>/<key>）はレスポンスに埋め込まれ、
// プロキシ配信時にResolveでオリジンURLへ戻される。
package keystore

import (
	"crypto/sha256"
	"encoding/hex"
)

// KeyLength はキーの文字数（SHA-256の16進表現）。
const KeyLength = sha256.Size * 2

// Key はオリジンURLから導出されるキャッシュキー。
// URLパスのセグメントとしてそのまま使える小文字16進文字列。
type Key string

// DeriveKey はオリジンURLのバイト列のSHA-256ダイジェストからキーを導出する。
// 純粋関数であり、プロセスの再起動をまたいでも同じURLには同じキーを返す。
func DeriveKey(originURL string) Key {
	sum := sha256.Sum256([]byte(originURL))
	return Key(hex.EncodeToString(sum[:]))
}

// String はキーの文字列表現を返す。
func (k Key) String() string {
	return string(k)
}
