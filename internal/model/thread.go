// Package model はドメインモデルを定義する。
package model

import "time"

// MediaKind はメディアの種類を表す。
type MediaKind string

const (
	// MediaKindImage は静止画。
	MediaKindImage MediaKind = "image"
	// MediaKindVideo は動画。Thumbnailにサムネイル画像のURLを持つ。
	MediaKindVideo MediaKind = "video"
)

// Media は投稿に埋め込まれたメディアを表す。
// 取得直後のContent/Thumbnailはオリジン（CDN）のURLで、
// 書き換え後はプロキシ経由のローカル参照になる。
type Media struct {
	Kind      MediaKind `json:"kind"`
	Alt       string    `json:"alt,omitempty"`
	Content   string    `json:"content"`
	Thumbnail string    `json:"thumbnail"`
}

// Author は投稿の作成者を表す。
// PFPはプロフィール画像のURL。
type Author struct {
	Username string `json:"username"`
	PFP      string `json:"pfp"`
	Verified bool   `json:"verified"`
}

// Subpost は親投稿・返信・ユーザーページの投稿一覧の1件を表す。
type Subpost struct {
	Code   string    `json:"code"`
	Author Author    `json:"author"`
	Date   time.Time `json:"date"`
	Body   string    `json:"body"`
	Media  []Media   `json:"media"`
	Likes  int       `json:"likes"`
}

// Post は単一投稿の取得結果（スレッド全体）を表す。
// Parentsは祖先チェーン（古い順）、Repliesは返信（表示順）。
type Post struct {
	ID      string    `json:"id"`
	Code    string    `json:"code"`
	Author  Author    `json:"author"`
	Date    time.Time `json:"date"`
	Body    string    `json:"body"`
	Media   []Media   `json:"media"`
	Likes   int       `json:"likes"`
	Parents []Subpost `json:"parents"`
	Replies []Subpost `json:"replies"`
}

// User はユーザープロフィールと投稿一覧を表す。
type User struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	Username  string    `json:"username"`
	Verified  bool      `json:"verified"`
	Bio       string    `json:"bio"`
	PFP       string    `json:"pfp"`
	Followers int       `json:"followers"`
	Links     []string  `json:"links"`
	Posts     []Subpost `json:"posts"`
}
