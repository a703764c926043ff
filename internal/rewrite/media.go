// Package rewrite は取得したユーザー・投稿・スレッドに含まれるメディアURLを
// プロキシ経由のローカル参照に書き換える。
package rewrite

import (
	"context"
	"errors"
	"fmt"

	"github.com/DVDAndroid/shoelace/internal/model"
)

// メディアのフィールド名。MediaError.Fieldに入る。
const (
	FieldContent   = "content"
	FieldThumbnail = "thumbnail"
	FieldPFP       = "pfp"
)

// Storer はオリジンURLをローカル参照に変換するインターフェース。
// keystore.Keystoreが実装する。
type Storer interface {
	Store(ctx context.Context, originURL string) (string, error)
}

// MediaError はメディア参照1件の書き換え失敗を表す。
type MediaError struct {
	Field  string // content, thumbnail, pfp
	Origin string // 書き換えできなかったオリジンURL
	Err    error
}

// Error はerrorインターフェースを実装する。
func (e *MediaError) Error() string {
	return fmt.Sprintf("rewrite %s %s: %v", e.Field, e.Origin, e.Err)
}

// Unwrap は元のエラーを返す。
func (e *MediaError) Unwrap() error {
	return e.Err
}

// Rewriter はメディア1件のContentとThumbnailをローカル参照に書き換える。
type Rewriter struct {
	store Storer
}

// NewRewriter はRewriterを生成する。
func NewRewriter(store Storer) *Rewriter {
	return &Rewriter{store: store}
}

// RewriteMedia はContentとThumbnailをそれぞれ独立にStoreし、成功したフィールドだけを書き換える。
// 片方が失敗した場合、メディアはオリジンURLとローカル参照が混在した状態のまま残り、
// 失敗分を*MediaErrorとして返す。空のURLは書き換えない。
func (r *Rewriter) RewriteMedia(ctx context.Context, m *model.Media) error {
	var errs []error

	if ref, err := r.storeURL(ctx, FieldContent, m.Content); err != nil {
		errs = append(errs, err)
	} else {
		m.Content = ref
	}

	if ref, err := r.storeURL(ctx, FieldThumbnail, m.Thumbnail); err != nil {
		errs = append(errs, err)
	} else {
		m.Thumbnail = ref
	}

	return errors.Join(errs...)
}

// RewritePFP はプロフィール画像のURLを書き換えたローカル参照を返す。
func (r *Rewriter) RewritePFP(ctx context.Context, pfp string) (string, error) {
	return r.storeURL(ctx, FieldPFP, pfp)
}

// storeURL は1つのURLをStoreする。空文字列はそのまま返す。
func (r *Rewriter) storeURL(ctx context.Context, field, originURL string) (string, error) {
	if originURL == "" {
		return "", nil
	}

	ref, err := r.store.Store(ctx, originURL)
	if err != nil {
		return "", &MediaError{Field: field, Origin: originURL, Err: err}
	}
	return ref, nil
}
