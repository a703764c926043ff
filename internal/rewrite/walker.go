package rewrite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/DVDAndroid/shoelace/internal/model"
)

// 失敗した書き換えの階層。Recorderへ渡す。
const (
	LevelRoot   = "root"
	LevelNested = "nested"
)

// Recorder は書き換え失敗を記録するインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordRewriteFailure(level string)
}

// Walker はユーザーまたは投稿スレッド全体を並列に走査し、
// 含まれる全メディア参照とプロフィール画像をローカル参照に書き換える。
//
// 失敗の扱い:
//   - ルート（ユーザーまたは投稿の作成者のプロフィール画像、ルート投稿自身のメディア）の
//     失敗は集約してエラーで返し、ツリーは返さない
//   - ユーザーの投稿一覧、親投稿、返信の中の失敗はログに記録して破棄し、
//     該当フィールドはオリジンURLのまま残す
type Walker struct {
	rewriter *Rewriter
	limit    int
	logger   *slog.Logger
	recorder Recorder
}

// NewWalker はWalkerを生成する。
// limitは分岐点ごとの同時実行数の上限で、0以下の場合は既定値を使う。
// loggerとrecorderはnilでもよい。
func NewWalker(store Storer, limit int, logger *slog.Logger, recorder Recorder) *Walker {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Walker{
		rewriter: NewRewriter(store),
		limit:    limit,
		logger:   logger,
		recorder: recorder,
	}
}

// User はユーザーのプロフィール画像と投稿一覧のメディアを書き換える。
// プロフィール画像は1回だけStoreし、その結果を全投稿の作成者に値として配る。
// 失敗で返すのはプロフィール画像だけで、投稿のメディアの失敗はオリジンURLのまま残す。
// 書き換えは開始後キャンセルされない（ctxのキャンセルは伝播しない）。
func (w *Walker) User(ctx context.Context, user *model.User) (*model.User, error) {
	ctx = context.WithoutCancel(ctx)

	pfp, err := w.rewriter.RewritePFP(ctx, user.PFP)
	if err != nil {
		w.recorder.RecordRewriteFailure(LevelRoot)
		return nil, fmt.Errorf("rewrite user %s: %w", user.Username, err)
	}
	user.PFP = pfp

	fanOutDetached(w.limit, user.Posts, func(_ int, post *model.Subpost) error {
		post.Author.PFP = pfp
		return w.rewriteMediaSet(ctx, post.Media)
	}, func(i int, err error) {
		w.nestedFailure("post", user.Posts[i].Code, i, err)
	})

	return user, nil
}

// Post は投稿スレッド全体のメディアを書き換える。
// 作成者のプロフィール画像を書き換えた後、ルート投稿のメディア、親投稿、返信を並列に処理する。
// 書き換えは開始後キャンセルされない（ctxのキャンセルは伝播しない）。
func (w *Walker) Post(ctx context.Context, post *model.Post) (*model.Post, error) {
	ctx = context.WithoutCancel(ctx)

	pfp, err := w.rewriter.RewritePFP(ctx, post.Author.PFP)
	if err != nil {
		w.recorder.RecordRewriteFailure(LevelRoot)
		return nil, fmt.Errorf("rewrite post %s author: %w", post.Code, err)
	}
	post.Author.PFP = pfp

	var (
		wg       sync.WaitGroup
		mediaErr error
	)

	wg.Add(3)
	go func() {
		defer wg.Done()
		mediaErr = w.rewriteMediaSet(ctx, post.Media)
	}()
	go func() {
		defer wg.Done()
		w.rewriteSubposts(ctx, "parent", post.Parents)
	}()
	go func() {
		defer wg.Done()
		w.rewriteSubposts(ctx, "reply", post.Replies)
	}()
	wg.Wait()

	if mediaErr != nil {
		w.recorder.RecordRewriteFailure(LevelRoot)
		return nil, fmt.Errorf("rewrite post %s media: %w", post.Code, mediaErr)
	}

	return post, nil
}

// rewriteMediaSet は1つの投稿のメディアを並列に書き換え、失敗をまとめて返す。
func (w *Walker) rewriteMediaSet(ctx context.Context, media []model.Media) error {
	return fanOut(w.limit, media, func(_ int, m *model.Media) error {
		return w.rewriter.RewriteMedia(ctx, m)
	})
}

// rewriteSubposts は親投稿または返信の列を並列に書き換える。
// 各要素の失敗はログとメトリクスに記録するだけで呼び出し元へは返さない。
func (w *Walker) rewriteSubposts(ctx context.Context, section string, subs []model.Subpost) {
	fanOutDetached(w.limit, subs, func(_ int, sub *model.Subpost) error {
		var errs []error

		if pfp, err := w.rewriter.RewritePFP(ctx, sub.Author.PFP); err != nil {
			errs = append(errs, err)
		} else {
			sub.Author.PFP = pfp
		}

		if err := w.rewriteMediaSet(ctx, sub.Media); err != nil {
			errs = append(errs, err)
		}

		return errors.Join(errs...)
	}, func(i int, err error) {
		w.nestedFailure(section, subs[i].Code, i, err)
	})
}

// nestedFailure は破棄する書き換え失敗をログとメトリクスに記録する。
func (w *Walker) nestedFailure(section, code string, i int, err error) {
	w.recorder.RecordRewriteFailure(LevelNested)
	w.logger.Warn("nested media rewrite failed, keeping origin URLs",
		slog.String("section", section),
		slog.Int("index", i),
		slog.String("code", code),
		slog.String("error", err.Error()),
	)
}

type nopRecorder struct{}

func (nopRecorder) RecordRewriteFailure(string) {}
