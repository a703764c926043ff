package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DVDAndroid/shoelace/internal/model"
	"github.com/DVDAndroid/shoelace/internal/proxy"
)

// --- モック定義 ---

// mockFetcher はThreadsFetcherのモック実装。
type mockFetcher struct {
	fetchUserFn func(ctx context.Context, name string) (*model.User, error)
	fetchPostFn func(ctx context.Context, code string) (*model.Post, error)
}

func (m *mockFetcher) FetchUser(ctx context.Context, name string) (*model.User, error) {
	if m.fetchUserFn != nil {
		return m.fetchUserFn(ctx, name)
	}
	return &model.User{Username: name}, nil
}

func (m *mockFetcher) FetchPost(ctx context.Context, code string) (*model.Post, error) {
	if m.fetchPostFn != nil {
		return m.fetchPostFn(ctx, code)
	}
	return &model.Post{Code: code}, nil
}

// mockRewriter はTreeRewriterのモック実装。
// 関数が未設定の場合は受け取ったツリーをそのまま返す。
type mockRewriter struct {
	userFn func(ctx context.Context, user *model.User) (*model.User, error)
	postFn func(ctx context.Context, post *model.Post) (*model.Post, error)

	userCalls int
	postCalls int
}

func (m *mockRewriter) User(ctx context.Context, user *model.User) (*model.User, error) {
	m.userCalls++
	if m.userFn != nil {
		return m.userFn(ctx, user)
	}
	return user, nil
}

func (m *mockRewriter) Post(ctx context.Context, post *model.Post) (*model.Post, error) {
	m.postCalls++
	if m.postFn != nil {
		return m.postFn(ctx, post)
	}
	return post, nil
}

// mockOpener はMediaOpenerのモック実装。
type mockOpener struct {
	openFn func(ctx context.Context, key string) (*proxy.Media, error)
}

func (m *mockOpener) Open(ctx context.Context, key string) (*proxy.Media, error) {
	return m.openFn(ctx, key)
}

// --- テストヘルパー ---

// withChiURLParams はテスト用にchiのURLパラメータを注入するヘルパー。
func withChiURLParams(r *http.Request, kv ...string) *http.Request {
	rctx := chi.NewRouteContext()
	for i := 0; i+1 < len(kv); i += 2 {
		rctx.URLParams.Add(kv[i], kv[i+1])
	}
	ctx := context.WithValue(r.Context(), chi.RouteCtxKey, rctx)
	return r.WithContext(ctx)
}

// parseAPIErrorResponse はレスポンスボディからAPIErrorレスポンスをパースするヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var result map[string]string
	if err := json.NewDecoder(w.Body).Decode(&result); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return result
}

// sampleUser はテスト用のユーザーを返す。
func sampleUser() *model.User {
	author := model.Author{Username: "zuck", PFP: "https://cdn.example/zuck.jpg", Verified: true}
	return &model.User{
		ID:        "314216",
		Name:      "Mark Zuckerberg",
		Username:  "zuck",
		Verified:  true,
		Bio:       "Mostly superintelligence and MMA takes",
		PFP:       "https://cdn.example/zuck.jpg",
		Followers: 5000000,
		Links:     []string{"https://about.example"},
		Posts: []model.Subpost{
			{
				Code:   "C1aaa",
				Author: author,
				Date:   time.Date(2024, 7, 1, 12, 0, 0, 0, time.UTC),
				Body:   "first post",
				Media:  []model.Media{{Kind: model.MediaKindImage, Content: "https://cdn.example/a.jpg"}},
				Likes:  10,
			},
		},
	}
}

// samplePost はテスト用の投稿スレッドを返す。
func samplePost() *model.Post {
	return &model.Post{
		ID:     "99",
		Code:   "C2bbb",
		Author: model.Author{Username: "zuck", PFP: "https://cdn.example/zuck.jpg"},
		Date:   time.Date(2024, 7, 2, 8, 30, 0, 0, time.UTC),
		Body:   "main post body",
		Media: []model.Media{
			{Kind: model.MediaKindVideo, Content: "https://cdn.example/v.mp4", Thumbnail: "https://cdn.example/v.jpg"},
		},
		Likes: 42,
		Parents: []model.Subpost{
			{Code: "C0par", Author: model.Author{Username: "parent_user"}, Body: "parent body"},
		},
		Replies: []model.Subpost{
			{Code: "C3rep", Author: model.Author{Username: "reply_user"}, Body: "reply body"},
		},
	}
}
