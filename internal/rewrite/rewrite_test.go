package rewrite

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/DVDAndroid/shoelace/internal/keystore"
	"github.com/DVDAndroid/shoelace/internal/model"
)

// --- モック定義 ---

// mockStorer はStorerのテスト用モック。
// keystore.Keystore（Memory）に委譲しつつ、URLごとの呼び出し回数を数え、
// failURLsに含まれるURLだけ失敗させる。
type mockStorer struct {
	ks *keystore.Keystore

	mu       sync.Mutex
	calls    map[string]int
	failURLs map[string]bool
}

func newMockStorer(failURLs ...string) *mockStorer {
	m := &mockStorer{
		ks:       keystore.New(keystore.NewMemoryBackend(), "proxy", nil),
		calls:    make(map[string]int),
		failURLs: make(map[string]bool),
	}
	for _, u := range failURLs {
		m.failURLs[u] = true
	}
	return m
}

func (m *mockStorer) Store(ctx context.Context, originURL string) (string, error) {
	m.mu.Lock()
	m.calls[originURL]++
	fail := m.failURLs[originURL]
	m.mu.Unlock()

	if fail {
		return "", &keystore.BackendError{Backend: "mock", Op: "put", Key: keystore.DeriveKey(originURL), Err: errors.New("connection reset")}
	}
	return m.ks.Store(ctx, originURL)
}

func (m *mockStorer) callCount(originURL string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[originURL]
}

// mockRecorder はRecorderのテスト用モック。
type mockRecorder struct {
	mu       sync.Mutex
	failures map[string]int
}

func (r *mockRecorder) RecordRewriteFailure(level string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failures == nil {
		r.failures = make(map[string]int)
	}
	r.failures[level]++
}

func ref(originURL string) string {
	return "proxy/" + string(keystore.DeriveKey(originURL))
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func media(name string) model.Media {
	return model.Media{
		Kind:      model.MediaKindVideo,
		Content:   "https://cdn.example/" + name + ".mp4",
		Thumbnail: "https://cdn.example/" + name + ".jpg",
	}
}

func subpost(code, author string, mediaNames ...string) model.Subpost {
	s := model.Subpost{
		Code:   code,
		Author: model.Author{Username: author, PFP: "https://cdn.example/pfp/" + author + ".jpg"},
	}
	for _, n := range mediaNames {
		s.Media = append(s.Media, media(n))
	}
	return s
}

func testThread() *model.Post {
	return &model.Post{
		Code:   "ROOT",
		Author: model.Author{Username: "alice", PFP: "https://cdn.example/pfp/alice.jpg"},
		Media:  []model.Media{media("root-1"), media("root-2")},
		Parents: []model.Subpost{
			subpost("P1", "bob", "parent-1"),
			subpost("P2", "carol", "parent-2", "parent-3"),
		},
		Replies: []model.Subpost{
			subpost("R1", "dave", "reply-1"),
			subpost("R2", "erin", "reply-2"),
			subpost("R3", "frank"),
		},
	}
}

// --- Rewriter ---

func TestRewriter_RewriteMedia_Success(t *testing.T) {
	r := NewRewriter(newMockStorer())
	m := media("a")

	if err := r.RewriteMedia(context.Background(), &m); err != nil {
		t.Fatalf("RewriteMedia returned error: %v", err)
	}
	if m.Content != ref("https://cdn.example/a.mp4") {
		t.Errorf("Content = %q", m.Content)
	}
	if m.Thumbnail != ref("https://cdn.example/a.jpg") {
		t.Errorf("Thumbnail = %q", m.Thumbnail)
	}
}

func TestRewriter_RewriteMedia_PartialFailure(t *testing.T) {
	store := newMockStorer("https://cdn.example/a.jpg")
	r := NewRewriter(store)
	m := media("a")

	err := r.RewriteMedia(context.Background(), &m)
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var mediaErr *MediaError
	if !errors.As(err, &mediaErr) {
		t.Fatalf("expected *MediaError, got %T", err)
	}
	if mediaErr.Field != FieldThumbnail {
		t.Errorf("Field = %q, want %q", mediaErr.Field, FieldThumbnail)
	}

	// Contentは書き換え済み、Thumbnailはオリジンのまま
	if m.Content != ref("https://cdn.example/a.mp4") {
		t.Errorf("Content = %q, want rewritten", m.Content)
	}
	if m.Thumbnail != "https://cdn.example/a.jpg" {
		t.Errorf("Thumbnail = %q, want origin URL", m.Thumbnail)
	}
	// 失敗しても両フィールドとも試行される
	if store.callCount("https://cdn.example/a.mp4") != 1 {
		t.Error("content store was not attempted")
	}
}

func TestRewriter_RewriteMedia_EmptyThumbnailUntouched(t *testing.T) {
	store := newMockStorer()
	r := NewRewriter(store)
	m := model.Media{Kind: model.MediaKindImage, Content: "https://cdn.example/still.jpg"}

	if err := r.RewriteMedia(context.Background(), &m); err != nil {
		t.Fatalf("RewriteMedia returned error: %v", err)
	}
	if m.Thumbnail != "" {
		t.Errorf("Thumbnail = %q, want empty", m.Thumbnail)
	}
	if store.callCount("") != 0 {
		t.Error("empty URL must not be stored")
	}
}

// --- Walker.User ---

func TestWalker_User_SharesProfilePictureAcrossPosts(t *testing.T) {
	store := newMockStorer()
	w := NewWalker(store, 4, discardLogger(), nil)

	pfp := "https://cdn.example/pfp/alice.jpg"
	user := &model.User{Username: "alice", PFP: pfp}
	for i := 0; i < 10; i++ {
		s := subpost(fmt.Sprintf("C%d", i), "alice", fmt.Sprintf("u-%d", i))
		user.Posts = append(user.Posts, s)
	}

	got, err := w.User(context.Background(), user)
	if err != nil {
		t.Fatalf("User returned error: %v", err)
	}

	if n := store.callCount(pfp); n != 1 {
		t.Errorf("profile picture stored %d times, want 1", n)
	}
	if got.PFP != ref(pfp) {
		t.Errorf("user PFP = %q, want %q", got.PFP, ref(pfp))
	}
	for i, p := range got.Posts {
		if p.Author.PFP != got.PFP {
			t.Errorf("post %d author PFP = %q, want %q", i, p.Author.PFP, got.PFP)
		}
		for _, m := range p.Media {
			if !strings.HasPrefix(m.Content, "proxy/") || !strings.HasPrefix(m.Thumbnail, "proxy/") {
				t.Errorf("post %d media not rewritten: %+v", i, m)
			}
		}
	}
}

func TestWalker_User_ProfilePictureFailureIsFatal(t *testing.T) {
	pfp := "https://cdn.example/pfp/alice.jpg"
	store := newMockStorer(pfp)
	rec := &mockRecorder{}
	w := NewWalker(store, 4, discardLogger(), rec)

	user := &model.User{Username: "alice", PFP: pfp, Posts: []model.Subpost{subpost("C1", "alice", "x")}}

	got, err := w.User(context.Background(), user)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got != nil {
		t.Error("expected nil user on fatal failure")
	}
	if rec.failures[LevelRoot] != 1 {
		t.Errorf("root failures = %d, want 1", rec.failures[LevelRoot])
	}
	// プロフィール画像の失敗後は投稿のメディアを処理しない
	if store.callCount("https://cdn.example/x.mp4") != 0 {
		t.Error("post media should not be rewritten after fatal profile picture failure")
	}
}

func TestWalker_User_PostMediaFailureIsContained(t *testing.T) {
	failing := "https://cdn.example/u-1.jpg"
	store := newMockStorer(failing)
	rec := &mockRecorder{}
	w := NewWalker(store, 4, discardLogger(), rec)

	user := &model.User{
		Username: "alice",
		PFP:      "https://cdn.example/pfp/alice.jpg",
		Posts: []model.Subpost{
			subpost("C0", "alice", "u-0"),
			subpost("C1", "alice", "u-1"),
			subpost("C2", "alice", "u-2"),
		},
	}

	got, err := w.User(context.Background(), user)
	if err != nil {
		t.Fatalf("User returned error: %v", err)
	}
	if got == nil {
		t.Fatal("User returned nil user")
	}

	c1 := got.Posts[1]
	if c1.Media[0].Thumbnail != failing {
		t.Errorf("failed thumbnail = %q, want origin URL %q", c1.Media[0].Thumbnail, failing)
	}
	// 同じメディアの本体と作成者は書き換わる
	if c1.Media[0].Content != ref("https://cdn.example/u-1.mp4") {
		t.Errorf("content = %q, want rewritten", c1.Media[0].Content)
	}
	if c1.Author.PFP != ref("https://cdn.example/pfp/alice.jpg") {
		t.Errorf("author PFP = %q, want rewritten", c1.Author.PFP)
	}

	assertRewritten(t, "C0", got.Posts[0].Media)
	assertRewritten(t, "C2", got.Posts[2].Media)

	if rec.failures[LevelNested] != 1 {
		t.Errorf("nested failures = %d, want 1", rec.failures[LevelNested])
	}
	if rec.failures[LevelRoot] != 0 {
		t.Errorf("root failures = %d, want 0", rec.failures[LevelRoot])
	}
}

func TestWalker_User_NoPosts(t *testing.T) {
	w := NewWalker(newMockStorer(), 0, nil, nil)

	got, err := w.User(context.Background(), &model.User{Username: "empty", PFP: "https://cdn.example/pfp/empty.jpg"})
	if err != nil {
		t.Fatalf("User returned error: %v", err)
	}
	if got.PFP != ref("https://cdn.example/pfp/empty.jpg") {
		t.Errorf("PFP = %q", got.PFP)
	}
}

// --- Walker.Post ---

func TestWalker_Post_RewritesWholeThread(t *testing.T) {
	w := NewWalker(newMockStorer(), 2, discardLogger(), nil)

	got, err := w.Post(context.Background(), testThread())
	if err != nil {
		t.Fatalf("Post returned error: %v", err)
	}

	if got.Author.PFP != ref("https://cdn.example/pfp/alice.jpg") {
		t.Errorf("root author PFP = %q", got.Author.PFP)
	}
	assertRewritten(t, "root", got.Media)

	for _, section := range [][]model.Subpost{got.Parents, got.Replies} {
		for _, s := range section {
			if s.Author.PFP != ref("https://cdn.example/pfp/"+s.Author.Username+".jpg") {
				t.Errorf("%s author PFP = %q", s.Code, s.Author.PFP)
			}
			assertRewritten(t, s.Code, s.Media)
		}
	}
}

func TestWalker_Post_NestedReplyFailureIsContained(t *testing.T) {
	failing := "https://cdn.example/reply-1.mp4"
	store := newMockStorer(failing)
	rec := &mockRecorder{}
	w := NewWalker(store, 4, discardLogger(), rec)

	got, err := w.Post(context.Background(), testThread())
	if err != nil {
		t.Fatalf("Post returned error: %v", err)
	}

	r1 := got.Replies[0]
	if r1.Media[0].Content != failing {
		t.Errorf("failed reply content = %q, want origin URL %q", r1.Media[0].Content, failing)
	}
	// 同じメディアのサムネイルと作成者は書き換わる
	if r1.Media[0].Thumbnail != ref("https://cdn.example/reply-1.jpg") {
		t.Errorf("failed reply thumbnail = %q, want rewritten", r1.Media[0].Thumbnail)
	}
	if r1.Author.PFP != ref("https://cdn.example/pfp/dave.jpg") {
		t.Errorf("failed reply author PFP = %q, want rewritten", r1.Author.PFP)
	}

	// 兄弟の返信は影響を受けない
	assertRewritten(t, "R2", got.Replies[1].Media)
	assertRewritten(t, "root", got.Media)

	if rec.failures[LevelNested] != 1 {
		t.Errorf("nested failures = %d, want 1", rec.failures[LevelNested])
	}
	if rec.failures[LevelRoot] != 0 {
		t.Errorf("root failures = %d, want 0", rec.failures[LevelRoot])
	}
}

func TestWalker_Post_NestedParentProfilePictureFailureIsContained(t *testing.T) {
	failing := "https://cdn.example/pfp/bob.jpg"
	w := NewWalker(newMockStorer(failing), 4, discardLogger(), nil)

	got, err := w.Post(context.Background(), testThread())
	if err != nil {
		t.Fatalf("Post returned error: %v", err)
	}

	if got.Parents[0].Author.PFP != failing {
		t.Errorf("parent author PFP = %q, want origin URL", got.Parents[0].Author.PFP)
	}
	assertRewritten(t, "P1", got.Parents[0].Media)
	assertRewritten(t, "P2", got.Parents[1].Media)
}

func TestWalker_Post_RootMediaFailureIsFatal(t *testing.T) {
	store := newMockStorer("https://cdn.example/root-2.jpg")
	rec := &mockRecorder{}
	w := NewWalker(store, 4, discardLogger(), rec)

	got, err := w.Post(context.Background(), testThread())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got != nil {
		t.Error("expected nil post on fatal failure (no partial tree)")
	}

	var mediaErr *MediaError
	if !errors.As(err, &mediaErr) {
		t.Fatalf("expected *MediaError in chain, got %v", err)
	}
	var backendErr *keystore.BackendError
	if !errors.As(err, &backendErr) {
		t.Error("expected *keystore.BackendError in chain")
	}
	if rec.failures[LevelRoot] != 1 {
		t.Errorf("root failures = %d, want 1", rec.failures[LevelRoot])
	}
}

func TestWalker_Post_RootMediaFailuresAreAggregated(t *testing.T) {
	store := newMockStorer("https://cdn.example/root-1.mp4", "https://cdn.example/root-2.mp4")
	w := NewWalker(store, 4, discardLogger(), nil)

	_, err := w.Post(context.Background(), testThread())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, u := range []string{"root-1.mp4", "root-2.mp4"} {
		if !strings.Contains(err.Error(), u) {
			t.Errorf("aggregate error %q does not mention %s", err.Error(), u)
		}
	}
}

func TestWalker_Post_RootAuthorFailureIsFatal(t *testing.T) {
	store := newMockStorer("https://cdn.example/pfp/alice.jpg")
	w := NewWalker(store, 4, discardLogger(), nil)

	got, err := w.Post(context.Background(), testThread())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if got != nil {
		t.Error("expected nil post on fatal failure")
	}
}

func TestWalker_Post_IgnoresCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var seen []error
	var mu sync.Mutex
	store := storerFunc(func(ctx context.Context, originURL string) (string, error) {
		mu.Lock()
		seen = append(seen, ctx.Err())
		mu.Unlock()
		return ref(originURL), nil
	})
	w := NewWalker(store, 4, discardLogger(), nil)

	if _, err := w.Post(ctx, testThread()); err != nil {
		t.Fatalf("Post returned error: %v", err)
	}
	for _, e := range seen {
		if e != nil {
			t.Fatalf("store observed cancelled context: %v", e)
		}
	}
}

func TestFanOut_AggregatesAllErrors(t *testing.T) {
	items := []int{0, 1, 2, 3, 4}
	err := fanOut(2, items, func(i int, item *int) error {
		*item *= 10
		if i%2 == 1 {
			return fmt.Errorf("item %d", i)
		}
		return nil
	})

	if err == nil {
		t.Fatal("expected error, got nil")
	}
	for _, want := range []string{"item 1", "item 3"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q missing %q", err.Error(), want)
		}
	}
	for i, v := range items {
		if v != i*10 {
			t.Errorf("items[%d] = %d, want %d", i, v, i*10)
		}
	}
}

func TestFanOutDetached_ReportsButDoesNotReturn(t *testing.T) {
	items := make([]int, 8)
	var mu sync.Mutex
	var failed []int

	fanOutDetached(3, items, func(i int, item *int) error {
		*item = 1
		if i == 5 {
			return errors.New("boom")
		}
		return nil
	}, func(i int, err error) {
		mu.Lock()
		failed = append(failed, i)
		mu.Unlock()
	})

	if len(failed) != 1 || failed[0] != 5 {
		t.Errorf("failed = %v, want [5]", failed)
	}
	for i, v := range items {
		if v != 1 {
			t.Errorf("items[%d] not processed", i)
		}
	}
}

type storerFunc func(ctx context.Context, originURL string) (string, error)

func (f storerFunc) Store(ctx context.Context, originURL string) (string, error) {
	return f(ctx, originURL)
}

func assertRewritten(t *testing.T, label string, media []model.Media) {
	t.Helper()
	for i, m := range media {
		if !strings.HasPrefix(m.Content, "proxy/") {
			t.Errorf("%s media[%d] content = %q, want local reference", label, i, m.Content)
		}
		if m.Thumbnail != "" && !strings.HasPrefix(m.Thumbnail, "proxy/") {
			t.Errorf("%s media[%d] thumbnail = %q, want local reference", label, i, m.Thumbnail)
		}
	}
}
