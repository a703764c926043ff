// Package threads は上流のコンテンツプロバイダーからユーザーと投稿スレッドを取得する。
package threads

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/DVDAndroid/shoelace/internal/model"
)

const (
	// maxResponseSize はプロバイダーのレスポンスボディの上限。
	maxResponseSize = 8 * 1024 * 1024
	userAgent       = "Shoelace/1.0"
)

// 取得の種類と結果。Recorderへ渡す。
const (
	KindUser = "user"
	KindPost = "post"

	OutcomeSuccess  = "success"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

var (
	// ErrNotFound はユーザーまたは投稿が存在しないことを表す。
	ErrNotFound = errors.New("threads: not found")
	// ErrUpstream はプロバイダーとの通信やレスポンスの解釈に失敗したことを表す。
	ErrUpstream = errors.New("threads: upstream failure")
)

var (
	usernamePattern = regexp.MustCompile(`^[A-Za-z0-9._]{1,30}$`)
	codePattern     = regexp.MustCompile(`^[A-Za-z0-9_-]{1,64}$`)
)

// ValidUsername はユーザー名として受け付ける文字列かを判定する。先頭の@は許容する。
func ValidUsername(name string) bool {
	return usernamePattern.MatchString(strings.TrimPrefix(name, "@"))
}

// ValidCode は投稿コードとして受け付ける文字列かを判定する。
func ValidCode(code string) bool {
	return codePattern.MatchString(code)
}

// Sanitizer はプロバイダーのテキストを無害化するインターフェース。
// security.TextSanitizerServiceが実装する。
type Sanitizer interface {
	Sanitize(raw string) string
}

// Recorder は取得結果を記録するインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordUpstreamFetch(kind, outcome string, duration time.Duration)
}

// Client はコンテンツプロバイダーのクライアント。
type Client struct {
	httpClient *http.Client
	baseURL    string
	sanitizer  Sanitizer
	logger     *slog.Logger
	recorder   Recorder
}

// NewClient はClientの新しいインスタンスを生成する。loggerとrecorderはnilでもよい。
func NewClient(httpClient *http.Client, baseURL string, sanitizer Sanitizer, logger *slog.Logger, recorder Recorder) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Client{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		sanitizer:  sanitizer,
		logger:     logger,
		recorder:   recorder,
	}
}

// FetchUser はユーザーのプロフィールと投稿一覧を取得する。
// メディアURLはオリジンのまま返す。
func (c *Client) FetchUser(ctx context.Context, name string) (*model.User, error) {
	name = strings.TrimPrefix(name, "@")
	if !ValidUsername(name) {
		return nil, fmt.Errorf("fetch user %q: %w", name, ErrNotFound)
	}

	var payload userPayload
	if err := c.get(ctx, KindUser, "/users/"+url.PathEscape(name), &payload); err != nil {
		return nil, fmt.Errorf("fetch user %s: %w", name, err)
	}
	return c.toUser(&payload), nil
}

// FetchPost は投稿をその親投稿と返信を含めて取得する。
func (c *Client) FetchPost(ctx context.Context, code string) (*model.Post, error) {
	if !ValidCode(code) {
		return nil, fmt.Errorf("fetch post %q: %w", code, ErrNotFound)
	}

	var payload threadPayload
	if err := c.get(ctx, KindPost, "/posts/"+url.PathEscape(code), &payload); err != nil {
		return nil, fmt.Errorf("fetch post %s: %w", code, err)
	}
	return c.toPost(&payload), nil
}

// get はプロバイダーにGETリクエストを送り、JSONをoutにデコードする。
// 404はErrNotFound、それ以外の失敗はErrUpstreamとして返す。
func (c *Client) get(ctx context.Context, kind, path string, out any) error {
	start := time.Now()
	outcome := OutcomeError
	defer func() {
		c.recorder.RecordUpstreamFetch(kind, outcome, time.Since(start))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("%w: build request: %v", ErrUpstream, err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("プロバイダーの呼び出しに失敗しました",
			slog.String("kind", kind),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: %v", ErrUpstream, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		outcome = OutcomeNotFound
		return ErrNotFound
	case resp.StatusCode != http.StatusOK:
		c.logger.Error("プロバイダーがエラーステータスを返しました",
			slog.String("kind", kind),
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
		)
		return fmt.Errorf("%w: status %d", ErrUpstream, resp.StatusCode)
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		c.logger.Error("プロバイダーのレスポンスのパースに失敗しました",
			slog.String("kind", kind),
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("%w: decode response: %v", ErrUpstream, err)
	}

	outcome = OutcomeSuccess
	return nil
}

type nopRecorder struct{}

func (nopRecorder) RecordUpstreamFetch(string, string, time.Duration) {}
