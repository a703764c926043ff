// Package proxy はローカル参照をオリジンURLに解決し、メディアを中継する。
package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strings"
	"time"
)

// DefaultMaxSize はオリジンから中継する本体の既定の上限（50MB）。
const DefaultMaxSize = 50 * 1024 * 1024

// バイトキャッシュの結果。Recorderへ渡す。
const (
	CacheHit  = "hit"
	CacheMiss = "miss"
)

var (
	// ErrOrigin はオリジンへの接続失敗、または2xx以外の応答を表す。
	ErrOrigin = errors.New("proxy: origin fetch failed")
	// ErrTooLarge は本体が上限を超えたことを表す。
	ErrTooLarge = errors.New("proxy: origin body too large")
)

// Resolver はローカル参照をオリジンURLに解決するインターフェース。
// keystore.Keystoreが実装する。
type Resolver interface {
	Resolve(ctx context.Context, ref string) (string, error)
}

// URLValidator はオリジンURLを取得前に検証するインターフェース。
// security.OriginGuardServiceが実装する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Recorder はプロキシの取得結果を記録するインターフェース。
// metrics.Collectorが実装する。
type Recorder interface {
	RecordProxyFetch(statusCode int, bytes int64, duration time.Duration)
	RecordProxyCache(outcome string)
}

// Options はServiceの動作設定。
type Options struct {
	MaxSize int64  // 本体の上限。0以下でDefaultMaxSize
	Cache   *Cache // nilでバイトキャッシュ無効
	LogCDN  bool   // オリジン取得ごとにログを出す
}

// Media は中継するメディア。Bodyは呼び出し側が閉じる。
type Media struct {
	ContentType string
	Size        int64 // 不明な場合は-1
	Body        io.ReadCloser
}

// Service はメディアプロキシのユースケースを実装する。
type Service struct {
	resolver  Resolver
	validator URLValidator
	client    *http.Client
	opts      Options
	logger    *slog.Logger
	recorder  Recorder
}

// NewService はServiceを生成する。clientはSSRF防止付きのものを渡す。
func NewService(resolver Resolver, validator URLValidator, client *http.Client, opts Options, logger *slog.Logger, recorder Recorder) *Service {
	if opts.MaxSize <= 0 {
		opts.MaxSize = DefaultMaxSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	if recorder == nil {
		recorder = nopRecorder{}
	}
	return &Service{
		resolver:  resolver,
		validator: validator,
		client:    client,
		opts:      opts,
		logger:    logger,
		recorder:  recorder,
	}
}

// Open はキーをオリジンURLに解決し、メディア本体を開く。
// 未登録のキーはkeystore.ErrNotFound、拒否されたオリジンはsecurity.ErrBlockedOriginを
// ラップして返す。
func (s *Service) Open(ctx context.Context, key string) (*Media, error) {
	if s.opts.Cache != nil {
		if ct, body, ok := s.opts.Cache.Get(key); ok {
			s.recorder.RecordProxyCache(CacheHit)
			return &Media{ContentType: ct, Size: int64(len(body)), Body: io.NopCloser(bytes.NewReader(body))}, nil
		}
		s.recorder.RecordProxyCache(CacheMiss)
	}

	originURL, err := s.resolver.Resolve(ctx, key)
	if err != nil {
		return nil, err
	}

	if err := s.validator.ValidateURL(originURL); err != nil {
		s.logger.Warn("オリジンURLが拒否されました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, err
	}

	return s.fetch(ctx, key, originURL)
}

func (s *Service) fetch(ctx context.Context, key, originURL string) (*Media, error) {
	start := time.Now()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, originURL, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %v", ErrOrigin, err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.recorder.RecordProxyFetch(0, 0, time.Since(start))
		s.logger.Error("オリジンの取得に失敗しました",
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
		return nil, fmt.Errorf("%w: %v", ErrOrigin, err)
	}

	if s.opts.LogCDN {
		s.logger.Info("origin fetched",
			slog.String("key", key),
			slog.String("url", originURL),
			slog.Int("status", resp.StatusCode),
			slog.Int64("content_length", resp.ContentLength),
			slog.Duration("duration", time.Since(start)),
		)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		s.recorder.RecordProxyFetch(resp.StatusCode, 0, time.Since(start))
		return nil, fmt.Errorf("%w: status %d", ErrOrigin, resp.StatusCode)
	}

	if resp.ContentLength > s.opts.MaxSize {
		resp.Body.Close()
		s.recorder.RecordProxyFetch(resp.StatusCode, 0, time.Since(start))
		return nil, fmt.Errorf("%w: %d bytes", ErrTooLarge, resp.ContentLength)
	}

	contentType := mediaContentType(resp.Header.Get("Content-Type"))

	if s.opts.Cache != nil && s.opts.Cache.Fits(resp.ContentLength) {
		defer resp.Body.Close()
		body, err := io.ReadAll(io.LimitReader(resp.Body, resp.ContentLength+1))
		s.recorder.RecordProxyFetch(resp.StatusCode, int64(len(body)), time.Since(start))
		if err != nil {
			return nil, fmt.Errorf("%w: read body: %v", ErrOrigin, err)
		}
		if int64(len(body)) != resp.ContentLength {
			return nil, fmt.Errorf("%w: body length %d does not match Content-Length %d", ErrOrigin, len(body), resp.ContentLength)
		}
		if err := s.opts.Cache.Set(key, contentType, body); err != nil {
			s.logger.Debug("バイトキャッシュへの保存をスキップしました",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
		return &Media{ContentType: contentType, Size: int64(len(body)), Body: io.NopCloser(bytes.NewReader(body))}, nil
	}

	return &Media{
		ContentType: contentType,
		Size:        resp.ContentLength,
		Body: &limitedBody{
			rc:     resp.Body,
			remain: s.opts.MaxSize,
			done: func(n int64) {
				s.recorder.RecordProxyFetch(resp.StatusCode, n, time.Since(start))
			},
		},
	}, nil
}

// mediaContentType はオリジンのContent-Typeのうち、メディアとして中継するものだけを通す。
// それ以外はブラウザに解釈させないためapplication/octet-streamにする。
func mediaContentType(header string) string {
	mediaType, _, err := mime.ParseMediaType(header)
	if err != nil {
		return "application/octet-stream"
	}
	switch {
	case strings.HasPrefix(mediaType, "image/") && mediaType != "image/svg+xml",
		strings.HasPrefix(mediaType, "video/"),
		strings.HasPrefix(mediaType, "audio/"):
		return header
	}
	return "application/octet-stream"
}

// limitedBody は上限を超えた時点でErrTooLargeを返すReadCloser。
// Close時に読み出したバイト数をdoneに渡す。
type limitedBody struct {
	rc     io.ReadCloser
	remain int64
	read   int64
	done   func(n int64)
	closed bool
}

func (b *limitedBody) Read(p []byte) (int, error) {
	if b.remain <= 0 {
		// 上限ちょうどで終わる本体を区別するため1バイトだけ覗く
		var one [1]byte
		n, err := b.rc.Read(one[:])
		if n > 0 {
			return 0, ErrTooLarge
		}
		return 0, err
	}
	if int64(len(p)) > b.remain {
		p = p[:b.remain]
	}
	n, err := b.rc.Read(p)
	b.remain -= int64(n)
	b.read += int64(n)
	return n, err
}

func (b *limitedBody) Close() error {
	if !b.closed {
		b.closed = true
		b.done(b.read)
	}
	return b.rc.Close()
}

type nopRecorder struct{}

func (nopRecorder) RecordProxyFetch(int, int64, time.Duration) {}
func (nopRecorder) RecordProxyCache(string)                    {}
