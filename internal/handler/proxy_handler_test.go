package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/DVDAndroid/shoelace/internal/keystore"
	"github.com/DVDAndroid/shoelace/internal/model"
	"github.com/DVDAndroid/shoelace/internal/proxy"
	"github.com/DVDAndroid/shoelace/internal/security"
)

// trackingBody はCloseの呼び出しを記録するReadCloser。
type trackingBody struct {
	io.Reader
	closed bool
}

func (b *trackingBody) Close() error {
	b.closed = true
	return nil
}

// failingBody は読み込み途中で失敗するReadCloser。
type failingBody struct{}

func (failingBody) Read([]byte) (int, error) { return 0, errors.New("connection reset by peer") }
func (failingBody) Close() error             { return nil }

func TestProxyHandler_ServeMedia_Success(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("JPEGDATA")}
	opener := &mockOpener{
		openFn: func(ctx context.Context, key string) (*proxy.Media, error) {
			if key != "abc123" {
				t.Errorf("key = %q, want %q", key, "abc123")
			}
			return &proxy.Media{ContentType: "image/jpeg", Size: 8, Body: body}, nil
		},
	}
	h := NewProxyHandler(opener, nil)

	req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/proxy/abc123", nil), "key", "abc123")
	w := httptest.NewRecorder()

	h.ServeMedia(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if got := w.Header().Get("Content-Type"); got != "image/jpeg" {
		t.Errorf("Content-Type = %q, want %q", got, "image/jpeg")
	}
	if got := w.Header().Get("Content-Length"); got != "8" {
		t.Errorf("Content-Length = %q, want %q", got, "8")
	}
	if got := w.Header().Get("Cache-Control"); got != proxyCacheControl {
		t.Errorf("Cache-Control = %q, want %q", got, proxyCacheControl)
	}
	if w.Body.String() != "JPEGDATA" {
		t.Errorf("body = %q, want %q", w.Body.String(), "JPEGDATA")
	}
	if !body.closed {
		t.Error("media body was not closed")
	}
}

func TestProxyHandler_ServeMedia_UnknownSize_OmitsContentLength(t *testing.T) {
	opener := &mockOpener{
		openFn: func(ctx context.Context, key string) (*proxy.Media, error) {
			return &proxy.Media{ContentType: "video/mp4", Size: -1, Body: io.NopCloser(strings.NewReader("MP4"))}, nil
		},
	}
	h := NewProxyHandler(opener, nil)

	req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/proxy/k", nil), "key", "k")
	w := httptest.NewRecorder()

	h.ServeMedia(w, req)

	if got := w.Header().Get("Content-Length"); got != "" {
		t.Errorf("Content-Length = %q, want empty", got)
	}
	if w.Body.String() != "MP4" {
		t.Errorf("body = %q, want %q", w.Body.String(), "MP4")
	}
}

func TestProxyHandler_ServeMedia_Head_WritesNoBody(t *testing.T) {
	body := &trackingBody{Reader: strings.NewReader("JPEGDATA")}
	opener := &mockOpener{
		openFn: func(ctx context.Context, key string) (*proxy.Media, error) {
			return &proxy.Media{ContentType: "image/jpeg", Size: 8, Body: body}, nil
		},
	}
	h := NewProxyHandler(opener, nil)

	req := withChiURLParams(httptest.NewRequest(http.MethodHead, "/proxy/k", nil), "key", "k")
	w := httptest.NewRecorder()

	h.ServeMedia(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
	if w.Body.Len() != 0 {
		t.Errorf("body length = %d, want 0", w.Body.Len())
	}
	if !body.closed {
		t.Error("media body was not closed")
	}
}

func TestProxyHandler_ServeMedia_ErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{
			name:       "未登録のキー",
			err:        fmt.Errorf("resolve deadbeef: %w", keystore.ErrNotFound),
			wantStatus: http.StatusNotFound,
			wantCode:   model.ErrCodeMediaNotFound,
		},
		{
			name:       "拒否されたオリジン",
			err:        fmt.Errorf("%w: private address", security.ErrBlockedOrigin),
			wantStatus: http.StatusForbidden,
			wantCode:   model.ErrCodeOriginBlocked,
		},
		{
			name:       "オリジンの失敗",
			err:        fmt.Errorf("%w: status 403", proxy.ErrOrigin),
			wantStatus: http.StatusBadGateway,
			wantCode:   model.ErrCodeOriginFailed,
		},
		{
			name:       "サイズ超過",
			err:        fmt.Errorf("%w: 99999999 bytes", proxy.ErrTooLarge),
			wantStatus: http.StatusBadGateway,
			wantCode:   model.ErrCodeOriginFailed,
		},
		{
			name:       "バックエンドの障害",
			err:        &keystore.BackendError{Backend: "redis", Op: "get", Err: errors.New("i/o timeout")},
			wantStatus: http.StatusInternalServerError,
			wantCode:   model.ErrCodeInternal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opener := &mockOpener{
				openFn: func(ctx context.Context, key string) (*proxy.Media, error) {
					return nil, tt.err
				},
			}
			h := NewProxyHandler(opener, nil)

			req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/proxy/deadbeef", nil), "key", "deadbeef")
			w := httptest.NewRecorder()

			h.ServeMedia(w, req)

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			body := parseAPIErrorResponse(t, w)
			if body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
		})
	}
}

func TestProxyHandler_ServeMedia_CopyFailure_AbortsResponse(t *testing.T) {
	opener := &mockOpener{
		openFn: func(ctx context.Context, key string) (*proxy.Media, error) {
			return &proxy.Media{ContentType: "video/mp4", Size: -1, Body: failingBody{}}, nil
		},
	}
	h := NewProxyHandler(opener, nil)

	req := withChiURLParams(httptest.NewRequest(http.MethodGet, "/proxy/k", nil), "key", "k")
	w := httptest.NewRecorder()

	defer func() {
		rec := recover()
		if rec != http.ErrAbortHandler {
			t.Errorf("recovered %v, want http.ErrAbortHandler", rec)
		}
	}()

	h.ServeMedia(w, req)
	t.Error("ServeMedia returned normally after a copy failure")
}
