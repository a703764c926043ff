package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/DVDAndroid/shoelace/internal/middleware"
	"github.com/DVDAndroid/shoelace/internal/model"
)

// ThreadsFetcher はプロバイダーからユーザーと投稿を取得するインターフェース。
// threads.Clientが実装する。
type ThreadsFetcher interface {
	// FetchUser はユーザーのプロフィールと投稿一覧を取得する。
	FetchUser(ctx context.Context, name string) (*model.User, error)
	// FetchPost は投稿を親投稿と返信を含めて取得する。
	FetchPost(ctx context.Context, code string) (*model.Post, error)
}

// TreeRewriter は取得したツリーのメディア参照をローカル参照に書き換えるインターフェース。
// rewrite.Walkerが実装する。
type TreeRewriter interface {
	User(ctx context.Context, user *model.User) (*model.User, error)
	Post(ctx context.Context, post *model.Post) (*model.Post, error)
}

// threadLoader は取得と書き換えをまとめて行う。APIとフロントエンドで共有する。
type threadLoader struct {
	fetcher  ThreadsFetcher
	rewriter TreeRewriter
}

func (l *threadLoader) user(ctx context.Context, name string) (*model.User, error) {
	u, err := l.fetcher.FetchUser(ctx, name)
	if err != nil {
		return nil, err
	}
	return l.rewriter.User(ctx, u)
}

func (l *threadLoader) post(ctx context.Context, code string) (*model.Post, error) {
	p, err := l.fetcher.FetchPost(ctx, code)
	if err != nil {
		return nil, err
	}
	return l.rewriter.Post(ctx, p)
}

// APIHandler はJSON APIのHTTPハンドラー。
type APIHandler struct {
	loader *threadLoader
	logger *slog.Logger
}

// NewAPIHandler はAPIHandlerを生成する。
func NewAPIHandler(fetcher ThreadsFetcher, rewriter TreeRewriter, logger *slog.Logger) *APIHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &APIHandler{
		loader: &threadLoader{fetcher: fetcher, rewriter: rewriter},
		logger: logger,
	}
}

// GetUser はユーザーのプロフィールと投稿一覧を返す。
// GET /api/v1/user/{name}
func (h *APIHandler) GetUser(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(chi.URLParam(r, "name"), "@")

	user, err := h.loader.user(r.Context(), name)
	if err != nil {
		h.writeError(w, r, err, model.NewUserNotFoundError(name))
		return
	}

	writeJSON(w, user)
}

// GetPost は投稿スレッドを返す。
// GET /api/v1/post/{code}
func (h *APIHandler) GetPost(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	post, err := h.loader.post(r.Context(), code)
	if err != nil {
		h.writeError(w, r, err, model.NewPostNotFoundError(code))
		return
	}

	writeJSON(w, post)
}

func (h *APIHandler) writeError(w http.ResponseWriter, r *http.Request, err error, notFound *model.APIError) {
	status, apiErr := classifyError(err, notFound)
	logServiceError(h.logger, r, status, err)
	middleware.WriteErrorResponse(w, status, apiErr)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
