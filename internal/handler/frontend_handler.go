package handler

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"io/fs"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/DVDAndroid/shoelace/internal/model"
)

//go:embed templates/*.html
var templatesFS embed.FS

//go:embed static
var staticFS embed.FS

// フロントエンドのページ名。templates/<name>.htmlに対応する。
const (
	pageHome  = "home"
	pageUser  = "user"
	pagePost  = "post"
	pageError = "error"
)

var templateFuncs = template.FuncMap{
	"date": func(t time.Time) string {
		if t.IsZero() {
			return ""
		}
		return t.Format("2006-01-02 15:04")
	},
	"isVideo": func(m model.Media) bool {
		return m.Kind == model.MediaKindVideo
	},
}

// pageData はテンプレートに渡す値。
type pageData struct {
	Title   string
	Version string
	Query   string
	User    *model.User
	Post    *model.Post
	Status  int
	Error   *model.APIError
}

// FrontendHandler はHTMLフロントエンドのHTTPハンドラー。
type FrontendHandler struct {
	loader  *threadLoader
	pages   map[string]*template.Template
	version string
	logger  *slog.Logger
}

// NewFrontendHandler はテンプレートを読み込んでFrontendHandlerを生成する。
func NewFrontendHandler(fetcher ThreadsFetcher, rewriter TreeRewriter, version string, logger *slog.Logger) (*FrontendHandler, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pages := make(map[string]*template.Template)
	for _, name := range []string{pageHome, pageUser, pagePost, pageError} {
		tmpl, err := template.New(name).Funcs(templateFuncs).ParseFS(templatesFS,
			"templates/layout.html",
			"templates/"+name+".html",
		)
		if err != nil {
			return nil, fmt.Errorf("parse template %s: %w", name, err)
		}
		pages[name] = tmpl
	}

	return &FrontendHandler{
		loader:  &threadLoader{fetcher: fetcher, rewriter: rewriter},
		pages:   pages,
		version: version,
		logger:  logger,
	}, nil
}

// StaticHandler は埋め込みの静的ファイルを配信するハンドラーを返す。
// /static/ 配下にマウントする。
func StaticHandler() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.StripPrefix("/static/", http.FileServerFS(sub))
}

// Home はトップページを表示する。
// GET /
func (h *FrontendHandler) Home(w http.ResponseWriter, r *http.Request) {
	h.render(w, r, http.StatusOK, pageHome, &pageData{})
}

// Find は検索クエリを解釈して対応するページへリダイレクトする。
// GET /find?q=
func (h *FrontendHandler) Find(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")

	path, ok := resolveQuery(q)
	if !ok {
		h.renderError(w, r, http.StatusBadRequest, model.NewInvalidQueryError(q), q)
		return
	}

	http.Redirect(w, r, path, http.StatusSeeOther)
}

// User はユーザーページを表示する。
// GET /@{user}
func (h *FrontendHandler) User(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "user")

	user, err := h.loader.user(r.Context(), name)
	if err != nil {
		h.serviceError(w, r, err, model.NewUserNotFoundError(name))
		return
	}

	h.render(w, r, http.StatusOK, pageUser, &pageData{
		Title: fmt.Sprintf("%s (@%s)", user.Name, user.Username),
		User:  user,
	})
}

// Post は投稿スレッドを表示する。
// GET /@{user}/post/{code} と GET /t/{code}
func (h *FrontendHandler) Post(w http.ResponseWriter, r *http.Request) {
	code := chi.URLParam(r, "code")

	post, err := h.loader.post(r.Context(), code)
	if err != nil {
		h.serviceError(w, r, err, model.NewPostNotFoundError(code))
		return
	}

	h.render(w, r, http.StatusOK, pagePost, &pageData{
		Title: fmt.Sprintf("@%s: %s", post.Author.Username, excerpt(post.Body, 60)),
		Post:  post,
	})
}

// NotFound は未定義のパスに対してHTMLの404ページを表示する。
func (h *FrontendHandler) NotFound(w http.ResponseWriter, r *http.Request) {
	h.renderError(w, r, http.StatusNotFound, model.NewNotFoundError(r.URL.Path), "")
}

func (h *FrontendHandler) serviceError(w http.ResponseWriter, r *http.Request, err error, notFound *model.APIError) {
	status, apiErr := classifyError(err, notFound)
	logServiceError(h.logger, r, status, err)
	h.renderError(w, r, status, apiErr, "")
}

func (h *FrontendHandler) renderError(w http.ResponseWriter, r *http.Request, status int, apiErr *model.APIError, query string) {
	w.Header().Set("Cache-Control", "no-store")
	h.render(w, r, status, pageError, &pageData{
		Title:  http.StatusText(status),
		Query:  query,
		Status: status,
		Error:  apiErr,
	})
}

// render はテンプレートをバッファに書き出してからレスポンスを送る。
// 実行に失敗した場合は途中まで書かれたHTMLを返さず500にする。
func (h *FrontendHandler) render(w http.ResponseWriter, r *http.Request, status int, page string, data *pageData) {
	data.Version = h.version

	var buf bytes.Buffer
	if err := h.pages[page].ExecuteTemplate(&buf, "layout", data); err != nil {
		h.logger.Error("テンプレートの実行に失敗しました",
			slog.String("page", page),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}

// excerpt はタイトル用に本文の先頭をrune単位で切り詰める。
func excerpt(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n]) + "…"
}
