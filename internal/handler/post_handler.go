package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/hitoshi/skypost/internal/media"
	"github.com/hitoshi/skypost/internal/model"
	"github.com/hitoshi/skypost/internal/publish"
	"github.com/hitoshi/skypost/internal/repository"
	"github.com/hitoshi/skypost/internal/session"
)

const (
	// defaultPageSize は投稿一覧のデフォルト件数。
	defaultPageSize = 50
	// maxPageSize は投稿一覧の最大件数。
	maxPageSize = 100
	// maxPostTextLength は投稿本文の最大文字数（Unicodeスカラ値単位）。
	maxPostTextLength = 300
)

// PublisherInterface は投稿ハンドラーが必要とするパイプラインインターフェース。
type PublisherInterface interface {
	Publish(ctx context.Context, identifier, text string, asset *publish.MediaAsset) (*publish.Outcome, error)
}

// SessionRevoker はセッション失効検出時の破棄処理のインターフェース。
type SessionRevoker interface {
	Revoke(ctx context.Context, identifier string) error
}

// PostHandlerConfig は投稿ハンドラーの設定。
type PostHandlerConfig struct {
	// MaxUploadSize は添付画像の最大バイト数。
	MaxUploadSize int64
	// UploadDir は一時保存先ディレクトリ。空の場合はOSのデフォルト。
	UploadDir string
}

// PostHandler は投稿関連のHTTPハンドラー。
type PostHandler struct {
	publisher   PublisherInterface
	revoker     SessionRevoker
	accountRepo repository.AccountRepository
	postRepo    repository.PostRepository
	config      PostHandlerConfig
}

// NewPostHandler はPostHandlerを生成する。
func NewPostHandler(
	publisher PublisherInterface,
	revoker SessionRevoker,
	accountRepo repository.AccountRepository,
	postRepo repository.PostRepository,
	config PostHandlerConfig,
) *PostHandler {
	return &PostHandler{
		publisher:   publisher,
		revoker:     revoker,
		accountRepo: accountRepo,
		postRepo:    postRepo,
		config:      config,
	}
}

// postResponse は投稿記録のレスポンス。
type postResponse struct {
	ID           string     `json:"id"`
	Text         string     `json:"text"`
	BlueskyURI   string     `json:"bluesky_uri,omitempty"`
	BlueskyCID   string     `json:"bluesky_cid,omitempty"`
	Status       string     `json:"status"`
	ErrorMessage string     `json:"error_message,omitempty"`
	HasImage     bool       `json:"has_image"`
	CreatedAt    time.Time  `json:"created_at"`
	PublishedAt  *time.Time `json:"published_at,omitempty"`
}

// CreatePost は投稿を処理する。本文はフォームフィールドtext、
// 画像はフィールドimageのmultipart/form-dataで受け取る。
// POST /api/bluesky/post
func (h *PostHandler) CreatePost(w http.ResponseWriter, r *http.Request) {
	// フォーム全体のサイズ上限（本文等の余裕として1MB加算）
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadSize+1<<20)
	if err := r.ParseMultipartForm(h.config.MaxUploadSize); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("multipart/form-dataの解析に失敗しました"))
		return
	}

	identifier := r.FormValue("identifier")
	if identifier == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("identifierは必須です"))
		return
	}

	text := r.FormValue("text")
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidPostError("本文が空です"))
		return
	}
	if utf8.RuneCountInString(trimmed) > maxPostTextLength {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidPostError(fmt.Sprintf("本文が%d文字を超えています", maxPostTextLength)))
		return
	}

	account, err := h.accountRepo.FindByIdentifier(r.Context(), identifier)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if account == nil || !account.IsAuthenticated {
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewNotAuthenticatedError())
		return
	}

	asset, err := h.stageUploadedImage(r)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	outcome, err := h.publisher.Publish(r.Context(), identifier, text, asset)
	if err != nil {
		h.handlePublishError(w, r, identifier, err)
		return
	}

	post := h.buildPostRecord(account, trimmed, outcome)
	if err := h.postRepo.Create(r.Context(), post); err != nil {
		// 投稿自体は完了している可能性があるため、記録失敗はログに残して続行する
		slog.Error("failed to save post record",
			slog.String("identifier", identifier),
			slog.String("status", string(outcome.Status)),
			slog.String("error", err.Error()),
		)
	}

	if outcome.Status == model.PostStatusFailed {
		h.respondPublishFailure(w, r, identifier, outcome)
		return
	}

	writeJSON(w, http.StatusOK, toPostResponse(post))
}

// handlePublishError はパイプラインがエラーを返した場合のレスポンスを書き込む。
func (h *PostHandler) handlePublishError(w http.ResponseWriter, r *http.Request, identifier string, err error) {
	switch {
	case errors.Is(err, session.ErrSessionNotFound):
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewSessionNotFoundError())
	case errors.Is(err, publish.ErrInvalidPost):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewInvalidPostError(err.Error()))
	case errors.Is(err, media.ErrUndecodable):
		writeAPIErrorResponse(w, http.StatusBadRequest, model.NewImageDecodeFailedError())
	default:
		writeInternalError(w, err)
	}
}

// respondPublishFailure は失敗Outcomeに対するレスポンスを書き込む。
// セッション失効による失敗の場合はセッションを破棄し、再ログインを要求する。
func (h *PostHandler) respondPublishFailure(w http.ResponseWriter, r *http.Request, identifier string, outcome *publish.Outcome) {
	if outcome.AuthExpired {
		if err := h.revoker.Revoke(r.Context(), identifier); err != nil {
			slog.Error("failed to revoke expired session",
				slog.String("identifier", identifier),
				slog.String("error", err.Error()),
			)
		}
		writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthExpiredError())
		return
	}

	apiErr := model.NewSubmissionFailedError(outcome.Reason)
	if outcome.Stage == publish.StageUpload {
		apiErr = model.NewUploadFailedError(outcome.Reason)
	}
	writeAPIErrorResponse(w, http.StatusBadGateway, apiErr)
}

// buildPostRecord はOutcomeから永続化用の投稿記録を構築する。
func (h *PostHandler) buildPostRecord(account *model.Account, trimmedText string, outcome *publish.Outcome) *model.Post {
	post := &model.Post{
		ID:         uuid.New().String(),
		AccountID:  account.ID,
		Identifier: account.Identifier,
		Text:       trimmedText,
		Status:     outcome.Status,
		HasImage:   outcome.HasImage,
		CreatedAt:  time.Now(),
	}

	if outcome.Status == model.PostStatusPublished {
		publishedAt := outcome.PublishedAt
		post.BlueskyURI = outcome.URI
		post.BlueskyCID = outcome.CID
		post.PublishedAt = &publishedAt
	} else {
		post.ErrorMessage = outcome.Reason
	}

	return post
}

// stageUploadedImage はアップロードされた画像を一時ファイルに保存し、
// パイプラインに渡すMediaAssetを返す。画像が添付されていない場合はnilを返す。
// 保存後の一時ファイルの所有権はパイプラインに移り、投稿試行の終了時に削除される。
func (h *PostHandler) stageUploadedImage(r *http.Request) (*publish.MediaAsset, error) {
	file, _, err := r.FormFile("image")
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read uploaded image: %w", err)
	}
	defer file.Close()

	path, err := saveToTempFile(file, h.config.UploadDir)
	if err != nil {
		return nil, err
	}

	return &publish.MediaAsset{Path: path}, nil
}

// saveToTempFile はアップロードストリームを一時ファイルに書き出す。
func saveToTempFile(file multipart.File, dir string) (string, error) {
	tmp, err := os.CreateTemp(dir, "skypost-upload-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}

	if _, err := io.Copy(tmp, file); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to write uploaded image: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("failed to close temporary file: %w", err)
	}

	return tmp.Name(), nil
}

// postListResponse は投稿一覧のレスポンス。
type postListResponse struct {
	Posts      []postResponse     `json:"posts"`
	Pagination paginationResponse `json:"pagination"`
}

// paginationResponse はページネーション情報。
type paginationResponse struct {
	Page  int `json:"page"`
	Limit int `json:"limit"`
	Total int `json:"total"`
	Pages int `json:"pages"`
}

// ListPosts は指定ユーザーの投稿記録を新しい順に返す。
// GET /api/bluesky/posts/{identifier}?limit=50&page=1
func (h *PostHandler) ListPosts(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	account, err := h.accountRepo.FindByIdentifier(r.Context(), identifier)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if account == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	limit := queryInt(r, "limit", defaultPageSize)
	if limit < 1 {
		limit = defaultPageSize
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	page := queryInt(r, "page", 1)
	if page < 1 {
		page = 1
	}

	posts, err := h.postRepo.ListByAccountID(r.Context(), account.ID, limit, (page-1)*limit)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	total, err := h.postRepo.CountByAccountID(r.Context(), account.ID)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	responses := make([]postResponse, 0, len(posts))
	for _, post := range posts {
		responses = append(responses, toPostResponse(post))
	}

	writeJSON(w, http.StatusOK, postListResponse{
		Posts: responses,
		Pagination: paginationResponse{
			Page:  page,
			Limit: limit,
			Total: total,
			Pages: (total + limit - 1) / limit,
		},
	})
}

// statsResponse は投稿統計のレスポンス。
type statsResponse struct {
	TotalPosts      int    `json:"total_posts"`
	PublishedPosts  int    `json:"published_posts"`
	FailedPosts     int    `json:"failed_posts"`
	PostsWithImages int    `json:"posts_with_images"`
	SuccessRate     string `json:"success_rate"`
}

// GetStats は指定ユーザーの投稿統計を返す。
// GET /api/bluesky/stats/{identifier}
func (h *PostHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	identifier := chi.URLParam(r, "identifier")

	account, err := h.accountRepo.FindByIdentifier(r.Context(), identifier)
	if err != nil {
		writeInternalError(w, err)
		return
	}
	if account == nil {
		writeAPIErrorResponse(w, http.StatusNotFound, model.NewUserNotFoundError())
		return
	}

	stats, err := h.postRepo.StatsByAccountID(r.Context(), account.ID)
	if err != nil {
		writeInternalError(w, err)
		return
	}

	successRate := "0.00"
	if stats.Total > 0 {
		successRate = fmt.Sprintf("%.2f", float64(stats.Published)/float64(stats.Total)*100)
	}

	writeJSON(w, http.StatusOK, statsResponse{
		TotalPosts:      stats.Total,
		PublishedPosts:  stats.Published,
		FailedPosts:     stats.Failed,
		PostsWithImages: stats.WithImages,
		SuccessRate:     successRate,
	})
}

// toPostResponse はmodel.PostをAPIレスポンスに変換する。
func toPostResponse(post *model.Post) postResponse {
	return postResponse{
		ID:           post.ID,
		Text:         post.Text,
		BlueskyURI:   post.BlueskyURI,
		BlueskyCID:   post.BlueskyCID,
		Status:       string(post.Status),
		ErrorMessage: post.ErrorMessage,
		HasImage:     post.HasImage,
		CreatedAt:    post.CreatedAt,
		PublishedAt:  post.PublishedAt,
	}
}

// queryInt はクエリパラメータを整数として取得する。欠落・不正時はデフォルト値を返す。
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
