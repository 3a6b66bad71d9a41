package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/skypost/internal/auth"
	"github.com/hitoshi/skypost/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	Authenticate(ctx context.Context, identifier, password string) (*model.Profile, error)
	Revoke(ctx context.Context, identifier string) error
}

// AuthHandler はBluesky認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface) *AuthHandler {
	return &AuthHandler{service: service}
}

// loginRequest はログインリクエストのボディ。
type loginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// userResponse はログイン成功時に返すユーザー情報。
type userResponse struct {
	Identifier  string `json:"identifier"`
	DisplayName string `json:"display_name"`
	DID         string `json:"did"`
}

// Login はBlueskyへのログインを処理する。
// POST /api/bluesky/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.Identifier == "" || req.Password == "" {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("identifierとpasswordは必須です"))
		return
	}

	profile, err := h.service.Authenticate(r.Context(), req.Identifier, req.Password)
	if err != nil {
		if errors.Is(err, auth.ErrAuthenticationFailed) {
			slog.Warn("bluesky login rejected",
				slog.String("identifier", req.Identifier),
				slog.String("error", err.Error()),
			)
			writeAPIErrorResponse(w, http.StatusUnauthorized, model.NewAuthFailedError())
			return
		}
		writeInternalError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, userResponse{
		Identifier:  profile.Identifier,
		DisplayName: profile.DisplayName,
		DID:         profile.DID,
	})
}

// logoutRequest はログアウトリクエストのボディ。
type logoutRequest struct {
	Identifier string `json:"identifier"`
}

// Logout はセッションを破棄する。identifierが未指定でも成功として扱う。
// POST /api/bluesky/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req logoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeAPIErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("リクエストボディの解析に失敗しました"))
		return
	}

	if req.Identifier != "" {
		if err := h.service.Revoke(r.Context(), req.Identifier); err != nil {
			writeInternalError(w, err)
			return
		}
	}

	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}
