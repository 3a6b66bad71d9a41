// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, publish, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidRequest    = "INVALID_REQUEST"
	ErrCodeAuthFailed        = "AUTH_FAILED"
	ErrCodeSessionNotFound   = "SESSION_NOT_FOUND"
	ErrCodeAuthExpired       = "AUTH_EXPIRED"
	ErrCodeNotAuthenticated  = "NOT_AUTHENTICATED"
	ErrCodeInvalidPost       = "INVALID_POST"
	ErrCodeImageDecodeFailed = "IMAGE_DECODE_FAILED"
	ErrCodeUploadFailed      = "UPLOAD_FAILED"
	ErrCodeSubmissionFailed  = "SUBMISSION_FAILED"
	ErrCodeUserNotFound      = "USER_NOT_FOUND"
)

// NewInvalidRequestError はリクエスト形式不正エラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("リクエストが不正です: %s", reason),
		Category: "validation",
		Action:   "入力内容を確認してください。",
	}
}

// NewAuthFailedError はBlueskyログイン失敗エラーを生成する。
// 認証情報の誤り・ネットワークエラー・レート制限のいずれもこのエラーになる。
func NewAuthFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  "Blueskyへの認証に失敗しました。",
		Category: "auth",
		Action:   "ハンドルとアプリパスワードを確認して再度ログインしてください。",
	}
}

// NewSessionNotFoundError はセッション未検出エラーを生成する。
func NewSessionNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeSessionNotFound,
		Message:  "有効なセッションが見つかりません。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewAuthExpiredError はセッション失効エラーを生成する。
// キャッシュ済みのハンドルがプラットフォーム側で拒否された場合に使用する。
func NewAuthExpiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthExpired,
		Message:  "Blueskyのセッションが失効しています。",
		Category: "auth",
		Action:   "再度ログインしてください。",
	}
}

// NewNotAuthenticatedError は未ログイン状態での投稿試行エラーを生成する。
func NewNotAuthenticatedError() *APIError {
	return &APIError{
		Code:     ErrCodeNotAuthenticated,
		Message:  "ログインしていません。",
		Category: "auth",
		Action:   "先にログインしてください。",
	}
}

// NewInvalidPostError は投稿本文の検証エラーを生成する。
func NewInvalidPostError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPost,
		Message:  fmt.Sprintf("投稿内容が不正です: %s", reason),
		Category: "validation",
		Action:   "投稿本文は1文字以上300文字以内で入力してください。",
	}
}

// NewImageDecodeFailedError は画像デコード失敗エラーを生成する。
func NewImageDecodeFailedError() *APIError {
	return &APIError{
		Code:     ErrCodeImageDecodeFailed,
		Message:  "画像を読み込めませんでした。",
		Category: "validation",
		Action:   "JPEG、PNG、GIF、WebPいずれかの画像ファイルを指定してください。",
	}
}

// NewUploadFailedError は画像アップロード失敗エラーを生成する。
func NewUploadFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeUploadFailed,
		Message:  fmt.Sprintf("画像のアップロードに失敗しました: %s", reason),
		Category: "publish",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewSubmissionFailedError は投稿送信失敗エラーを生成する。
// 失敗した投稿は履歴に記録される。
func NewSubmissionFailedError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeSubmissionFailed,
		Message:  fmt.Sprintf("投稿の送信に失敗しました: %s", reason),
		Category: "publish",
		Action:   "しばらく待ってから再度お試しください。失敗した投稿は履歴に記録されています。",
	}
}

// NewUserNotFoundError はユーザーが見つからない場合のエラーを生成する。
func NewUserNotFoundError() *APIError {
	return &APIError{
		Code:     ErrCodeUserNotFound,
		Message:  "ユーザーが見つかりません。",
		Category: "auth",
		Action:   "ログインし直してください。",
	}
}
