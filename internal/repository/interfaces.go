// Package repository はデータ永続化層のインターフェースと実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/skypost/internal/model"
)

// AccountRepository はBlueskyアカウントの永続化インターフェース。
type AccountRepository interface {
	// FindByIdentifier は指定identifierのアカウントを取得する。
	// 存在しない場合は(nil, nil)を返す。
	FindByIdentifier(ctx context.Context, identifier string) (*model.Account, error)
	// Create はアカウントを新規作成する。
	Create(ctx context.Context, account *model.Account) error
	// Update はアカウントの表示名・DID・認証状態・最終ログイン日時を更新する。
	Update(ctx context.Context, account *model.Account) error
	// SetAuthenticated は指定identifierの認証状態フラグのみを更新する。
	// アカウントが存在しない場合は何もしない。
	SetAuthenticated(ctx context.Context, identifier string, authenticated bool) error
}

// PostRepository は投稿試行記録の永続化インターフェース。
// 成功・失敗どちらの結果も1行として記録する。
type PostRepository interface {
	// Create は投稿試行の記録を保存する。
	Create(ctx context.Context, post *model.Post) error
	// ListByAccountID は指定アカウントの投稿記録を新しい順に取得する。
	ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*model.Post, error)
	// CountByAccountID は指定アカウントの投稿記録の総数を返す。
	CountByAccountID(ctx context.Context, accountID string) (int, error)
	// StatsByAccountID は指定アカウントの投稿統計を返す。
	StatsByAccountID(ctx context.Context, accountID string) (*model.PostStats, error)
}
