// Package auth はBlueskyログインとセッション管理を提供する。
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"

	"github.com/hitoshi/skypost/internal/metrics"
	"github.com/hitoshi/skypost/internal/model"
	"github.com/hitoshi/skypost/internal/repository"
	"github.com/hitoshi/skypost/internal/session"
)

// ErrAuthenticationFailed はBlueskyログインが拒否されたことを示す。
// 認証情報の誤り・ネットワークエラー・レート制限のいずれも区別せずこのエラーになり、
// 内部ではリトライしない。
var ErrAuthenticationFailed = errors.New("bluesky authentication failed")

// Authenticator はBlueskyへのログインを抽象化するインターフェース。
// 本番実装はbluesky.Loginをラップする。テストではモックに差し替える。
type Authenticator interface {
	// Login はidentifierとアプリパスワードでログインし、認証済みハンドルを返す。
	Login(ctx context.Context, identifier, password string) (session.Handle, error)
}

// Service はBluesky認証に関するビジネスロジックを提供する。
type Service struct {
	authenticator Authenticator
	sessions      *session.Store
	accountRepo   repository.AccountRepository
	metrics       metrics.Recorder
	sanitizer     *bluemonday.Policy
}

// NewService はServiceを生成する。
func NewService(
	authenticator Authenticator,
	sessions *session.Store,
	accountRepo repository.AccountRepository,
	recorder metrics.Recorder,
) *Service {
	return &Service{
		authenticator: authenticator,
		sessions:      sessions,
		accountRepo:   accountRepo,
		metrics:       recorder,
		// 表示名は外部プラットフォーム由来のテキストのため、
		// マークアップを除去してから保存・表示する
		sanitizer: bluemonday.StrictPolicy(),
	}
}

// Authenticate はidentifierとアプリパスワードでBlueskyにログインし、
// プロフィールスナップショットを返す。副作用として認証済みハンドルを
// セッションストアに登録し、アカウント行を作成・更新する。
//
// プロフィール取得はベストエフォートであり、失敗してもログインは成功する。
// その場合、表示名はidentifierに、DIDはセッションが報告した値にフォールバックする。
// 同一identifierでの再ログインは既存ハンドルを上書きする（旧ハンドルの
// プラットフォーム側セッションは明示的には破棄されない）。
func (s *Service) Authenticate(ctx context.Context, identifier, password string) (*model.Profile, error) {
	handle, err := s.authenticator.Login(ctx, identifier, password)
	if err != nil {
		s.metrics.RecordLoginFailure()
		return nil, fmt.Errorf("%w: %v", ErrAuthenticationFailed, err)
	}

	profile := s.buildProfileSnapshot(ctx, identifier, handle)

	// ハンドルを登録する。既存エントリはlast-write-winsで上書きされる
	s.sessions.Put(identifier, handle)
	s.metrics.RecordLoginSuccess()
	s.metrics.SetActiveSessions(s.sessions.Count())

	if err := s.upsertAccount(ctx, profile); err != nil {
		return nil, fmt.Errorf("failed to save account: %w", err)
	}

	slog.Info("user authenticated with bluesky",
		slog.String("identifier", identifier),
		slog.String("did", profile.DID),
	)

	return profile, nil
}

// buildProfileSnapshot はログイン直後のプロフィールスナップショットを構築する。
// プロフィール取得失敗はログインの失敗としない（原因はログのみに記録する）。
func (s *Service) buildProfileSnapshot(ctx context.Context, identifier string, handle session.Handle) *model.Profile {
	snapshot := &model.Profile{
		Identifier:  identifier,
		DisplayName: identifier,
		DID:         handle.DID(),
	}

	did := handle.DID()
	if did == "" {
		return snapshot
	}

	profile, err := handle.GetProfile(ctx, did)
	if err != nil {
		slog.Warn("profile fetch failed, falling back to session data",
			slog.String("identifier", identifier),
			slog.String("error", err.Error()),
		)
		return snapshot
	}
	if profile == nil {
		// 不正なレスポンス（エラーなしでプロフィールなし）もフォールバック扱いにする
		slog.Warn("profile response was empty, falling back to session data",
			slog.String("identifier", identifier),
		)
		return snapshot
	}

	displayName := strings.TrimSpace(s.sanitizer.Sanitize(profile.DisplayName))
	if displayName != "" {
		snapshot.DisplayName = displayName
	}
	if profile.DID != "" {
		snapshot.DID = profile.DID
	}

	return snapshot
}

// upsertAccount はアカウント行を作成または更新する。
// 表示名は、プロフィール取得に失敗してidentifierにフォールバックした場合には
// 既存の値を保持する。
func (s *Service) upsertAccount(ctx context.Context, profile *model.Profile) error {
	account, err := s.accountRepo.FindByIdentifier(ctx, profile.Identifier)
	if err != nil {
		return err
	}

	now := time.Now()

	if account == nil {
		account = &model.Account{
			ID:              uuid.New().String(),
			Identifier:      profile.Identifier,
			DisplayName:     profile.DisplayName,
			DID:             profile.DID,
			IsAuthenticated: true,
			LastLoginAt:     &now,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
		return s.accountRepo.Create(ctx, account)
	}

	if profile.DisplayName != profile.Identifier {
		account.DisplayName = profile.DisplayName
	}
	if profile.DID != "" {
		account.DID = profile.DID
	}
	account.IsAuthenticated = true
	account.LastLoginAt = &now
	account.UpdatedAt = now

	return s.accountRepo.Update(ctx, account)
}

// Revoke はidentifierのセッションをストアから削除し、アカウントを未認証状態にする。
// プラットフォーム側のセッションは失効させない（リモートログアウトは行わない。
// 既知の制約であり、トークンは外部で期限切れになるまで有効なまま残る）。
func (s *Service) Revoke(ctx context.Context, identifier string) error {
	s.sessions.Remove(identifier)
	s.metrics.SetActiveSessions(s.sessions.Count())

	if err := s.accountRepo.SetAuthenticated(ctx, identifier, false); err != nil {
		return fmt.Errorf("failed to mark account as logged out: %w", err)
	}

	slog.Info("user session revoked", slog.String("identifier", identifier))
	return nil
}
