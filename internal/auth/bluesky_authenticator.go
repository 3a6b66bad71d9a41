package auth

import (
	"context"
	"log/slog"

	"github.com/hitoshi/skypost/internal/bluesky"
	"github.com/hitoshi/skypost/internal/session"
)

// BlueskyAuthenticator はbluesky.ClientによるAuthenticatorの本番実装。
// ログインのたびに新しいClientを生成する（1セッション = 1 Client）。
type BlueskyAuthenticator struct {
	config bluesky.Config
	logger *slog.Logger
}

// NewBlueskyAuthenticator はBlueskyAuthenticatorを生成する。
func NewBlueskyAuthenticator(config bluesky.Config, logger *slog.Logger) *BlueskyAuthenticator {
	return &BlueskyAuthenticator{
		config: config,
		logger: logger,
	}
}

// Login はBlueskyにログインし、認証済みクライアントをハンドルとして返す。
func (a *BlueskyAuthenticator) Login(ctx context.Context, identifier, password string) (session.Handle, error) {
	client, err := bluesky.Login(ctx, a.config, a.logger, identifier, password)
	if err != nil {
		// nilポインタを非nilインターフェースとして返さない
		return nil, err
	}
	return client, nil
}

// compile-time interface check
var _ Authenticator = (*BlueskyAuthenticator)(nil)
