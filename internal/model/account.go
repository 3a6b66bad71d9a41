package model

import "time"

// Account はBluesky認証済みアカウントを表す。
// identifierはBlueskyハンドル（例: alice.bsky.social）で一意。
type Account struct {
	ID              string
	Identifier      string
	DisplayName     string
	DID             string // Blueskyの安定アカウントID（did:plc:...）
	IsAuthenticated bool
	LastLoginAt     *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
