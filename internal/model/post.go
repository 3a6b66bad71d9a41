package model

import "time"

// PostStatus は投稿試行の終端状態を表す。
type PostStatus string

const (
	// PostStatusPublished はBlueskyへの投稿が成功したことを示す。
	PostStatusPublished PostStatus = "published"
	// PostStatusFailed はBlueskyへの投稿が失敗したことを示す。
	// 失敗理由はErrorMessageに記録される。
	PostStatusFailed PostStatus = "failed"
)

// Post は1回の投稿試行の記録を表す。
// 成功時はBlueskyURI/BlueskyCID/PublishedAtが、失敗時はErrorMessageが設定される。
// 両方が設定されることはない。
type Post struct {
	ID           string
	AccountID    string
	Identifier   string
	Text         string
	BlueskyURI   string
	BlueskyCID   string
	Status       PostStatus
	ErrorMessage string
	HasImage     bool
	CreatedAt    time.Time
	PublishedAt  *time.Time
}

// PostStats はアカウントごとの投稿統計を表す。
type PostStats struct {
	Total      int
	Published  int
	Failed     int
	WithImages int
}
