package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/skypost/internal/model"
)

// PostgresPostRepo はPostgreSQLを使用した投稿記録リポジトリ。
type PostgresPostRepo struct {
	db *sql.DB
}

// NewPostgresPostRepo はPostgresPostRepoを生成する。
func NewPostgresPostRepo(db *sql.DB) *PostgresPostRepo {
	return &PostgresPostRepo{db: db}
}

// Create は投稿試行の記録を保存する。
func (r *PostgresPostRepo) Create(ctx context.Context, post *model.Post) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO posts (id, account_id, identifier, text, bluesky_uri, bluesky_cid,
		                    status, error_message, has_image, created_at, published_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		post.ID, post.AccountID, post.Identifier, post.Text, post.BlueskyURI, post.BlueskyCID,
		post.Status, post.ErrorMessage, post.HasImage, post.CreatedAt, post.PublishedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create post record: %w", err)
	}
	return nil
}

// ListByAccountID は指定アカウントの投稿記録を新しい順に取得する。
func (r *PostgresPostRepo) ListByAccountID(ctx context.Context, accountID string, limit, offset int) ([]*model.Post, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, account_id, identifier, text, bluesky_uri, bluesky_cid,
		        status, error_message, has_image, created_at, published_at
		 FROM posts
		 WHERE account_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2 OFFSET $3`,
		accountID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list posts: %w", err)
	}
	defer rows.Close()

	var posts []*model.Post
	for rows.Next() {
		post := &model.Post{}
		if err := rows.Scan(
			&post.ID, &post.AccountID, &post.Identifier, &post.Text,
			&post.BlueskyURI, &post.BlueskyCID, &post.Status, &post.ErrorMessage,
			&post.HasImage, &post.CreatedAt, &post.PublishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan post row: %w", err)
		}
		posts = append(posts, post)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate post rows: %w", err)
	}

	return posts, nil
}

// CountByAccountID は指定アカウントの投稿記録の総数を返す。
func (r *PostgresPostRepo) CountByAccountID(ctx context.Context, accountID string) (int, error) {
	var count int
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*) FROM posts WHERE account_id = $1`,
		accountID,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count posts: %w", err)
	}
	return count, nil
}

// StatsByAccountID は指定アカウントの投稿統計を1クエリで集計する。
func (r *PostgresPostRepo) StatsByAccountID(ctx context.Context, accountID string) (*model.PostStats, error) {
	stats := &model.PostStats{}
	err := r.db.QueryRowContext(ctx,
		`SELECT count(*),
		        count(*) FILTER (WHERE status = 'published'),
		        count(*) FILTER (WHERE status = 'failed'),
		        count(*) FILTER (WHERE has_image)
		 FROM posts
		 WHERE account_id = $1`,
		accountID,
	).Scan(&stats.Total, &stats.Published, &stats.Failed, &stats.WithImages)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate post stats: %w", err)
	}
	return stats, nil
}

// compile-time interface check
var _ PostRepository = (*PostgresPostRepo)(nil)
