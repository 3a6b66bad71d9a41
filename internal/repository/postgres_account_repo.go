package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/skypost/internal/model"
)

// PostgresAccountRepo はPostgreSQLを使用したアカウントリポジトリ。
type PostgresAccountRepo struct {
	db *sql.DB
}

// NewPostgresAccountRepo はPostgresAccountRepoを生成する。
func NewPostgresAccountRepo(db *sql.DB) *PostgresAccountRepo {
	return &PostgresAccountRepo{db: db}
}

// FindByIdentifier は指定identifierのアカウントを取得する。存在しない場合はnilを返す。
func (r *PostgresAccountRepo) FindByIdentifier(ctx context.Context, identifier string) (*model.Account, error) {
	account := &model.Account{}
	err := r.db.QueryRowContext(ctx,
		`SELECT id, identifier, display_name, did, is_authenticated, last_login_at, created_at, updated_at
		 FROM accounts
		 WHERE identifier = $1`,
		identifier,
	).Scan(
		&account.ID, &account.Identifier, &account.DisplayName, &account.DID,
		&account.IsAuthenticated, &account.LastLoginAt, &account.CreatedAt, &account.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find account: %w", err)
	}

	return account, nil
}

// Create はアカウントを新規作成する。
func (r *PostgresAccountRepo) Create(ctx context.Context, account *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO accounts (id, identifier, display_name, did, is_authenticated, last_login_at, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		account.ID, account.Identifier, account.DisplayName, account.DID,
		account.IsAuthenticated, account.LastLoginAt, account.CreatedAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create account: %w", err)
	}
	return nil
}

// Update はアカウントの表示名・DID・認証状態・最終ログイン日時を更新する。
func (r *PostgresAccountRepo) Update(ctx context.Context, account *model.Account) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET display_name = $2, did = $3, is_authenticated = $4, last_login_at = $5, updated_at = $6
		 WHERE id = $1`,
		account.ID, account.DisplayName, account.DID,
		account.IsAuthenticated, account.LastLoginAt, account.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update account: %w", err)
	}
	return nil
}

// SetAuthenticated は指定identifierの認証状態フラグのみを更新する。
func (r *PostgresAccountRepo) SetAuthenticated(ctx context.Context, identifier string, authenticated bool) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE accounts
		 SET is_authenticated = $2, updated_at = now()
		 WHERE identifier = $1`,
		identifier, authenticated,
	)
	if err != nil {
		return fmt.Errorf("failed to update authenticated flag: %w", err)
	}
	return nil
}

// compile-time interface check
var _ AccountRepository = (*PostgresAccountRepo)(nil)
