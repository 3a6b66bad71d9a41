// Package session は認証済みBlueskyハンドルのプロセス内キャッシュを提供する。
// セッションは単一プロセス内のメモリにのみ存在し、再起動で失われる。
package session

import (
	"context"
	"errors"
	"sync"

	"github.com/hitoshi/skypost/internal/bluesky"
)

// ErrSessionNotFound は指定identifierのセッションが存在しないことを示す。
// 呼び出し元はこれを「再ログインが必要」として扱う（一時的なエラーではない）。
var ErrSessionNotFound = errors.New("session not found")

// Handle は認証済みプラットフォームクライアントが満たすインターフェース。
// ログイン成功時に取得され、失効が検出されるまで認証付き呼び出しに使用できる。
type Handle interface {
	// DID はセッションが報告した安定アカウントIDを返す。
	DID() string
	// GetProfile は指定actorのプロフィールを取得する。
	GetProfile(ctx context.Context, actor string) (*bluesky.Profile, error)
	// UploadBlob は画像バイト列をアップロードし、Blob参照を返す。
	UploadBlob(ctx context.Context, data []byte, mimeType string) (*bluesky.Blob, error)
	// CreateRecord は投稿レコードを送信し、採番された参照を返す。
	CreateRecord(ctx context.Context, record *bluesky.PostRecord) (*bluesky.PostRef, error)
}

// Store はidentifierからHandleへのインメモリマップ。
// 1 identifierにつき同時に保持されるHandleは最大1つ（再ログインで上書き）。
// TTLは持たない。失効はハンドルを使った呼び出しが拒否された時点で検出され、
// 呼び出し元がRemoveを呼ぶ。
type Store struct {
	mu      sync.RWMutex
	handles map[string]Handle
}

// NewStore は空のStoreを生成する。
func NewStore() *Store {
	return &Store{
		handles: make(map[string]Handle),
	}
}

// Put はidentifierに対するHandleを登録する。
// 既存のHandleがある場合は上書きする（last-write-wins）。
// 旧Handleのプラットフォーム側セッションは明示的には破棄されない。
func (s *Store) Put(identifier string, handle Handle) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.handles[identifier] = handle
}

// Get はidentifierに対応するHandleを返す。
// 存在しない場合はErrSessionNotFoundを返す。
func (s *Store) Get(identifier string) (Handle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	handle, ok := s.handles[identifier]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return handle, nil
}

// Remove はidentifierのセッションを削除する。存在しない場合は何もしない（冪等）。
func (s *Store) Remove(identifier string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handles, identifier)
}

// Count は現在保持しているセッション数を返す。観測用。
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.handles)
}
