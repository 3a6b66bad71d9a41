// Package bluesky はAT Protocol (XRPC) 経由でBlueskyを呼び出すクライアントを提供する。
// ログイン・プロフィール取得・Blobアップロード・投稿作成の4種類の呼び出しを扱う。
package bluesky

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"time"
)

const (
	// defaultServiceURL はBluesky公式PDSのXRPCエンドポイント。
	defaultServiceURL = "https://bsky.social/xrpc"
	// defaultTimeout は外部呼び出しのデフォルトタイムアウト。
	defaultTimeout = 30 * time.Second
)

// ErrAuthExpired はキャッシュ済みセッションがプラットフォーム側で
// 失効していたことを示す。呼び出し元はセッションを破棄し再ログインを要求する。
var ErrAuthExpired = errors.New("bluesky session expired")

// Config はClientの設定。
type Config struct {
	// ServiceURL はXRPCエンドポイントのベースURL。空の場合は公式PDSを使用する。
	ServiceURL string
	// Timeout は外部呼び出しのタイムアウト。ゼロの場合はデフォルト値を使用する。
	Timeout time.Duration
}

// Client は認証済みのBlueskyクライアント。
// ログイン成功時に取得したアクセストークンとDIDを保持し、
// 以降の認証付き呼び出し（プロフィール取得・アップロード・投稿）に使用する。
// トークンはログイン時に1回設定されるのみで、以降は読み取り専用。
// トークンのリフレッシュは行わない。失効はErrAuthExpiredとして検出され、
// 呼び出し元が再ログインすることで新しいClientに置き換わる。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger
	baseURL    string

	accessJwt string
	did       string
	handle    string
}

// createSessionRequest はセッション作成リクエストのボディ。
type createSessionRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// createSessionResponse はセッション作成レスポンス。
// refreshJwtも返されるが、リフレッシュを行わないため読み取らない。
type createSessionResponse struct {
	DID       string `json:"did"`
	Handle    string `json:"handle"`
	AccessJwt string `json:"accessJwt"`
}

// Login はidentifier（ハンドルまたはメールアドレス）とアプリパスワードで
// Blueskyにログインし、認証済みClientを返す。
// 認証拒否・ネットワークエラーいずれの場合もエラーを返す（内部でリトライしない）。
func Login(ctx context.Context, cfg Config, logger *slog.Logger, identifier, password string) (*Client, error) {
	baseURL := cfg.ServiceURL
	if baseURL == "" {
		baseURL = defaultServiceURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	c := &Client{
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger,
		baseURL:    baseURL,
	}

	var session createSessionResponse
	err := c.postJSON(ctx, "com.atproto.server.createSession", createSessionRequest{
		Identifier: identifier,
		Password:   password,
	}, false, &session)
	if err != nil {
		return nil, fmt.Errorf("failed to create bluesky session: %w", err)
	}

	c.accessJwt = session.AccessJwt
	c.did = session.DID
	c.handle = session.Handle

	logger.Debug("bluesky session created",
		slog.String("handle", session.Handle),
		slog.String("did", session.DID),
	)

	return c, nil
}

// DID はセッションが報告した安定アカウントIDを返す。
func (c *Client) DID() string {
	return c.did
}

// Handle はセッションが報告したハンドルを返す。
func (c *Client) Handle() string {
	return c.handle
}

// Profile はBlueskyプロフィールを表す。
type Profile struct {
	DID         string `json:"did"`
	Handle      string `json:"handle"`
	DisplayName string `json:"displayName"`
}

// GetProfile は指定actor（DIDまたはハンドル）のプロフィールを取得する。
func (c *Client) GetProfile(ctx context.Context, actor string) (*Profile, error) {
	endpoint := c.baseURL + "/app.bsky.actor.getProfile?actor=" + url.QueryEscape(actor)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.accessJwt)

	var profile Profile
	if err := c.doRequest(req, &profile); err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	return &profile, nil
}

// Blob はアップロード済みメディアへのプラットフォーム側参照。
// レスポンスで受け取った構造をそのまま投稿のembedに埋め込む。
type Blob struct {
	Type     string  `json:"$type"`
	Ref      BlobRef `json:"ref"`
	MimeType string  `json:"mimeType"`
	Size     int64   `json:"size"`
}

// BlobRef はBlobのコンテンツリンク。
type BlobRef struct {
	Link string `json:"$link"`
}

// uploadBlobResponse はBlobアップロードのレスポンス。
type uploadBlobResponse struct {
	Blob Blob `json:"blob"`
}

// UploadBlob は画像バイト列をBlueskyにアップロードし、Blob参照を返す。
func (c *Client) UploadBlob(ctx context.Context, data []byte, mimeType string) (*Blob, error) {
	endpoint := c.baseURL + "/com.atproto.repo.uploadBlob"

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", mimeType)
	req.Header.Set("Authorization", "Bearer "+c.accessJwt)

	var resp uploadBlobResponse
	if err := c.doRequest(req, &resp); err != nil {
		return nil, fmt.Errorf("failed to upload blob: %w", err)
	}

	c.logger.Debug("blob uploaded",
		slog.String("mime_type", resp.Blob.MimeType),
		slog.Int64("size", resp.Blob.Size),
	)

	return &resp.Blob, nil
}

// PostRecord はBluesky投稿レコード（app.bsky.feed.post）を表す。
type PostRecord struct {
	Type      string       `json:"$type"`
	Text      string       `json:"text"`
	CreatedAt string       `json:"createdAt"`
	Embed     *ImagesEmbed `json:"embed,omitempty"`
}

// ImagesEmbed は画像埋め込み（app.bsky.embed.images）を表す。
type ImagesEmbed struct {
	Type   string          `json:"$type"`
	Images []EmbeddedImage `json:"images"`
}

// EmbeddedImage は埋め込み画像1枚分のBlob参照と代替テキスト。
type EmbeddedImage struct {
	Image *Blob  `json:"image"`
	Alt   string `json:"alt"`
}

// PostRef はBluesky側で採番された投稿の参照。
type PostRef struct {
	URI string `json:"uri"`
	CID string `json:"cid"`
}

// createRecordRequest はレコード作成リクエストのボディ。
type createRecordRequest struct {
	Repo       string      `json:"repo"`
	Collection string      `json:"collection"`
	Record     *PostRecord `json:"record"`
}

// CreateRecord は投稿レコードをBlueskyに送信し、採番された参照を返す。
func (c *Client) CreateRecord(ctx context.Context, record *PostRecord) (*PostRef, error) {
	var ref PostRef
	err := c.postJSON(ctx, "com.atproto.repo.createRecord", createRecordRequest{
		Repo:       c.did,
		Collection: "app.bsky.feed.post",
		Record:     record,
	}, true, &ref)
	if err != nil {
		return nil, fmt.Errorf("failed to create record: %w", err)
	}

	c.logger.Info("posted to bluesky",
		slog.String("uri", ref.URI),
		slog.String("cid", ref.CID),
	)

	return &ref, nil
}

// postJSON はJSONボディのXRPC POST呼び出しを実行する。
func (c *Client) postJSON(ctx context.Context, method string, body any, authed bool, out any) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if authed {
		req.Header.Set("Authorization", "Bearer "+c.accessJwt)
	}

	return c.doRequest(req, out)
}

// xrpcError はXRPCのエラーレスポンスボディ。
type xrpcError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest はHTTPリクエストを実行し、2xxならoutにJSONデコードする。
// 失効トークンによる拒否はErrAuthExpiredにマッピングする。
func (c *Client) doRequest(req *http.Request, out any) error {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var xerr xrpcError
		// エラーボディのJSONが壊れていてもステータスで判定できるよう、パース失敗は無視する
		_ = json.Unmarshal(respBody, &xerr)

		if isAuthExpired(resp.StatusCode, xerr.Error) {
			return fmt.Errorf("%w: %s", ErrAuthExpired, xerr.Message)
		}

		c.logger.Warn("bluesky api returned error status",
			slog.Int("http_status", resp.StatusCode),
			slog.String("xrpc_error", xerr.Error),
		)
		if xerr.Error != "" {
			return fmt.Errorf("bluesky api error (status %d): %s: %s", resp.StatusCode, xerr.Error, xerr.Message)
		}
		return fmt.Errorf("bluesky api error (status %d): %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to parse response: %w", err)
		}
	}

	return nil
}

// isAuthExpired はレスポンスが認証失効を示すかを判定する。
func isAuthExpired(statusCode int, xrpcErrName string) bool {
	if statusCode == http.StatusUnauthorized {
		return true
	}
	return xrpcErrName == "ExpiredToken" || xrpcErrName == "InvalidToken"
}
